package models

import (
	"fmt"
	"strings"
)

// SessionRecord is the persisted snapshot of one session. The same shape is
// written to disk, stored in SQL, and rebuilt on process start.
type SessionRecord struct {
	ChatLog       []Message `json:"chat_log"`
	Creator       int64     `json:"creator"`
	Users         []int64   `json:"users"`
	Group         string    `json:"group"`
	Name          string    `json:"name"`
	CreationTime  int64     `json:"creation_time"`
	ChatMemoryMax int       `json:"chat_memory_max"`
	HistoryMax    int       `json:"history_max"`
	BasicLen      int       `json:"basic_len"`
}

// SessionIdentity names one persisted session. Renaming a session changes
// its identity, so the old record must be deleted and a new one written.
type SessionIdentity struct {
	Group        string
	Name         string
	Creator      int64
	CreationTime int64
}

func (r SessionRecord) Identity() SessionIdentity {
	return SessionIdentity{
		Group:        r.Group,
		Name:         r.Name,
		Creator:      r.Creator,
		CreationTime: r.CreationTime,
	}
}

// FileName renders the identity as the backing file name, with path
// separators stripped out of the user-controlled parts.
func (id SessionIdentity) FileName() string {
	return fmt.Sprintf("%s_%s_%d_%d.json",
		sanitize(id.Group), sanitize(id.Name), id.Creator, id.CreationTime)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
}
