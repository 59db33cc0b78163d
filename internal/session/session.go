package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"chathub/internal/gateway"
	"chathub/internal/keypool"
	"chathub/internal/models"
	"chathub/internal/storage"
)

const failReasonLimit = 200

// Session owns one conversation's state: the ordered message history, the
// immutable template prefix, the membership set and the protocol for
// extending the history through the completion gateway. All mutating
// operations run under the session's own lock and persist through the store
// before returning.
type Session struct {
	mu    sync.Mutex
	store storage.Store

	name         string
	creator      int64
	group        string
	creationTime int64

	history  []models.Message
	basicLen int
	users    map[int64]struct{}

	chatMemoryMax int
	historyMax    int
}

func newSession(chatLog []models.Message, creator int64, group, name string, chatMemoryMax, historyMax int, store storage.Store) *Session {
	s := &Session{
		store:         store,
		name:          name,
		creator:       creator,
		group:         group,
		creationTime:  time.Now().Unix(),
		history:       models.CloneMessages(chatLog),
		basicLen:      len(chatLog),
		users:         make(map[int64]struct{}),
		chatMemoryMax: chatMemoryMax,
		historyMax:    historyMax,
	}
	s.persistLocked()
	return s
}

func fromRecord(rec models.SessionRecord, store storage.Store) *Session {
	basicLen := rec.BasicLen
	if basicLen <= 0 || basicLen > len(rec.ChatLog) {
		basicLen = len(rec.ChatLog)
	}
	s := &Session{
		store:         store,
		name:          rec.Name,
		creator:       rec.Creator,
		group:         rec.Group,
		creationTime:  rec.CreationTime,
		history:       models.CloneMessages(rec.ChatLog),
		basicLen:      basicLen,
		users:         make(map[int64]struct{}),
		chatMemoryMax: rec.ChatMemoryMax,
		historyMax:    rec.HistoryMax,
	}
	for _, uid := range rec.Users {
		s.users[uid] = struct{}{}
	}
	return s
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) Creator() int64 { return s.creator }

func (s *Session) Group() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

func (s *Session) CreationTime() int64 { return s.creationTime }

// Prompt returns the first history entry's content, the template preamble
// shown in listings.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ""
	}
	return strings.TrimSpace(s.history[0].Content)
}

// History returns a copy of the full persisted history.
func (s *Session) History() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneMessages(s.history)
}

// BasicLen is the length of the immutable template prefix.
func (s *Session) BasicLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.basicLen
}

// ChatMemory is the bounded window actually sent to the completion API: the
// full template prefix plus the most recent chatMemoryMax entries after it,
// in original order, never overlapping.
func (s *Session) ChatMemory() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatMemoryLocked()
}

func (s *Session) chatMemoryLocked() []models.Message {
	start := len(s.history) - s.chatMemoryMax
	if start < s.basicLen {
		start = s.basicLen
	}
	window := make([]models.Message, 0, s.basicLen+len(s.history)-start)
	window = append(window, s.history[:s.basicLen]...)
	window = append(window, s.history[start:]...)
	return window
}

// Append adds one turn to the history, enforces the hard cap and persists.
// The cap evicts the oldest entries after the template prefix; the prefix
// itself is never trimmed.
func (s *Session) Append(content string, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(content, role)
	s.persistLocked()
}

func (s *Session) appendLocked(content string, role models.Role) {
	s.history = append(s.history, models.Message{Role: role, Content: content})
	for len(s.history) > s.historyMax && len(s.history) > s.basicLen {
		s.history = append(s.history[:s.basicLen], s.history[s.basicLen+1:]...)
	}
}

// Ask runs the completion retry loop: it tries each active key once in the
// pool's current order (shuffled first when load balancing is on), marks a
// key failed on any error and moves to the next, and stops at the first
// success, appending the assistant turn and persisting. When every key is
// exhausted it returns the empty string; this failure class never escapes
// as an error.
func (s *Session) Ask(ctx context.Context, completer gateway.Completer, pool *keypool.Pool, opts gateway.Options, loadBalance bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pool == nil || pool.Len() == 0 {
		log.Printf("no api keys configured, cannot complete for session %q", s.name)
		return ""
	}
	if loadBalance {
		pool.Shuffle()
	}
	keys := pool.ActiveKeys()
	if len(keys) == 0 {
		log.Printf("all api keys marked failed, cannot complete for session %q", s.name)
		return ""
	}

	window := s.chatMemoryLocked()
	for i, key := range keys {
		answer, err := completer.Complete(ctx, key, window, opts)
		if err != nil {
			reason := summarize(err)
			pool.MarkFailed(key, reason)
			log.Printf("api key [%d/%d] %s failed: %s", i+1, len(keys), keypool.Key{Value: key}.Show(), reason)
			continue
		}
		s.appendLocked(answer.Content, answer.Role)
		s.persistLocked()
		return answer.Content
	}
	return ""
}

// AskWithContent appends the user turn, then runs Ask.
func (s *Session) AskWithContent(ctx context.Context, completer gateway.Completer, pool *keypool.Pool, content string, role models.Role, opts gateway.Options, loadBalance bool) string {
	s.mu.Lock()
	s.appendLocked(content, role)
	s.persistLocked()
	s.mu.Unlock()
	return s.Ask(ctx, completer, pool, opts, loadBalance)
}

// Rename changes the display name and with it the persisted identity: the
// old record is removed and a new one written.
func (s *Session) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.identityLocked()
	s.name = name
	if err := s.store.Delete(old); err != nil {
		log.Printf("remove old session record %s: %v", old.FileName(), err)
	}
	s.persistLocked()
}

// AddUser registers a member and persists.
func (s *Session) AddUser(uid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[uid] = struct{}{}
	s.persistLocked()
}

// DelUser removes a member and persists. Unknown users are ignored.
func (s *Session) DelUser(uid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, uid)
	s.persistLocked()
}

// HasUser reports membership.
func (s *Session) HasUser(uid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[uid]
	return ok
}

// Users returns the membership set, sorted for stable output.
func (s *Session) Users() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersLocked()
}

func (s *Session) usersLocked() []int64 {
	out := make([]int64, 0, len(s.users))
	for uid := range s.users {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dump serializes the bounded chat memory window as the exchange format
// accepted back by the import path.
func (s *Session) Dump() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(s.chatMemoryLocked())
	if err != nil {
		return "", fmt.Errorf("dump session: %w", err)
	}
	return string(data), nil
}

// Record snapshots the session in its persisted shape.
func (s *Session) Record() models.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() models.SessionRecord {
	return models.SessionRecord{
		ChatLog:       models.CloneMessages(s.history),
		Creator:       s.creator,
		Users:         s.usersLocked(),
		Group:         s.group,
		Name:          s.name,
		CreationTime:  s.creationTime,
		ChatMemoryMax: s.chatMemoryMax,
		HistoryMax:    s.historyMax,
		BasicLen:      s.basicLen,
	}
}

// Identity names the session's backing record.
func (s *Session) Identity() models.SessionIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identityLocked()
}

func (s *Session) identityLocked() models.SessionIdentity {
	return models.SessionIdentity{
		Group:        s.group,
		Name:         s.name,
		Creator:      s.creator,
		CreationTime: s.creationTime,
	}
}

// persistLocked writes through the store. Write failures are logged; the
// in-memory state stays authoritative for the rest of the process lifetime.
func (s *Session) persistLocked() {
	if err := s.store.Save(s.recordLocked()); err != nil {
		log.Printf("persist session %q: %v", s.name, err)
	}
}

func summarize(err error) string {
	msg := err.Error()
	if len(msg) > failReasonLimit {
		msg = msg[:failReasonLimit]
	}
	return msg
}
