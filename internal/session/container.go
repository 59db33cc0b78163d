package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"chathub/internal/models"
	"chathub/internal/storage"
	"chathub/internal/template"
)

// PrivatePrefix is the scope namespace for private chats. Each private chat
// behaves as a singleton single-member group.
const PrivatePrefix = "Private"

// PrivateScope synthesizes the group-scope identifier for one user's
// private chat.
func PrivateScope(uid int64) string {
	return fmt.Sprintf("%s_%d", PrivatePrefix, uid)
}

// ErrNeedSession signals that a user has no current session in a group. An
// expected condition: callers branch on it to auto-create or prompt.
var ErrNeedSession = errors.New("needs a session")

// promptAck seeds custom-prompt sessions with a one-word assistant
// acknowledgement so the model treats the prompt as accepted.
const promptAck = "ok"

// Container is the single source of truth for which sessions exist and who
// is in which one. It owns the registry, the per-user current-session
// pointers and the per-group admin-only flags, and rebuilds all of it from
// the store at startup.
type Container struct {
	mu    sync.Mutex
	store storage.Store

	sessions []*Session
	usage    map[string]map[int64]*Session

	groupAuth        map[string]bool
	defaultOnlyAdmin bool

	templates *template.Registry

	chatMemoryMax int
	historyMax    int
}

// NewContainer builds an empty registry. Call Load before serving events.
func NewContainer(store storage.Store, templates *template.Registry, chatMemoryMax, historyMax int, defaultOnlyAdmin bool) *Container {
	return &Container{
		store:            store,
		usage:            make(map[string]map[int64]*Session),
		groupAuth:        make(map[string]bool),
		defaultOnlyAdmin: defaultOnlyAdmin,
		templates:        templates,
		chatMemoryMax:    chatMemoryMax,
		historyMax:       historyMax,
	}
}

// Load rebuilds the registry from persisted records: every session is
// reconstructed and each of its stored users gets a usage pointer back to
// it. Records from the legacy shared private scope are migrated to the
// per-user scope.
func (c *Container) Load() error {
	records, err := c.store.LoadAll()
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	auth, err := c.store.LoadGroupAuth()
	if err != nil {
		return fmt.Errorf("load group auth: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupAuth = auth
	for _, rec := range records {
		if rec.Group == PrivatePrefix {
			old := rec.Identity()
			rec.Group = PrivateScope(rec.Creator)
			if err := c.store.Delete(old); err != nil {
				log.Printf("drop legacy record %s: %v", old.FileName(), err)
			}
			if err := c.store.Save(rec); err != nil {
				log.Printf("migrate legacy record %s: %v", old.FileName(), err)
			}
		}
		s := fromRecord(rec, c.store)
		c.sessions = append(c.sessions, s)
		usage := c.groupUsageLocked(s.group)
		for _, uid := range rec.Users {
			usage[uid] = s
		}
	}
	log.Printf("loaded %d sessions", len(c.sessions))
	return nil
}

func (c *Container) groupUsageLocked(gid string) map[int64]*Session {
	usage, ok := c.usage[gid]
	if !ok {
		usage = make(map[int64]*Session)
		c.usage[gid] = usage
	}
	return usage
}

// Create registers a new session seeded with chatLog, points the creator's
// usage at it and adds the creator as the initial member.
func (c *Container) Create(chatLog []models.Message, creator int64, group, name string) *Session {
	s := newSession(chatLog, creator, group, name, c.chatMemoryMax, c.historyMax, c.store)
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.groupUsageLocked(group)[creator] = s
	c.mu.Unlock()
	s.AddUser(creator)
	log.Printf("user %d created session %q in group %s", creator, name, group)
	return s
}

// CreateFromTemplate seeds a session from a registered preset. The seed is
// deep-copied by the registry so templates never share mutable state.
func (c *Container) CreateFromTemplate(id string, creator int64, group string) (*Session, error) {
	preset, err := c.templates.Resolve(id)
	if err != nil {
		return nil, err
	}
	return c.Create(preset.Seed, creator, group, preset.Name), nil
}

// CreateFromPrompt wraps a single user prompt into a two-message seed with
// an assistant acknowledgement sentinel.
func (c *Container) CreateFromPrompt(prompt string, creator int64, group, name string) *Session {
	seed := []models.Message{
		{Role: models.RoleUser, Content: prompt},
		{Role: models.RoleAssistant, Content: promptAck},
	}
	return c.Create(seed, creator, group, name)
}

// CreateFromSession copies the source session's bounded chat memory, not
// its full history, as the seed for a new session.
func (c *Container) CreateFromSession(src *Session, creator int64, group string) *Session {
	return c.Create(src.ChatMemory(), creator, group, src.Name())
}

// CreateFromLog imports a dumped chat log. The dump format and the import
// format are the same shape.
func (c *Container) CreateFromLog(raw string, creator int64, group, name string) (*Session, error) {
	var chatLog []models.Message
	if err := json.Unmarshal([]byte(raw), &chatLog); err != nil {
		return nil, fmt.Errorf("decode chat log: %w", err)
	}
	if len(chatLog) == 0 || chatLog[0].Role == "" {
		return nil, errors.New("chat log is empty or missing roles")
	}
	return c.Create(chatLog, creator, group, name), nil
}

// Join points a user's current-session pointer at target. If the user was
// in a different session in the same group, that membership is removed
// first; a user is never a member of two sessions in one group.
func (c *Container) Join(uid int64, group string, target *Session) {
	c.mu.Lock()
	usage := c.groupUsageLocked(group)
	prev := usage[uid]
	usage[uid] = target
	c.mu.Unlock()

	if prev != nil && prev != target {
		prev.DelUser(uid)
	}
	target.AddUser(uid)
}

// Delete removes the session from the registry, detaches every usage
// pointer in the group that points at it (by identity, not creator) and
// deletes its persisted record.
func (c *Container) Delete(s *Session, group string) {
	c.mu.Lock()
	usage := c.groupUsageLocked(group)
	for uid, cur := range usage {
		if cur == s {
			delete(usage, uid)
		}
	}
	for i, cur := range c.sessions {
		if cur == s {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if err := c.store.Delete(s.Identity()); err != nil {
		log.Printf("delete session record: %v", err)
	}
	log.Printf("deleted session %q in group %s", s.Name(), group)
}

// LookupCurrent returns the user's current session in the group, or
// ErrNeedSession when there is none.
func (c *Container) LookupCurrent(group string, uid int64) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.groupUsageLocked(group)[uid]
	if !ok {
		return nil, fmt.Errorf("%w: group %s user %d", ErrNeedSession, group, uid)
	}
	return s, nil
}

// GroupSessions lists the group's sessions in creation (insertion) order.
// Users address sessions by 1-based position in this listing, so the order
// is load-bearing and recomputed fresh on every call.
func (c *Container) GroupSessions(group string) []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Session
	for _, s := range c.sessions {
		if s.Group() == group {
			out = append(out, s)
		}
	}
	return out
}

// UserSessions lists the sessions a user created in the group, in creation
// order.
func (c *Container) UserSessions(group string, uid int64) []*Session {
	var out []*Session
	for _, s := range c.GroupSessions(group) {
		if s.Creator() == uid {
			out = append(out, s)
		}
	}
	return out
}

// GroupAuth reports whether session management in the group is restricted
// to admins. The first read of an unknown group records the configured
// default.
func (c *Container) GroupAuth(gid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	auth, ok := c.groupAuth[gid]
	if !ok {
		auth = c.defaultOnlyAdmin
		c.groupAuth[gid] = auth
		c.saveGroupAuthLocked()
	}
	return auth
}

// SetGroupAuth updates and persists the group's admin-only flag.
func (c *Container) SetGroupAuth(gid string, onlyAdmin bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupAuth[gid] = onlyAdmin
	c.saveGroupAuthLocked()
}

func (c *Container) saveGroupAuthLocked() {
	if err := c.store.SaveGroupAuth(c.groupAuth); err != nil {
		log.Printf("persist group auth: %v", err)
	}
}

// Flush re-persists every session and the auth map. Called on graceful
// shutdown so the last writes are on disk.
func (c *Container) Flush() {
	c.mu.Lock()
	sessions := make([]*Session, len(c.sessions))
	copy(sessions, c.sessions)
	c.saveGroupAuthLocked()
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.store.Save(s.Record()); err != nil {
			log.Printf("flush session %q: %v", s.Name(), err)
		}
	}
}
