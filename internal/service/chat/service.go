package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"chathub/internal/gateway"
	"chathub/internal/keypool"
	"chathub/internal/models"
	"chathub/internal/session"
	"chathub/internal/template"
)

const nameDisplayLimit = 5

const menuText = "Quick start: create a session from a template, then talk.\n" +
	"talk <text>: chat within your current session\n" +
	"new: create a session from a template and join it\n" +
	"new <prompt>: create a session from a custom prompt\n" +
	"import <json>: create a session from a dumped chat log\n" +
	"list: list this group's sessions\n" +
	"join <index>: join a session from the list\n" +
	"cp <index>: copy a session and join the copy\n" +
	"del [index]: delete your current session, or one from the list\n" +
	"rename <name>: rename your current session\n" +
	"who: show your current session\n" +
	"dump: export your current session's context as json"

// Config carries the completion defaults and behavior toggles.
type Config struct {
	Model              string
	Temperature        float32
	MaxTokens          int
	Timeout            time.Duration
	LoadBalance        bool
	AllowPrivate       bool
	AutoCreateAnnounce bool
	DefaultTemplate    string
}

// Service is the event-facing surface of the core: it resolves scopes,
// drives the container and returns plain reply strings for the transport
// to deliver.
type Service struct {
	container *session.Container
	templates *template.Registry
	pool      *keypool.Pool
	completer gateway.Completer
	cfg       Config
}

func NewService(container *session.Container, templates *template.Registry, pool *keypool.Pool, completer gateway.Completer, cfg Config) *Service {
	if cfg.DefaultTemplate == "" {
		cfg.DefaultTemplate = "1"
	}
	return &Service{
		container: container,
		templates: templates,
		pool:      pool,
		completer: completer,
		cfg:       cfg,
	}
}

func (s *Service) opts() gateway.Options {
	return gateway.Options{
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Timeout:     s.cfg.Timeout,
	}
}

func (s *Service) privateRefused(ev Event) (string, bool) {
	if ev.Private && !s.cfg.AllowPrivate {
		return "private chat is disabled", true
	}
	return "", false
}

// canManage applies the management permission rule: admins always may;
// otherwise the group must not be admin-only and the user must be the
// session's creator.
func (s *Service) canManage(ev Event, sess *session.Session) bool {
	if ev.Admin {
		return true
	}
	if s.container.GroupAuth(ev.Scope()) {
		return false
	}
	return sess.Creator() == ev.User
}

// Menu returns the command overview.
func (s *Service) Menu() string {
	return menuText
}

// Templates returns the preset menu.
func (s *Service) Templates() string {
	return s.templates.List()
}

// ShowKeys returns the operator key diagnostic listing.
func (s *Service) ShowKeys() string {
	return s.pool.ShowFailed()
}

// ResetKeys reactivates all failed keys. Operator action.
func (s *Service) ResetKeys() string {
	s.pool.Reset()
	return "all api keys reactivated"
}

// Talk sends one user turn to the current session, creating one from the
// default template when the user has none yet.
func (s *Service) Talk(ctx context.Context, ev Event, content string) string {
	if reply, refused := s.privateRefused(ev); refused {
		return reply
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "input cannot be empty"
	}
	scope := ev.Scope()
	sess, err := s.container.LookupCurrent(scope, ev.User)
	var created string
	if err != nil {
		if !errors.Is(err, session.ErrNeedSession) {
			return "failed to look up your session"
		}
		sess, err = s.container.CreateFromTemplate(s.cfg.DefaultTemplate, ev.User, scope)
		if err != nil {
			log.Printf("auto-create session for user %d: %v", ev.User, err)
			return "no usable default template, create a session first"
		}
		if s.cfg.AutoCreateAnnounce {
			created = fmt.Sprintf("created and joined session %q\n", sess.Name())
		}
	}
	answer := sess.AskWithContent(ctx, s.completer, s.pool, content, models.RoleUser, s.opts(), s.cfg.LoadBalance)
	if answer == "" {
		return created + "connection failed, see logs; try again or delete and recreate the session"
	}
	return created + answer
}

// NewFromTemplate creates a session from preset id and joins the creator.
func (s *Service) NewFromTemplate(ev Event, id string) string {
	if reply, refused := s.privateRefused(ev); refused {
		return reply
	}
	if reply, blocked := s.privateSingleton(ev); blocked {
		return reply
	}
	sess, err := s.container.CreateFromTemplate(id, ev.User, ev.Scope())
	if err != nil {
		if errors.Is(err, template.ErrUnknownTemplate) {
			return "invalid template id\n" + s.templates.List()
		}
		return "failed to create session"
	}
	return fmt.Sprintf("created and joined session %q from template %s", sess.Name(), id)
}

// NewFromPrompt creates a session seeded with a custom prompt.
func (s *Service) NewFromPrompt(ev Event, prompt string) string {
	if reply, refused := s.privateRefused(ev); refused {
		return reply
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "prompt cannot be empty"
	}
	if reply, blocked := s.privateSingleton(ev); blocked {
		return reply
	}
	sess := s.container.CreateFromPrompt(prompt, ev.User, ev.Scope(), truncateName(prompt))
	return fmt.Sprintf("created and joined session %q", sess.Name())
}

// NewFromJSON imports a dumped chat log as a new session.
func (s *Service) NewFromJSON(ev Event, raw string) string {
	if reply, refused := s.privateRefused(ev); refused {
		return reply
	}
	if reply, blocked := s.privateSingleton(ev); blocked {
		return reply
	}
	var peek []models.Message
	if err := json.Unmarshal([]byte(raw), &peek); err != nil || len(peek) == 0 {
		return "invalid json chat log"
	}
	sess, err := s.container.CreateFromLog(raw, ev.User, ev.Scope(), truncateName(peek[0].Content))
	if err != nil {
		return "invalid json chat log"
	}
	return fmt.Sprintf("created and joined session %q", sess.Name())
}

// privateSingleton enforces the one-session rule for private scopes.
func (s *Service) privateSingleton(ev Event) (string, bool) {
	if !ev.Private {
		return "", false
	}
	if _, err := s.container.LookupCurrent(ev.Scope(), ev.User); err == nil {
		return "a private chat already has a session, delete it first", true
	}
	return "", false
}

// Join attaches the user to the group session at the 1-based index.
func (s *Service) Join(ev Event, index int) string {
	if ev.Private {
		return "cannot join sessions in a private chat, use dump to export yours"
	}
	scope := ev.Scope()
	sessions := s.container.GroupSessions(scope)
	if len(sessions) == 0 {
		return "no sessions in this group yet, create one first"
	}
	if index < 1 || index > len(sessions) {
		return "index out of range"
	}
	target := sessions[index-1]
	s.container.Join(ev.User, scope, target)
	return fmt.Sprintf("joined session %d:%q", index, target.Name())
}

// Copy creates a new session from the bounded memory of the session at the
// index and joins the copier.
func (s *Service) Copy(ev Event, index int) string {
	if ev.Private {
		return "cannot copy sessions in a private chat, use dump to export yours"
	}
	scope := ev.Scope()
	sessions := s.container.GroupSessions(scope)
	if len(sessions) == 0 {
		return "no sessions in this group yet, create one first"
	}
	if index < 1 || index > len(sessions) {
		return "index out of range"
	}
	if cur, err := s.container.LookupCurrent(scope, ev.User); err == nil {
		cur.DelUser(ev.User)
	}
	copied := s.container.CreateFromSession(sessions[index-1], ev.User, scope)
	return fmt.Sprintf("created and joined session %q", copied.Name())
}

// List renders the group's sessions with their 1-based positions.
func (s *Service) List(ev Event) string {
	if ev.Private {
		return "a private chat has at most one session, use dump to export it"
	}
	sessions := s.container.GroupSessions(ev.Scope())
	var b strings.Builder
	fmt.Fprintf(&b, "%d sessions in this group:", len(sessions))
	for i, sess := range sessions {
		fmt.Fprintf(&b, "\n%d. %s creator:%d time:%s",
			i+1, sess.Name(), sess.Creator(), formatTime(sess.CreationTime()))
	}
	return b.String()
}

// ListByUser renders the sessions one user created in the group.
func (s *Service) ListByUser(ev Event, uid int64) string {
	if ev.Private {
		return "a private chat has at most one session, use dump to export it"
	}
	sessions := s.container.UserSessions(ev.Scope(), uid)
	var b strings.Builder
	fmt.Fprintf(&b, "user %d created %d sessions in this group:", uid, len(sessions))
	for _, sess := range sessions {
		fmt.Fprintf(&b, "\nname:%s creator:%d time:%s",
			sess.Name(), sess.Creator(), formatTime(sess.CreationTime()))
	}
	return b.String()
}

// Who describes the user's current session.
func (s *Service) Who(ev Event) string {
	sess, err := s.container.LookupCurrent(ev.Scope(), ev.User)
	if err != nil {
		return "not in any session, create or join one first"
	}
	return fmt.Sprintf("current session:\nname:%s\ncreator:%d\ntime:%s\nuse dump to export its context",
		sess.Name(), sess.Creator(), formatTime(sess.CreationTime()))
}

// Dump exports the current session's bounded chat memory as json.
func (s *Service) Dump(ev Event) string {
	sess, err := s.container.LookupCurrent(ev.Scope(), ev.User)
	if err != nil {
		return "join a session first"
	}
	out, err := sess.Dump()
	if err != nil {
		return "failed to export session"
	}
	return out
}

// Delete removes the user's current session, subject to the management
// permission rule.
func (s *Service) Delete(ev Event) string {
	if reply, refused := s.privateRefused(ev); refused {
		return reply
	}
	scope := ev.Scope()
	sess, err := s.container.LookupCurrent(scope, ev.User)
	if err != nil {
		return "not in any session"
	}
	if ev.Private {
		s.container.Delete(sess, scope)
		return "deleted your session"
	}
	if !s.canManage(ev, sess) {
		return "you are not the session's creator or an admin"
	}
	s.container.Delete(sess, scope)
	return "session deleted"
}

// DeleteAt removes the group session at the 1-based index, subject to the
// management permission rule.
func (s *Service) DeleteAt(ev Event, index int) string {
	if ev.Private {
		return s.Delete(ev)
	}
	scope := ev.Scope()
	sessions := s.container.GroupSessions(scope)
	if len(sessions) == 0 {
		return "no sessions in this group yet"
	}
	if index < 1 || index > len(sessions) {
		return "index out of range"
	}
	sess := sessions[index-1]
	if !s.canManage(ev, sess) {
		return "you are not the session's creator or an admin"
	}
	s.container.Delete(sess, scope)
	return "session deleted"
}

// Rename changes the current session's display name, subject to the
// management permission rule.
func (s *Service) Rename(ev Event, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "name cannot be empty"
	}
	sess, err := s.container.LookupCurrent(ev.Scope(), ev.User)
	if err != nil {
		return "not in any session"
	}
	if !ev.Private && !s.canManage(ev, sess) {
		return "you are not the session's creator or an admin"
	}
	sess.Rename(name)
	return fmt.Sprintf("session renamed to %q", name)
}

// SetGroupAuth toggles the group's admin-only management flag.
func (s *Service) SetGroupAuth(ev Event, onlyAdmin bool) string {
	if ev.Private {
		return "group auth does not apply to private chats"
	}
	if !ev.Admin {
		return "only admins can change this"
	}
	s.container.SetGroupAuth(ev.Scope(), onlyAdmin)
	if onlyAdmin {
		return "session management is now admin-only in this group"
	}
	return "session management is now open to everyone in this group"
}

func truncateName(s string) string {
	runes := []rune(s)
	if len(runes) > nameDisplayLimit {
		runes = runes[:nameDisplayLimit]
	}
	return string(runes)
}

func formatTime(epoch int64) string {
	return time.Unix(epoch, 0).Format("2006-01-02 15:04:05")
}
