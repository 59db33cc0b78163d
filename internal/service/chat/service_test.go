package chat

import (
	"context"
	"strings"
	"testing"

	"chathub/internal/gateway"
	"chathub/internal/keypool"
	"chathub/internal/models"
	"chathub/internal/session"
	"chathub/internal/storage"
	"chathub/internal/template"
)

func fixedCompleter(answer string) gateway.Completer {
	return gateway.CompleterFunc(func(ctx context.Context, key string, messages []models.Message, opts gateway.Options) (models.Message, error) {
		return models.Message{Role: models.RoleAssistant, Content: answer}, nil
	})
}

func newTestService(t *testing.T, cfg Config) (*Service, *session.Container) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reg, err := template.Load(t.TempDir())
	if err != nil {
		t.Fatalf("template.Load: %v", err)
	}
	container := session.NewContainer(store, reg, 10, 100, false)
	pool, err := keypool.New([]string{"sk-test-key-000000000001"})
	if err != nil {
		t.Fatalf("keypool.New: %v", err)
	}
	return NewService(container, reg, pool, fixedCompleter("pong"), cfg), container
}

func groupEvent(uid int64) Event {
	return Event{User: uid, Group: "g1"}
}

func TestTalkAutoCreatesFromDefaultTemplate(t *testing.T) {
	svc, container := newTestService(t, Config{AutoCreateAnnounce: true})
	ev := groupEvent(1)

	reply := svc.Talk(context.Background(), ev, "ping")
	if !strings.Contains(reply, "created and joined session") {
		t.Fatalf("missing auto-create announcement: %q", reply)
	}
	if !strings.HasSuffix(reply, "pong") {
		t.Fatalf("missing model answer: %q", reply)
	}
	if _, err := container.LookupCurrent("g1", 1); err != nil {
		t.Fatalf("no session after auto-create: %v", err)
	}

	// second turn reuses the session, no announcement
	reply = svc.Talk(context.Background(), ev, "again")
	if reply != "pong" {
		t.Fatalf("unexpected second reply: %q", reply)
	}
}

func TestTalkWithoutAnnounce(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	reply := svc.Talk(context.Background(), groupEvent(1), "ping")
	if reply != "pong" {
		t.Fatalf("expected bare answer, got %q", reply)
	}
}

func TestTalkRejectsEmptyInput(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	if got := svc.Talk(context.Background(), groupEvent(1), "   "); got != "input cannot be empty" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestTalkReportsExhaustedKeys(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	svc.completer = gateway.CompleterFunc(func(ctx context.Context, key string, messages []models.Message, opts gateway.Options) (models.Message, error) {
		return models.Message{}, gateway.ErrTransport
	})
	reply := svc.Talk(context.Background(), groupEvent(1), "ping")
	if !strings.Contains(reply, "connection failed") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestPrivateChatDisabled(t *testing.T) {
	svc, _ := newTestService(t, Config{AllowPrivate: false})
	ev := Event{User: 1, Private: true}
	if got := svc.Talk(context.Background(), ev, "hi"); got != "private chat is disabled" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if got := svc.NewFromPrompt(ev, "prompt"); got != "private chat is disabled" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestPrivateSingleton(t *testing.T) {
	svc, _ := newTestService(t, Config{AllowPrivate: true})
	ev := Event{User: 1, Private: true}

	if got := svc.NewFromPrompt(ev, "first prompt"); !strings.Contains(got, "created and joined") {
		t.Fatalf("first create failed: %q", got)
	}
	if got := svc.NewFromPrompt(ev, "second prompt"); got != "a private chat already has a session, delete it first" {
		t.Fatalf("singleton not enforced: %q", got)
	}
	if got := svc.Delete(ev); got != "deleted your session" {
		t.Fatalf("private delete failed: %q", got)
	}
	if got := svc.NewFromPrompt(ev, "third prompt"); !strings.Contains(got, "created and joined") {
		t.Fatalf("create after delete failed: %q", got)
	}
}

func TestPrivateScopesAreIsolated(t *testing.T) {
	svc, container := newTestService(t, Config{AllowPrivate: true})
	svc.NewFromPrompt(Event{User: 1, Private: true}, "mine")
	svc.NewFromPrompt(Event{User: 2, Private: true}, "yours")

	if got := len(container.GroupSessions(session.PrivateScope(1))); got != 1 {
		t.Fatalf("user 1 scope has %d sessions", got)
	}
	if got := len(container.GroupSessions(session.PrivateScope(2))); got != 1 {
		t.Fatalf("user 2 scope has %d sessions", got)
	}
}

func TestNewFromTemplateInvalidID(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	got := svc.NewFromTemplate(groupEvent(1), "99")
	if !strings.HasPrefix(got, "invalid template id\n") {
		t.Fatalf("unexpected reply: %q", got)
	}
	if !strings.Contains(got, "Pick a template:") {
		t.Fatalf("reply should include the template menu: %q", got)
	}
}

func TestNewFromPromptTruncatesName(t *testing.T) {
	svc, container := newTestService(t, Config{})
	svc.NewFromPrompt(groupEvent(1), "abcdefghij")
	sess, err := container.LookupCurrent("g1", 1)
	if err != nil {
		t.Fatalf("LookupCurrent: %v", err)
	}
	if sess.Name() != "abcde" {
		t.Fatalf("name not truncated: %q", sess.Name())
	}
}

func TestNewFromJSONValidation(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ev := groupEvent(1)
	if got := svc.NewFromJSON(ev, "{oops"); got != "invalid json chat log" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if got := svc.NewFromJSON(ev, "[]"); got != "invalid json chat log" {
		t.Fatalf("unexpected reply: %q", got)
	}
	raw := `[{"role":"user","content":"seed prompt"},{"role":"assistant","content":"ok"}]`
	if got := svc.NewFromJSON(ev, raw); !strings.Contains(got, `created and joined session "seed "`) {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestJoinAndList(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	svc.NewFromPrompt(groupEvent(1), "alpha")
	svc.NewFromPrompt(groupEvent(2), "bravo")

	list := svc.List(groupEvent(3))
	if !strings.HasPrefix(list, "2 sessions in this group:") {
		t.Fatalf("unexpected list header: %q", list)
	}
	if !strings.Contains(list, "1. alpha") || !strings.Contains(list, "2. bravo") {
		t.Fatalf("missing positions: %q", list)
	}

	if got := svc.Join(groupEvent(3), 2); got != `joined session 2:"bravo"` {
		t.Fatalf("unexpected join reply: %q", got)
	}
	if got := svc.Join(groupEvent(3), 5); got != "index out of range" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if got := svc.Join(Event{User: 3, Private: true}, 1); !strings.Contains(got, "cannot join sessions in a private chat") {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestCopyDetachesFromCurrent(t *testing.T) {
	svc, container := newTestService(t, Config{})
	svc.NewFromPrompt(groupEvent(1), "alpha")
	alpha, _ := container.LookupCurrent("g1", 1)

	svc.Join(groupEvent(2), 1)
	if got := svc.Copy(groupEvent(2), 1); !strings.Contains(got, "created and joined") {
		t.Fatalf("copy failed: %q", got)
	}
	if alpha.HasUser(2) {
		t.Fatalf("copier still a member of the source session")
	}
	cur, err := container.LookupCurrent("g1", 2)
	if err != nil || cur == alpha {
		t.Fatalf("copier not pointed at the copy")
	}
}

func TestWhoAndDump(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ev := groupEvent(1)
	if got := svc.Who(ev); got != "not in any session, create or join one first" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if got := svc.Dump(ev); got != "join a session first" {
		t.Fatalf("unexpected reply: %q", got)
	}

	svc.NewFromPrompt(ev, "alpha")
	if got := svc.Who(ev); !strings.Contains(got, "name:alpha") {
		t.Fatalf("unexpected who reply: %q", got)
	}
	dump := svc.Dump(ev)
	if !strings.Contains(dump, `"role"`) || !strings.Contains(dump, "alpha") {
		t.Fatalf("unexpected dump: %q", dump)
	}
}

func TestDeletePermissions(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	svc.NewFromPrompt(groupEvent(1), "alpha")

	// member but not creator
	svc.Join(groupEvent(2), 1)
	if got := svc.Delete(groupEvent(2)); got != "you are not the session's creator or an admin" {
		t.Fatalf("non-creator deleted the session: %q", got)
	}
	// admin may always delete
	admin := Event{User: 2, Group: "g1", Admin: true}
	if got := svc.Delete(admin); got != "session deleted" {
		t.Fatalf("admin delete failed: %q", got)
	}
}

func TestDeleteAtRespectsGroupAuth(t *testing.T) {
	svc, container := newTestService(t, Config{})
	svc.NewFromPrompt(groupEvent(1), "alpha")
	container.SetGroupAuth("g1", true)

	// creator blocked by admin-only flag
	if got := svc.DeleteAt(groupEvent(1), 1); got != "you are not the session's creator or an admin" {
		t.Fatalf("admin-only flag ignored: %q", got)
	}
	admin := Event{User: 9, Group: "g1", Admin: true}
	if got := svc.DeleteAt(admin, 1); got != "session deleted" {
		t.Fatalf("admin blocked: %q", got)
	}
	if got := svc.DeleteAt(admin, 1); got != "no sessions in this group yet" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestRename(t *testing.T) {
	svc, container := newTestService(t, Config{})
	ev := groupEvent(1)
	svc.NewFromPrompt(ev, "alpha")

	if got := svc.Rename(ev, "  "); got != "name cannot be empty" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if got := svc.Rename(ev, "fresh"); got != `session renamed to "fresh"` {
		t.Fatalf("unexpected reply: %q", got)
	}
	sess, _ := container.LookupCurrent("g1", 1)
	if sess.Name() != "fresh" {
		t.Fatalf("rename not applied: %q", sess.Name())
	}

	svc.Join(groupEvent(2), 1)
	if got := svc.Rename(groupEvent(2), "hijack"); got != "you are not the session's creator or an admin" {
		t.Fatalf("non-creator renamed the session: %q", got)
	}
}

func TestSetGroupAuthAdminOnly(t *testing.T) {
	svc, container := newTestService(t, Config{})
	if got := svc.SetGroupAuth(groupEvent(1), true); got != "only admins can change this" {
		t.Fatalf("unexpected reply: %q", got)
	}
	admin := Event{User: 1, Group: "g1", Admin: true}
	if got := svc.SetGroupAuth(admin, true); got != "session management is now admin-only in this group" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if !container.GroupAuth("g1") {
		t.Fatalf("flag not set")
	}
	if got := svc.SetGroupAuth(Event{User: 1, Private: true, Admin: true}, true); got != "group auth does not apply to private chats" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestKeyOperatorCommands(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	if got := svc.ShowKeys(); !strings.Contains(got, "1 api keys configured") {
		t.Fatalf("unexpected keys listing: %q", got)
	}
	if got := svc.ResetKeys(); got != "all api keys reactivated" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestTruncateNameRunesNotBytes(t *testing.T) {
	if got := truncateName("héllo world"); got != "héllo" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncateName("ab"); got != "ab" {
		t.Fatalf("short names must pass through: %q", got)
	}
}
