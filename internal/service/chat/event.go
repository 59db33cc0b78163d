package chat

import "chathub/internal/session"

// Event is the normalized inbound chat event. The transport adapter
// resolves its platform-specific message types into this one value at the
// boundary; the core never branches on transport subtypes.
type Event struct {
	// User is the sender's platform user id.
	User int64
	// Group is the group id for group events; ignored for private events.
	Group string
	// Private marks a direct message. Private chats get a synthesized
	// per-user scope and behave as singleton single-member groups.
	Private bool
	// Admin is the transport's verdict on whether the sender may manage
	// sessions (platform admin/owner/superuser). Permission evaluation
	// itself is the transport's business.
	Admin bool
}

// Scope resolves the event to its canonical group-scope identifier.
func (e Event) Scope() string {
	if e.Private {
		return session.PrivateScope(e.User)
	}
	return e.Group
}
