package models

// Message is one turn of a conversation. Ordering within a history is
// chronological and significant.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CloneMessages deep-copies a message log so seeds never share state.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	cloned := make([]Message, len(msgs))
	copy(cloned, msgs)
	return cloned
}
