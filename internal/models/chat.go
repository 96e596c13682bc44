package models

// MessageType тип события чата
type MessageType string

const (
	// MessageTypeChat обычное сообщение
	MessageTypeChat MessageType = "CHAT"
	// MessageTypeJoin пользователь вошел в чат
	MessageTypeJoin MessageType = "JOIN"
	// MessageTypeLeave пользователь покинул чат
	MessageTypeLeave MessageType = "LEAVE"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeChat, MessageTypeJoin, MessageTypeLeave:
		return true
	default:
		return false
	}
}

// ChatMessage представляет событие чата.
// Sender всегда перезаписывается на сервере из identity соединения.
type ChatMessage struct {
	Content   string      `json:"content"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient,omitempty"`
	Type      MessageType `json:"type"`
}

// IsPrivate reports whether the message is addressed to a single recipient.
func (m ChatMessage) IsPrivate() bool {
	return m.Recipient != ""
}
