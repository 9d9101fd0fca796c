package domain

import (
	"strings"
	"time"
)

// Message is a single direct message between two users.
//
// The recipient is serialised as "reciverId": that is the field name the
// existing web client reads, so the wire spelling is kept.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"senderId"`
	RecipientID int64     `json:"reciverId"`
	Text        string    `json:"text,omitempty"`
	Image       string    `json:"image,omitempty"`
	Seen        bool      `json:"seen"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Between reports whether the message belongs to the conversation of a and b,
// in either direction.
func (m *Message) Between(a, b int64) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// IsEmpty reports whether the message carries neither text nor an image.
// Whitespace-only text counts as empty.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && m.Image == ""
}
