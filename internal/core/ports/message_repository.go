package ports

import (
	"context"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

// MessageRepository persists direct messages.
type MessageRepository interface {
	// Create inserts the message and fills in ID and CreatedAt.
	Create(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	FindByID(ctx context.Context, id int64) (*domain.Message, error)
	// ListConversation returns every message exchanged between a and b in
	// either direction, oldest first.
	ListConversation(ctx context.Context, a, b int64) ([]*domain.Message, error)
	// MarkSeen flips the seen flag. Marking an already seen message is not an error.
	MarkSeen(ctx context.Context, id int64) error
	// CountUnseenBySender returns senderID -> number of unseen messages
	// addressed to recipientID. Senders with nothing unseen are omitted.
	CountUnseenBySender(ctx context.Context, recipientID int64) (map[int64]int64, error)
}
