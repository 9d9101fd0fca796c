package ports

import (
	"context"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

// SendMessageInput is the DTO passed from the transport layer to MessageService.Send.
type SendMessageInput struct {
	RecipientID int64
	Text        string
	Image       string
}

// PartnerList is the sidebar view: every other user plus unseen counts per sender.
type PartnerList struct {
	Users  []*domain.User
	Unseen map[int64]int64
}

type MessageService interface {
	ListPartners(ctx context.Context, caller domain.Identity) (*PartnerList, error)
	Conversation(ctx context.Context, caller domain.Identity, otherID int64) ([]*domain.Message, error)
	Send(ctx context.Context, caller domain.Identity, in SendMessageInput) (*domain.Message, error)
	MarkSeen(ctx context.Context, caller domain.Identity, messageID int64) error
}
