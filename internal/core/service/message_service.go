package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/ports"
)

// Counter is the slice of a metrics counter the service needs.
type Counter interface {
	Inc()
}

type nopCounter struct{}

func (nopCounter) Inc() {}

type messageService struct {
	users     ports.UserRepository
	messages  ports.MessageRepository
	deliverer ports.Deliverer
	sent      Counter
	log       zerolog.Logger
	now       func() time.Time
}

// MessageOption configures the message service.
type MessageOption func(*messageService)

// WithSentCounter counts every persisted message on c.
func WithSentCounter(c Counter) MessageOption {
	return func(s *messageService) {
		if c != nil {
			s.sent = c
		}
	}
}

// NewMessageService returns a MessageService implementation.
func NewMessageService(
	users ports.UserRepository,
	messages ports.MessageRepository,
	deliverer ports.Deliverer,
	log zerolog.Logger,
	opts ...MessageOption,
) ports.MessageService {
	s := &messageService{
		users:     users,
		messages:  messages,
		deliverer: deliverer,
		sent:      nopCounter{},
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPartners returns every other user together with the number of unseen
// messages each of them has sent to the caller.
func (s *messageService) ListPartners(ctx context.Context, caller domain.Identity) (*ports.PartnerList, error) {
	users, err := s.users.ListExcept(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}

	unseen, err := s.messages.CountUnseenBySender(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list partners: count unseen: %w", err)
	}

	return &ports.PartnerList{Users: users, Unseen: unseen}, nil
}

// Conversation returns the full history between the caller and otherID.
func (s *messageService) Conversation(ctx context.Context, caller domain.Identity, otherID int64) ([]*domain.Message, error) {
	if otherID <= 0 {
		return nil, domain.ValidationError("invalid user id")
	}

	msgs, err := s.messages.ListConversation(ctx, caller.ID, otherID)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return msgs, nil
}

// Send persists the message and then makes one best-effort attempt to push
// it to the recipient's live connection.
func (s *messageService) Send(ctx context.Context, caller domain.Identity, in ports.SendMessageInput) (*domain.Message, error) {
	if in.RecipientID <= 0 {
		return nil, domain.ValidationError("invalid recipient id")
	}

	msg := &domain.Message{
		SenderID:    caller.ID,
		RecipientID: in.RecipientID,
		Text:        in.Text,
		Image:       strings.TrimSpace(in.Image),
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}
	if msg.IsEmpty() {
		return nil, domain.ValidationError("text or image is required")
	}

	if _, err := s.users.FindByID(ctx, in.RecipientID); err != nil {
		return nil, err
	}

	created, err := s.messages.Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	s.sent.Inc()

	delivered := s.deliverer.Deliver(ctx, created.RecipientID, created)

	s.log.Info().
		Int64("message_id", created.ID).
		Int64("sender_id", created.SenderID).
		Int64("recipient_id", created.RecipientID).
		Bool("delivered", delivered).
		Msg("message sent")

	return created, nil
}

// MarkSeen sets the seen flag. Only the message's recipient may do so.
func (s *messageService) MarkSeen(ctx context.Context, caller domain.Identity, messageID int64) error {
	if messageID <= 0 {
		return domain.ValidationError("invalid message id")
	}

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.RecipientID != caller.ID {
		return domain.ErrForbidden
	}
	if msg.Seen {
		return nil
	}

	if err := s.messages.MarkSeen(ctx, messageID); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}
