package ports

import (
	"context"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

// Deliverer pushes a persisted message to the recipient's live connection.
// It reports whether a connection was found; false is not an error.
type Deliverer interface {
	Deliver(ctx context.Context, recipientID int64, msg *domain.Message) bool
}
