package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

type MessageRepository struct {
	store *Store
}

const messageColumns = "id, sender_id, recipient_id, text, image, seen, created_at"

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m       domain.Message
		created int64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Text, &m.Image, &m.Seen, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	query := r.store.rebind(`INSERT INTO messages (sender_id, recipient_id, text, image, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)

	var id int64
	err := r.store.db.QueryRowContext(ctx, query,
		m.SenderID, m.RecipientID, m.Text, m.Image, m.Seen, toMillis(m.CreatedAt),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	created := *m
	created.ID = id
	created.CreatedAt = fromMillis(toMillis(m.CreatedAt))
	return &created, nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := r.store.rebind("SELECT " + messageColumns + " FROM messages WHERE id = ?")
	m, err := scanMessage(r.store.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return m, nil
}

// ListConversation returns every message between a and b in either
// direction, oldest first.
func (r *MessageRepository) ListConversation(ctx context.Context, a, b int64) ([]*domain.Message, error) {
	query := r.store.rebind("SELECT " + messageColumns + ` FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at, id`)

	rows, err := r.store.db.QueryContext(ctx, query, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	msgs := make([]*domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return msgs, nil
}

func (r *MessageRepository) MarkSeen(ctx context.Context, id int64) error {
	res, err := r.store.db.ExecContext(ctx, r.store.rebind("UPDATE messages SET seen = ? WHERE id = ?"), true, id)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// CountUnseenBySender groups the recipient's unseen messages by sender.
func (r *MessageRepository) CountUnseenBySender(ctx context.Context, recipientID int64) (map[int64]int64, error) {
	query := r.store.rebind(`SELECT sender_id, COUNT(*) FROM messages
		WHERE recipient_id = ? AND seen = ? GROUP BY sender_id`)

	rows, err := r.store.db.QueryContext(ctx, query, recipientID, false)
	if err != nil {
		return nil, fmt.Errorf("count unseen: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var sender, n int64
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("scan unseen count: %w", err)
		}
		counts[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count unseen: %w", err)
	}
	return counts, nil
}
