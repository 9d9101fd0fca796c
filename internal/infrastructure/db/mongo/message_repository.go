package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

const collectionMessages = "messages"

type MessageRepository struct {
	db  *mongo.Database
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{db: db, col: db.Collection(collectionMessages)}
}

type messageDoc struct {
	ID          int64  `bson:"_id"`
	SenderID    int64  `bson:"sender_id"`
	RecipientID int64  `bson:"recipient_id"`
	Text        string `bson:"text,omitempty"`
	Image       string `bson:"image,omitempty"`
	Seen        bool   `bson:"seen"`
	CreatedAt   int64  `bson:"created_at"`
}

func (d *messageDoc) toDomain() *domain.Message {
	return &domain.Message{
		ID:          d.ID,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		Text:        d.Text,
		Image:       d.Image,
		Seen:        d.Seen,
		CreatedAt:   fromMillis(d.CreatedAt),
	}
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	id, err := nextID(ctx, r.db, collectionMessages)
	if err != nil {
		return nil, err
	}

	doc := messageDoc{
		ID:          id,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Text:        m.Text,
		Image:       m.Image,
		Seen:        m.Seen,
		CreatedAt:   toMillis(m.CreatedAt),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc messageDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return doc.toDomain(), nil
}

// ListConversation returns every message between a and b in either
// direction, oldest first.
func (r *MessageRepository) ListConversation(ctx context.Context, a, b int64) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": a, "recipient_id": b},
		bson.M{"sender_id": b, "recipient_id": a},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}

	msgs := make([]*domain.Message, 0, len(docs))
	for i := range docs {
		msgs = append(msgs, docs[i].toDomain())
	}
	return msgs, nil
}

func (r *MessageRepository) MarkSeen(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// CountUnseenBySender groups the recipient's unseen messages by sender.
func (r *MessageRepository) CountUnseenBySender(ctx context.Context, recipientID int64) (map[int64]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"recipient_id": recipientID, "seen": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$sender_id", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count unseen: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		SenderID int64 `bson:"_id"`
		Count    int64 `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode unseen counts: %w", err)
	}

	counts := make(map[int64]int64, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Count
	}
	return counts, nil
}

// EnsureIndexes creates the indexes used by conversation and unseen lookups.
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "seen", Value: 1}}},
	}
	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}
