package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/sirpyerre/duochat/internal/infrastructure/queue"
)

// DefaultPresenceKey is the hash holding userId -> connectionId for every
// user connected to this instance.
const DefaultPresenceKey = "presence:online"

// deleteIfOwner removes a field only while it still names the given
// connection, so a late disconnect cannot erase a newer connection.
var deleteIfOwner = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// PresenceStore mirrors the in-process presence registry into a Redis hash
// so other tools can observe who is online. The in-process registry stays
// authoritative.
type PresenceStore struct {
	client *redis.Client
	key    string
}

// NewPresenceStore wraps client. An empty key selects DefaultPresenceKey.
func NewPresenceStore(client *redis.Client, key string) *PresenceStore {
	if key == "" {
		key = DefaultPresenceKey
	}
	return &PresenceStore{client: client, key: key}
}

// Apply implements queue.PresenceSink.
func (p *PresenceStore) Apply(ctx context.Context, change queue.PresenceChange) error {
	field := strconv.FormatInt(change.UserID, 10)
	if change.Online {
		if err := p.client.HSet(ctx, p.key, field, change.ConnID).Err(); err != nil {
			return fmt.Errorf("presence online %s: %w", field, err)
		}
		return nil
	}
	if err := deleteIfOwner.Run(ctx, p.client, []string{p.key}, field, change.ConnID).Err(); err != nil {
		return fmt.Errorf("presence offline %s: %w", field, err)
	}
	return nil
}

// Online returns the user ids currently present in the hash.
func (p *PresenceStore) Online(ctx context.Context) ([]string, error) {
	ids, err := p.client.HKeys(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	return ids, nil
}

// Reset clears the hash. The registry starts empty on every process start,
// so the mirror is cleared to match.
func (p *PresenceStore) Reset(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("presence reset: %w", err)
	}
	return nil
}
