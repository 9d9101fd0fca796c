package queue

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// PresenceChange is one transition of a user's live connection.
type PresenceChange struct {
	UserID int64
	ConnID string
	Online bool
}

// PresenceSink applies presence changes to an external store.
type PresenceSink interface {
	Apply(ctx context.Context, change PresenceChange) error
}

// Dispatcher routes presence changes to a fixed set of workers by hashing the
// user id, so changes for one user are applied in the order they happened.
type Dispatcher struct {
	workers []chan PresenceChange
	sink    PresenceSink
	log     zerolog.Logger
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, sink PresenceSink, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan PresenceChange, numWorkers),
		sink:    sink,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan PresenceChange, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands a change to the worker responsible for its user. It never
// blocks: when that worker's buffer is full the change is dropped and
// Enqueue returns false.
func (d *Dispatcher) Enqueue(change PresenceChange) bool {
	select {
	case d.workers[d.shardIndex(change.UserID)] <- change:
		return true
	default:
		d.log.Warn().
			Int64("user_id", change.UserID).
			Bool("online", change.Online).
			Msg("presence queue full, change dropped")
		return false
	}
}

func (d *Dispatcher) Online(userID int64, connID string) {
	d.Enqueue(PresenceChange{UserID: userID, ConnID: connID, Online: true})
}

func (d *Dispatcher) Offline(userID int64, connID string) {
	d.Enqueue(PresenceChange{UserID: userID, ConnID: connID, Online: false})
}

// shardIndex maps a user id deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan PresenceChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if err := d.sink.Apply(ctx, change); err != nil {
				d.log.Error().Err(err).
					Int64("user_id", change.UserID).
					Int("worker_id", id).
					Msg("presence mirror update failed")
			}
		}
	}
}
