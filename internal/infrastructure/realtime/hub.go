package realtime

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sirpyerre/duochat/internal/api/metrics"
	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/ports"
	"github.com/sirpyerre/duochat/internal/protocol"
)

var _ ports.Deliverer = (*Hub)(nil)

// Mirror receives presence changes after the registry has applied them.
// Implementations must not block.
type Mirror interface {
	Online(userID int64, connID string)
	Offline(userID int64, connID string)
}

type nopMirror struct{}

func (nopMirror) Online(int64, string)  {}
func (nopMirror) Offline(int64, string) {}

type deliveryRequest struct {
	userID  int64
	payload []byte
	result  chan bool
}

// Hub owns every open live connection. All registry mutations and all writes
// to client send buffers happen on the Run goroutine.
type Hub struct {
	registry *Registry

	// Open connections keyed by connection id. Only touched by Run.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	deliver    chan deliveryRequest
	done       chan struct{}

	mirror Mirror
	log    zerolog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithMirror forwards presence changes to m.
func WithMirror(m Mirror) Option {
	return func(h *Hub) {
		if m != nil {
			h.mirror = m
		}
	}
}

func NewHub(registry *Registry, log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan deliveryRequest),
		done:       make(chan struct{}),
		mirror:     nopMirror{},
		log:        log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes hub events until ctx is cancelled. On exit every open
// connection is told to close.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
				metrics.LiveConnections.Dec()
			}
			return

		case c := <-h.register:
			h.clients[c.connID] = c
			metrics.LiveConnections.Inc()

			replaced := h.registry.Register(c.userID, c.connID)
			if replaced == "" {
				metrics.PresenceTransitionsTotal.WithLabelValues("online").Inc()
			}
			metrics.OnlineUsers.Set(float64(h.registry.Len()))
			h.mirror.Online(c.userID, c.connID)

			h.log.Debug().
				Int64("user_id", c.userID).
				Str("conn_id", c.connID).
				Str("replaced", replaced).
				Msg("live connection registered")
			h.broadcastOnline()

		case c := <-h.unregister:
			if h.remove(c) {
				h.broadcastOnline()
			}

		case req := <-h.deliver:
			req.result <- h.push(req.userID, req.payload)
		}
	}
}

// Register hands a new connection to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister tells the hub that a connection has gone away. It is safe to
// call more than once for the same client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver pushes msg to the recipient's current connection. It returns false
// when the recipient is offline, the push could not be queued, or the hub has
// stopped.
func (h *Hub) Deliver(ctx context.Context, recipientID int64, msg *domain.Message) bool {
	payload, err := protocol.Encode(protocol.EventNewMessage, msg)
	if err != nil {
		h.log.Error().Err(err).Int64("message_id", msg.ID).Msg("encode message")
		return false
	}

	req := deliveryRequest{userID: recipientID, payload: payload, result: make(chan bool, 1)}
	select {
	case h.deliver <- req:
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}

	select {
	case ok := <-req.result:
		return ok
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *Hub) IsOnline(userID int64) bool { return h.registry.IsOnline(userID) }

func (h *Hub) Snapshot() []string { return h.registry.Snapshot() }

func (h *Hub) push(userID int64, payload []byte) bool {
	connID, ok := h.registry.ConnectionOf(userID)
	if !ok {
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryOffline).Inc()
		return false
	}
	c, ok := h.clients[connID]
	if !ok {
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryOffline).Inc()
		return false
	}

	select {
	case c.send <- payload:
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryDelivered).Inc()
		return true
	default:
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryDropped).Inc()
		h.log.Warn().Int64("user_id", userID).Str("conn_id", connID).Msg("send buffer full, dropping connection")
		if h.remove(c) {
			h.broadcastOnline()
		}
		return false
	}
}

// remove closes c's send buffer and clears its registry entry. It reports
// whether the online set changed.
func (h *Hub) remove(c *Client) bool {
	if _, ok := h.clients[c.connID]; ok {
		delete(h.clients, c.connID)
		close(c.send)
		metrics.LiveConnections.Dec()
	}

	if !h.registry.Unregister(c.userID, c.connID) {
		return false
	}
	metrics.PresenceTransitionsTotal.WithLabelValues("offline").Inc()
	metrics.OnlineUsers.Set(float64(h.registry.Len()))
	h.mirror.Offline(c.userID, c.connID)

	h.log.Debug().Int64("user_id", c.userID).Str("conn_id", c.connID).Msg("user offline")
	return true
}

// broadcastOnline sends the online set to every open connection. Clients that
// cannot keep up are dropped, which changes the set again, so it repeats
// until a full pass succeeds.
func (h *Hub) broadcastOnline() {
	for {
		payload, err := protocol.Encode(protocol.EventOnlineUsers, h.registry.Snapshot())
		if err != nil {
			h.log.Error().Err(err).Msg("encode online users")
			return
		}

		var slow []*Client
		for _, c := range h.clients {
			select {
			case c.send <- payload:
			default:
				slow = append(slow, c)
			}
		}

		changed := false
		for _, c := range slow {
			h.log.Warn().Int64("user_id", c.userID).Str("conn_id", c.connID).Msg("send buffer full, dropping connection")
			if h.remove(c) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}
