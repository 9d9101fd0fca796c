package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

// ErrNotLoggedIn is returned by operations that need an identity.
var ErrNotLoggedIn = errors.New("client: not logged in")

// ErrNoPartner is returned by Send when no conversation is open.
var ErrNoPartner = errors.New("client: no conversation selected")

// Observer is told about state changes caused by server pushes. Methods
// run on the live reader goroutine and must not call back into Session
// methods that dial or fetch.
type Observer interface {
	PresenceChanged(online []string)
	MessageReceived(msg *domain.Message, visible bool)
}

// Dialer opens a live connection. DialLive is the default.
type Dialer func(ctx context.Context, baseURL, token string, userID int64, h LiveHandler) (*Live, error)

// Session is the client-side view of one signed-in user: identity, the
// open conversation, presence and the live connection.
type Session struct {
	api      *API
	dial     Dialer
	observer Observer

	mu       sync.Mutex
	gen      uint64
	user     *domain.User
	live     *Live
	partner  int64
	messages []*domain.Message
	online   map[string]struct{}
	unseen   map[int64]int64
	pending  int64
}

type SessionOption func(*Session)

func WithObserver(o Observer) SessionOption {
	return func(s *Session) { s.observer = o }
}

func WithDialer(d Dialer) SessionOption {
	return func(s *Session) { s.dial = d }
}

func NewSession(api *API, opts ...SessionOption) *Session {
	s := &Session{
		api:    api,
		dial:   DialLive,
		online: map[string]struct{}{},
		unseen: map[int64]int64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	res, err := s.api.Register(ctx, in)
	if err != nil {
		return nil, err
	}
	return res.User, s.switchIdentity(ctx, res.User, res.Token)
}

func (s *Session) Login(ctx context.Context, email, password string) (*domain.User, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return res.User, s.switchIdentity(ctx, res.User, res.Token)
}

// Resume restores a session from a saved token. An expired or unknown
// token leaves the session logged out.
func (s *Session) Resume(ctx context.Context, token string) (*domain.User, error) {
	s.api.SetToken(token)
	me, err := s.api.Me(ctx)
	if err != nil {
		s.api.SetToken("")
		return nil, err
	}
	return me, s.switchIdentity(ctx, me, token)
}

// Logout drops the identity and the live connection. The server call only
// clears the cookie, so its failure is not fatal.
func (s *Session) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)
	if serr := s.switchIdentity(ctx, nil, ""); serr != nil {
		return serr
	}
	return err
}

// Close tears down the live connection without logging out.
func (s *Session) Close() error {
	s.mu.Lock()
	live := s.live
	s.live = nil
	s.gen++
	s.mu.Unlock()

	if live != nil {
		return live.Close()
	}
	return nil
}

// switchIdentity closes the current live connection and opens one for the
// new identity. A nil user leaves the session without one.
func (s *Session) switchIdentity(ctx context.Context, user *domain.User, token string) error {
	s.mu.Lock()
	old := s.live
	s.gen++
	gen := s.gen
	s.live = nil
	s.user = user
	s.partner = 0
	s.messages = nil
	s.online = map[string]struct{}{}
	s.unseen = map[int64]int64{}
	s.mu.Unlock()

	s.api.SetToken(token)
	if old != nil {
		_ = old.Close()
	}
	if user == nil {
		return nil
	}

	live, err := s.dial(ctx, s.api.BaseURL(), token, user.ID, &liveEvents{s: s, gen: gen})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = live.Close()
		return nil
	}
	s.live = live
	s.mu.Unlock()
	return nil
}

// User returns the signed-in user, or nil.
func (s *Session) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Partner returns the id of the open conversation, or zero.
func (s *Session) Partner() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partner
}

// Messages returns a copy of the visible conversation.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

func (s *Session) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// Online returns the last presence snapshot pushed by the server.
func (s *Session) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	return out
}

// Unseen returns unseen counts by sender, as last fetched plus pushes for
// conversations that were not open.
func (s *Session) Unseen() map[int64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int64, len(s.unseen))
	for k, v := range s.unseen {
		out[k] = v
	}
	return out
}

// Partners fetches the sidebar listing and refreshes the unseen counts.
func (s *Session) Partners(ctx context.Context) ([]*domain.User, error) {
	gen, ok := s.current()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	list, err := s.api.Partners(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.unseen = list.Unseen
	}
	s.mu.Unlock()
	return list.Users, nil
}

// Select opens the conversation with partnerID and loads its history.
func (s *Session) Select(ctx context.Context, partnerID int64) error {
	gen, ok := s.current()
	if !ok {
		return ErrNotLoggedIn
	}
	msgs, err := s.api.Conversation(ctx, partnerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil
	}
	s.partner = partnerID
	s.messages = msgs
	delete(s.unseen, partnerID)
	return nil
}

// Send appends an optimistic copy to the open conversation, posts it and
// swaps in the persisted message. On failure the copy is removed.
func (s *Session) Send(ctx context.Context, text, image string) (*domain.Message, error) {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	if s.partner == 0 {
		s.mu.Unlock()
		return nil, ErrNoPartner
	}
	if strings.TrimSpace(text) == "" && strings.TrimSpace(image) == "" {
		s.mu.Unlock()
		return nil, errors.New("client: text or image is required")
	}
	s.pending--
	draft := &domain.Message{
		ID:          s.pending,
		SenderID:    s.user.ID,
		RecipientID: s.partner,
		Text:        text,
		Image:       image,
		CreatedAt:   time.Now().UTC(),
	}
	s.messages = append(s.messages, draft)
	recipient := s.partner
	s.mu.Unlock()

	saved, err := s.api.Send(ctx, recipient, text, image)

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(draft)
	if err != nil {
		if i >= 0 {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
		}
		return nil, err
	}
	if i >= 0 {
		if s.hasID(saved.ID) {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
		} else {
			s.messages[i] = saved
		}
	}
	return saved, nil
}

// MarkSeen marks a received message seen on the server and in the visible
// conversation.
func (s *Session) MarkSeen(ctx context.Context, messageID int64) error {
	if _, ok := s.current(); !ok {
		return ErrNotLoggedIn
	}
	if err := s.api.MarkSeen(ctx, messageID); err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range s.messages {
		if m.ID == messageID {
			m.Seen = true
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) current() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, s.user != nil
}

func (s *Session) indexOf(m *domain.Message) int {
	for i, cur := range s.messages {
		if cur == m {
			return i
		}
	}
	return -1
}

func (s *Session) hasID(id int64) bool {
	for _, m := range s.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// liveEvents routes pushes from one live connection into the session.
// Pushes from a connection that belongs to a previous identity are ignored.
type liveEvents struct {
	s   *Session
	gen uint64
}

func (e *liveEvents) OnlineUsers(ids []string) {
	s := e.s
	s.mu.Lock()
	if s.gen != e.gen {
		s.mu.Unlock()
		return
	}
	online := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		online[id] = struct{}{}
	}
	s.online = online
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.PresenceChanged(ids)
	}
}

func (e *liveEvents) NewMessage(msg *domain.Message) {
	s := e.s
	s.mu.Lock()
	if s.gen != e.gen || s.user == nil {
		s.mu.Unlock()
		return
	}
	visible := s.partner != 0 && msg.Between(s.user.ID, s.partner)
	switch {
	case visible:
		if !s.hasID(msg.ID) {
			s.messages = append(s.messages, msg)
		}
	case msg.RecipientID == s.user.ID:
		s.unseen[msg.SenderID]++
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.MessageReceived(msg, visible)
	}
}
