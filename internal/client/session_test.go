package client

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type recordingObserver struct {
	mu       sync.Mutex
	presence [][]string
	messages []*domain.Message
	visible  []bool
}

func (o *recordingObserver) PresenceChanged(ids []string) {
	o.mu.Lock()
	o.presence = append(o.presence, ids)
	o.mu.Unlock()
}

func (o *recordingObserver) MessageReceived(m *domain.Message, visible bool) {
	o.mu.Lock()
	o.messages = append(o.messages, m)
	o.visible = append(o.visible, visible)
	o.mu.Unlock()
}

func (o *recordingObserver) received() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

func login(t *testing.T, b *backend, email string, opts ...SessionOption) *Session {
	t.Helper()
	s := NewSession(NewAPI(b.url, nil), opts...)
	_, err := s.Login(context.Background(), email, "pass123")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sortedOnline(s *Session) []string {
	ids := s.Online()
	sort.Strings(ids)
	return ids
}

func id(u *domain.User) string { return strconv.FormatInt(u.ID, 10) }

func TestSession_PresenceFollowsConnections(t *testing.T) {
	b := startBackend(t)
	ann := signup(t, b, "ann@example.com", "Ann").User
	ben := signup(t, b, "ben@example.com", "Ben").User

	obs := &recordingObserver{}
	sa := login(t, b, "ann@example.com", WithObserver(obs))
	sb := login(t, b, "ben@example.com")

	both := []string{id(ann), id(ben)}
	sort.Strings(both)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(both, sortedOnline(sa)) }, waitFor, tick)
	assert.Eventually(t, func() bool { return sb.IsOnline(id(ann)) }, waitFor, tick)

	require.NoError(t, sb.Logout(context.Background()))
	assert.Nil(t, sb.User())
	assert.Empty(t, sb.Online())

	assert.Eventually(t, func() bool { return !sa.IsOnline(id(ben)) }, waitFor, tick)
	assert.Eventually(t, func() bool { return !b.hub.IsOnline(ben.ID) }, waitFor, tick)

	obs.mu.Lock()
	assert.NotEmpty(t, obs.presence)
	obs.mu.Unlock()
}

func TestSession_SendAndReceive(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	ann := signup(t, b, "ann@example.com", "Ann").User
	ben := signup(t, b, "ben@example.com", "Ben").User

	sa := login(t, b, "ann@example.com")
	obs := &recordingObserver{}
	sb := login(t, b, "ben@example.com", WithObserver(obs))
	require.Eventually(t, func() bool { return b.hub.IsOnline(ben.ID) && b.hub.IsOnline(ann.ID) }, waitFor, tick)

	require.NoError(t, sa.Select(ctx, ben.ID))
	saved, err := sa.Send(ctx, "hi", "")
	require.NoError(t, err)
	assert.Positive(t, saved.ID)

	msgs := sa.Messages()
	require.Len(t, msgs, 1, "optimistic copy must be replaced, not duplicated")
	assert.Equal(t, saved.ID, msgs[0].ID)

	// Ben has no conversation open: the push only bumps the unseen count.
	require.Eventually(t, func() bool { return sb.Unseen()[ann.ID] == 1 }, waitFor, tick)
	assert.Empty(t, sb.Messages())

	require.NoError(t, sb.Select(ctx, ann.ID))
	assert.Equal(t, ann.ID, sb.Partner())
	assert.Zero(t, sb.Unseen()[ann.ID])
	require.Len(t, sb.Messages(), 1)

	_, err = sa.Send(ctx, "still there?", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sb.Messages()) == 2 }, waitFor, tick)
	assert.Equal(t, "still there?", sb.Messages()[1].Text)

	require.NoError(t, sb.MarkSeen(ctx, saved.ID))
	assert.True(t, sb.Messages()[0].Seen)

	obs.mu.Lock()
	assert.Equal(t, []bool{false, true}, obs.visible)
	obs.mu.Unlock()
}

func TestSession_PushForOtherConversationIsNotShown(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	ann := signup(t, b, "ann@example.com", "Ann").User
	ben := signup(t, b, "ben@example.com", "Ben").User
	cat := signup(t, b, "cat@example.com", "Cat").User

	obs := &recordingObserver{}
	sa := login(t, b, "ann@example.com", WithObserver(obs))
	sc := login(t, b, "cat@example.com")
	require.Eventually(t, func() bool { return b.hub.IsOnline(ann.ID) }, waitFor, tick)

	require.NoError(t, sa.Select(ctx, ben.ID))
	require.NoError(t, sc.Select(ctx, ann.ID))
	_, err := sc.Send(ctx, "psst", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return obs.received() == 1 }, waitFor, tick)
	assert.Empty(t, sa.Messages())
	assert.Equal(t, int64(1), sa.Unseen()[cat.ID])
}

func TestSession_FailedSendDropsDraft(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	signup(t, b, "ann@example.com", "Ann")

	sa := login(t, b, "ann@example.com")
	require.NoError(t, sa.Select(ctx, 999))

	_, err := sa.Send(ctx, "anyone?", "")
	assert.True(t, IsStatus(err, http.StatusNotFound), "got %v", err)
	assert.Empty(t, sa.Messages())
}

func TestSession_IdentityChangeRebindsLive(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	ann := signup(t, b, "ann@example.com", "Ann").User
	ben := signup(t, b, "ben@example.com", "Ben").User

	s := login(t, b, "ann@example.com")
	require.Eventually(t, func() bool { return b.hub.IsOnline(ann.ID) }, waitFor, tick)
	require.NoError(t, s.Select(ctx, ben.ID))

	_, err := s.Login(ctx, "ben@example.com", "pass123")
	require.NoError(t, err)
	assert.Equal(t, ben.ID, s.User().ID)
	assert.Zero(t, s.Partner(), "conversation belongs to the previous identity")

	assert.Eventually(t, func() bool { return b.hub.IsOnline(ben.ID) && !b.hub.IsOnline(ann.ID) }, waitFor, tick)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{id(ben)}, s.Online()) }, waitFor, tick)
}

func TestSession_Resume(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	res := signup(t, b, "ann@example.com", "Ann")

	s := NewSession(NewAPI(b.url, nil))
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Resume(ctx, "expired")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Nil(t, s.User())

	me, err := s.Resume(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, me.ID)
	assert.Eventually(t, func() bool { return b.hub.IsOnline(me.ID) }, waitFor, tick)
}

func TestSession_RequiresIdentityAndPartner(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	s := NewSession(NewAPI(b.url, nil))

	_, err := s.Partners(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, s.Select(ctx, 1), ErrNotLoggedIn)
	_, err = s.Send(ctx, "hi", "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	signup(t, b, "ann@example.com", "Ann")
	s = login(t, b, "ann@example.com")
	_, err = s.Send(ctx, "hi", "")
	assert.ErrorIs(t, err, ErrNoPartner)
}
