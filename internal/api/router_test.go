package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirpyerre/duochat/internal/api/handler"
	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/service"
	"github.com/sirpyerre/duochat/internal/infrastructure/db/sqlstore"
	"github.com/sirpyerre/duochat/internal/infrastructure/realtime"
	"github.com/sirpyerre/duochat/internal/protocol"
)

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

func newTestServer(t *testing.T, tweak func(*RouterConfig)) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := zerolog.Nop()
	tokens := service.NewTokenIssuer("test-secret", time.Hour)
	users, messages := store.Users(), store.Messages()

	hub := realtime.NewHub(realtime.NewRegistry(), log)
	go hub.Run(ctx)

	reg := prometheus.NewRegistry()
	cfg := RouterConfig{
		Log:           log,
		Auth:          service.NewAuthService(users, tokens, log),
		Messages:      service.NewMessageService(users, messages, hub, log),
		Verifier:      service.NewSessionVerifier(tokens, users),
		Live:          realtime.NewUpgrader(hub, nil),
		Health:        map[string]handler.Pinger{"store": store},
		TokenTTL:      time.Hour,
		AuthRateLimit: 0,
		Registerer:    reg,
		Gatherer:      reg,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	srv := httptest.NewServer(NewRouter(cfg))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

type session struct {
	ID    int64
	Token string
}

func (s *testServer) register(t *testing.T, email, name string) session {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/auth/register", "",
		`{"email":"`+email+`","password":"pass123","fullName":"`+name+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out struct {
		User  domain.User `json:"user"`
		Token string      `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)
	return session{ID: out.User.ID, Token: out.Token}
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/socket", h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.Frame) bool) protocol.Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		f, err := protocol.Decode(b)
		require.NoError(t, err)
		if match(f) {
			return f
		}
	}
	t.Fatalf("expected frame never arrived")
	return protocol.Frame{}
}

func onlineIs(want ...string) func(protocol.Frame) bool {
	return func(f protocol.Frame) bool {
		if f.Event != protocol.EventOnlineUsers {
			return false
		}
		ids, err := f.OnlineUsers()
		return err == nil && assert.ObjectsAreEqual(want, ids)
	}
}

func errorBody(t *testing.T, body []byte) handler.ErrorResponse {
	t.Helper()
	var out handler.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestRouter_ChatScenario(t *testing.T) {
	srv := newTestServer(t, nil)

	a := srv.register(t, "a@example.com", "Ann")
	b := srv.register(t, "b@example.com", "Ben")
	aID, bID := strconv.FormatInt(a.ID, 10), strconv.FormatInt(b.ID, 10)

	connA := srv.dial(t, a.Token)
	readUntil(t, connA, onlineIs(aID))
	connB := srv.dial(t, b.Token)
	readUntil(t, connB, onlineIs(aID, bID))
	readUntil(t, connA, onlineIs(aID, bID))

	resp, body := srv.do(t, http.MethodPut, "/api/message/send/"+bID, a.Token, `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var sent struct {
		Success bool            `json:"success"`
		Message json.RawMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &sent))
	require.True(t, sent.Success)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(sent.Message, &msg))
	assert.Equal(t, a.ID, msg.SenderID)
	assert.Equal(t, b.ID, msg.RecipientID)
	assert.Equal(t, "hi", msg.Text)
	assert.False(t, msg.Seen)

	pushed := readUntil(t, connB, func(f protocol.Frame) bool { return f.Event == protocol.EventNewMessage })
	assert.JSONEq(t, string(sent.Message), string(pushed.Data))

	// B sees one unseen message from A.
	resp, body = srv.do(t, http.MethodGet, "/api/message/users", b.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var partners struct {
		Users          []domain.User    `json:"users"`
		UnseenMessages map[string]int64 `json:"unseenMessages"`
	}
	require.NoError(t, json.Unmarshal(body, &partners))
	require.Len(t, partners.Users, 1)
	assert.Equal(t, a.ID, partners.Users[0].ID)
	assert.Equal(t, int64(1), partners.UnseenMessages[aID])

	// The send response is exactly what history returns later.
	resp, body = srv.do(t, http.MethodGet, "/api/message/"+bID, a.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history.Messages, 1)
	assert.JSONEq(t, string(sent.Message), string(history.Messages[0]))
	var stored domain.Message
	require.NoError(t, json.Unmarshal(history.Messages[0], &stored))
	assert.Equal(t, msg.ID, stored.ID)
	assert.Equal(t, msg.SenderID, stored.SenderID)
	assert.Equal(t, msg.RecipientID, stored.RecipientID)
	assert.Equal(t, msg.Text, stored.Text)
	assert.Equal(t, msg.Seen, stored.Seen)
	assert.True(t, msg.CreatedAt.Equal(stored.CreatedAt), "sent %s, stored %s", msg.CreatedAt, stored.CreatedAt)
	assert.Zero(t, msg.CreatedAt.Nanosecond()%int(time.Millisecond))

	msgID := strconv.FormatInt(msg.ID, 10)
	resp, body = srv.do(t, http.MethodPatch, "/api/message/mark/"+msgID, a.Token, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, errorBody(t, body).Success)

	resp, _ = srv.do(t, http.MethodPatch, "/api/message/mark/"+msgID, b.Token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = srv.do(t, http.MethodPatch, "/api/message/mark/"+msgID, b.Token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = srv.do(t, http.MethodGet, "/api/message/"+aID, b.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &conv))
	require.Len(t, conv.Messages, 1)
	assert.True(t, conv.Messages[0].Seen)

	require.NoError(t, connB.Close())
	readUntil(t, connA, onlineIs(aID))
}

func TestRouter_OfflineRecipientStillPersists(t *testing.T) {
	srv := newTestServer(t, nil)
	a := srv.register(t, "a@example.com", "Ann")
	b := srv.register(t, "b@example.com", "Ben")

	resp, body := srv.do(t, http.MethodPut, "/api/message/send/"+strconv.FormatInt(b.ID, 10), a.Token, `{"image":"https://img.example.com/1.png"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = srv.do(t, http.MethodGet, "/api/message/"+strconv.FormatInt(a.ID, 10), b.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "https://img.example.com/1.png")
}

func TestRouter_ErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, nil)
	a := srv.register(t, "a@example.com", "Ann")

	cases := []struct {
		name, method, path, token, body string
		code                            int
		message                         string
	}{
		{"duplicate", http.MethodPost, "/api/auth/register", "", `{"email":"a@example.com","password":"x","fullName":"Dup"}`, http.StatusConflict, "user already exists"},
		{"missing fields", http.MethodPost, "/api/auth/register", "", `{"email":"c@example.com"}`, http.StatusBadRequest, ""},
		{"wrong password", http.MethodPost, "/api/auth/login", "", `{"email":"a@example.com","password":"nope"}`, http.StatusUnauthorized, "invalid credentials"},
		{"unknown email", http.MethodPost, "/api/auth/login", "", `{"email":"z@example.com","password":"pass123"}`, http.StatusUnauthorized, "invalid credentials"},
		{"no token", http.MethodGet, "/api/message/users", "", "", http.StatusUnauthorized, "unauthorized"},
		{"forged token", http.MethodGet, "/api/auth/me", "forged", "", http.StatusUnauthorized, "unauthorized"},
		{"empty message", http.MethodPut, "/api/message/send/1", a.Token, `{"text":"   "}`, http.StatusBadRequest, "text or image is required"},
		{"unknown recipient", http.MethodPut, "/api/message/send/999", a.Token, `{"text":"hi"}`, http.StatusNotFound, "user not found"},
		{"unknown message", http.MethodPatch, "/api/message/mark/999", a.Token, "", http.StatusNotFound, "message not found"},
		{"bad id", http.MethodGet, "/api/message/abc", a.Token, "", http.StatusBadRequest, "id must be a positive integer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := srv.do(t, tc.method, tc.path, tc.token, tc.body)
			require.Equal(t, tc.code, resp.StatusCode, string(body))
			out := errorBody(t, body)
			assert.False(t, out.Success)
			if tc.message != "" {
				assert.Equal(t, tc.message, out.Message)
			} else {
				assert.NotEmpty(t, out.Message)
			}
		})
	}
}

func TestRouter_MeAndLogout(t *testing.T) {
	srv := newTestServer(t, nil)
	a := srv.register(t, "a@example.com", "Ann")

	resp, body := srv.do(t, http.MethodGet, "/api/auth/me", a.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me domain.User
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "a@example.com", me.Email)
	assert.NotContains(t, string(body), "pass")

	resp, _ = srv.do(t, http.MethodPost, "/api/auth/logout", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleared bool
	for _, ck := range resp.Cookies() {
		if ck.Name == "authToken" && ck.Value == "" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout must expire the cookie")
}

func TestRouter_LiveRequiresIdentity(t *testing.T) {
	srv := newTestServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket?userId=1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_AnonymousLive(t *testing.T) {
	srv := newTestServer(t, func(c *RouterConfig) { c.AllowAnonymousLive = true })

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket?userId=42", nil)
	require.NoError(t, err)
	defer conn.Close()

	readUntil(t, conn, onlineIs("42"))
	assert.True(t, srv.hub.IsOnline(42))
}

func TestRouter_AuthRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *RouterConfig) { c.AuthRateLimit = 0.5 })

	login := `{"email":"ghost@example.com","password":"x"}`
	resp, _ := srv.do(t, http.MethodPost, "/api/auth/login", "", login)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := srv.do(t, http.MethodPost, "/api/auth/login", "", login)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, errorBody(t, body).Success)
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, _ := srv.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := srv.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"store":{"status":"ok"}`)

	resp, body = srv.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chat_requests_total")
	assert.Contains(t, string(body), "chat_online_users")
	assert.Contains(t, string(body), "chat_live_connections")
	assert.Contains(t, string(body), "chat_messages_sent_total")

	resp, body = srv.do(t, http.MethodGet, "/swagger/doc.json", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/api/message/send/{id}")
}
