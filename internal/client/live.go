package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/protocol"
)

// LiveHandler receives server pushes. Calls come from the reader
// goroutine, one at a time.
type LiveHandler interface {
	OnlineUsers(ids []string)
	NewMessage(msg *domain.Message)
}

// Live is an open live connection.
type Live struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// DialLive opens the live connection for userID, authenticated by token, and
// starts reading pushes into h. The server refuses a userID that does not
// own the token.
func DialLive(ctx context.Context, baseURL, token string, userID int64, h LiveHandler) (*Live, error) {
	u, err := liveURL(baseURL, userID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "live connection refused"}
		}
		return nil, fmt.Errorf("live: dial: %w", err)
	}

	l := &Live{conn: conn, done: make(chan struct{})}
	go l.read(h)
	return l, nil
}

// Done is closed once the connection is gone.
func (l *Live) Done() <-chan struct{} { return l.done }

// Err reports why the reader stopped; nil after a local Close.
func (l *Live) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close sends a close frame, drops the connection and waits for the
// reader to exit.
func (l *Live) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = l.conn.Close()
	})
	<-l.done
	return err
}

func (l *Live) read(h LiveHandler) {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if !isClosed(err) {
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
			}
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		switch frame.Event {
		case protocol.EventOnlineUsers:
			if ids, err := frame.OnlineUsers(); err == nil {
				h.OnlineUsers(ids)
			}
		case protocol.EventNewMessage:
			if msg, err := frame.Message(); err == nil {
				h.NewMessage(msg)
			}
		}
	}
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}

// liveURL maps http(s)://host to ws(s)://host/socket?userId=<id>. A
// non-positive id leaves the query out.
func liveURL(baseURL string, userID int64) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("live: base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("live: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	if userID > 0 {
		q := u.Query()
		q.Set("userId", strconv.FormatInt(userID, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
