// Package protocol defines the frames exchanged over a live connection.
//
// Every frame is a JSON object {"event": <name>, "data": <payload>}. The
// server pushes two events:
//
//	getOnlineUsers  data: ["1","2",...]   full online set, on every presence change
//	newMessage      data: domain.Message  to the recipient's connection only
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

// Frame is the envelope of every pushed event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode marshals data into a frame named event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Decode parses a frame. The payload is left raw for the caller.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}

// OnlineUsers extracts the payload of a getOnlineUsers frame.
func (f Frame) OnlineUsers() ([]string, error) {
	var ids []string
	if err := json.Unmarshal(f.Data, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EventOnlineUsers, err)
	}
	return ids, nil
}

// Message extracts the payload of a newMessage frame.
func (f Frame) Message() (*domain.Message, error) {
	var m domain.Message
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EventNewMessage, err)
	}
	return &m, nil
}
