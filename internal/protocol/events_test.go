package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

func TestEncode_NewMessageUsesWireFieldNames(t *testing.T) {
	msg := &domain.Message{ID: 5, SenderID: 1, RecipientID: 2, Text: "hi", CreatedAt: time.Unix(0, 0).UTC()}

	b, err := Encode(EventNewMessage, msg)
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"event":"newMessage","data":{"id":5,"senderId":1,"reciverId":2,"text":"hi","seen":false,"createdAt":"1970-01-01T00:00:00Z"}}`,
		string(b))

	f, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, EventNewMessage, f.Event)

	got, err := f.Message()
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestEncode_OnlineUsers(t *testing.T) {
	b, err := Encode(EventOnlineUsers, []string{"1", "2"})
	require.NoError(t, err)

	f, err := Decode(b)
	require.NoError(t, err)
	ids, err := f.OnlineUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"data":[]}`))
	assert.Error(t, err)
}
