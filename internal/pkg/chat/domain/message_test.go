package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewMessageTrimsAndValidates(t *testing.T) {
	msg, err := NewMessage(Message{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Body:           "  hello  ",
	})
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Body)
	require.False(t, msg.CreatedAt.IsZero())
}

func TestNewMessageRejectsBlankBody(t *testing.T) {
	for _, body := range []string{"", "   ", "\n\t "} {
		_, err := NewMessage(Message{ConversationID: "conv-1", SenderID: "alice", Body: body})
		require.ErrorIs(t, err, ErrEmptyMessage)
	}
}

func TestNewMessageRequiresConversationAndSender(t *testing.T) {
	_, err := NewMessage(Message{SenderID: "alice", Body: "hi"})
	require.ErrorIs(t, err, ErrInvalidConversation)

	_, err = NewMessage(Message{ConversationID: "conv-1", Body: "hi"})
	require.ErrorIs(t, err, ErrInvalidConversation)
}

func TestBeforeOrdersByTimeThenID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := Message{ID: "z", CreatedAt: at}
	later := Message{ID: "a", CreatedAt: at.Add(time.Second)}

	require.True(t, earlier.Before(later))
	require.False(t, later.Before(earlier))

	// Same instant falls back to id comparison.
	tieA := Message{ID: "a", CreatedAt: at}
	tieB := Message{ID: "b", CreatedAt: at}
	require.True(t, tieA.Before(tieB))
	require.False(t, tieB.Before(tieA))
}
