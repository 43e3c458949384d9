package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/chief-of-staff/internal/models"
)

func TestBroadcasterDeliversOnlyToOwner(t *testing.T) {
	b := NewBroadcaster()
	_, mine := b.Subscribe("u1", 4)
	_, theirs := b.Subscribe("u2", 4)

	require.NoError(t, b.Notify(context.Background(), models.Notification{UserID: "u1", Message: "hi"}))

	select {
	case n := <-mine:
		assert.Equal(t, "hi", n.Message)
	default:
		t.Fatal("expected a notification for u1")
	}
	select {
	case n := <-theirs:
		t.Fatalf("u2 received %v", n)
	default:
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe("u1", 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Notify(context.Background(), models.Notification{UserID: "u1"}))
	}
	assert.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe("u1", 1)
	assert.Equal(t, 1, b.Subscribers("u1"))

	b.Unsubscribe("u1", id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers("u1"))

	// Unknown ids are ignored.
	b.Unsubscribe("u1", id)
}
