package signal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanlink/internal/core/domain"
)

func decodeQueued(t *testing.T, c *client) (string, map[string]interface{}) {
	t.Helper()
	select {
	case raw := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		var data map[string]interface{}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		return env.Event, data
	default:
		t.Fatal("nothing queued")
		return "", nil
	}
}

func TestHub_NotifyUnknownPeer(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	err := hub.Notify(context.Background(), "nobody", domain.Event{Name: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestHub_NotifyBufferFull(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	c := newClient("p1", 1)
	hub.add(c)

	ctx := context.Background()
	require.NoError(t, hub.Notify(ctx, "p1", domain.Event{Name: "first"}))
	err := hub.Notify(ctx, "p1", domain.Event{Name: "second"})
	assert.ErrorIs(t, err, ErrSendBufferFull)

	event, _ := decodeQueued(t, c)
	assert.Equal(t, "first", event)
}

func TestHub_PublishRosterExcludesSelf(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	a, b := newClient("a", 4), newClient("b", 4)
	hub.add(a)
	hub.add(b)

	hub.PublishRoster(context.Background(), []domain.PeerSummary{
		{ID: "a", DisplayName: "Alice", Status: domain.PeerStatusOnline},
		{ID: "b", DisplayName: "Bob", Status: domain.PeerStatusOnline},
	})

	event, data := decodeQueued(t, a)
	assert.Equal(t, domain.EventOnlineUsersList, event)
	users := data["users"].([]interface{})
	require.Len(t, users, 1)
	assert.Equal(t, "b", users[0].(map[string]interface{})["sid"])

	_, data = decodeQueued(t, b)
	users = data["users"].([]interface{})
	require.Len(t, users, 1)
	assert.Equal(t, "Alice", users[0].(map[string]interface{})["username"])
}

func TestHub_ReplacedClientIsClosed(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	old, cur := newClient("p1", 1), newClient("p1", 1)
	hub.add(old)
	hub.add(cur)

	select {
	case <-old.done:
	default:
		t.Fatal("old client should be closed")
	}

	// Removing the stale client must not drop the live one.
	hub.remove(old)
	assert.True(t, hub.IsPeerConnected("p1"))
	assert.Equal(t, 1, hub.Count())

	assert.ErrorIs(t, old.enqueue([]byte("x")), ErrNotConnected)
}

func TestHub_Disconnect(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	c := newClient("p1", 1)
	hub.add(c)

	assert.True(t, hub.Disconnect("p1"))
	assert.False(t, hub.Disconnect("p2"))
	select {
	case <-c.done:
	default:
		t.Fatal("client should be closed")
	}
}
