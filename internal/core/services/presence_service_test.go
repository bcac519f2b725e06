package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanlink/internal/core/domain"
)

func TestPresence_RegisterDefaultName(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())

	tests := []struct {
		address string
		want    string
	}{
		{"192.168.1.23", "User_23"},
		{"10.0.0.7", "User_7"},
		{"fe80::1", "User_1"},
		{"", "User_guest"},
	}
	for i, tt := range tests {
		peer := f.register(t, "p"+string(rune('a'+i)), tt.address)
		assert.Equal(t, tt.want, peer.DisplayName, tt.address)
		assert.Equal(t, domain.PeerStatusOnline, peer.Status)
		assert.False(t, peer.InCall)
	}
}

func TestPresence_RegisterPublishesRoster(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())

	f.register(t, "a", "192.168.1.2")
	f.register(t, "b", "192.168.1.3")

	assert.Equal(t, 2, f.roster.Count())
	roster := f.roster.Last()
	require.Len(t, roster, 2)
	assert.Equal(t, domain.PeerID("a"), roster[0].ID)
	assert.Equal(t, domain.PeerID("b"), roster[1].ID)
}

func TestPresence_DuplicateIDRejected(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	f.register(t, "a", "192.168.1.2")

	_, _, err := f.presence.Register(context.Background(), "a", "192.168.1.9")
	assert.Error(t, err)
}

func TestPresence_SameAddressKeptWithoutDedupe(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	f.register(t, "a", "192.168.1.2")

	_, evicted, err := f.presence.Register(context.Background(), "b", "192.168.1.2")
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, 2, f.presence.Count(context.Background()))
}

func TestPresence_DedupeByAddressEvictsOlderPeer(t *testing.T) {
	opts := DefaultPresenceOptions()
	opts.DedupeByAddress = true
	f := newRealtimeFixture(t, opts)
	ctx := context.Background()

	f.register(t, "a", "192.168.1.2")
	f.register(t, "c", "192.168.1.3")

	room := domain.NewRoom("room_x", domain.RoomKindChat, time.Now())
	require.NoError(t, f.presence.JoinRoom(ctx, room, "a", "c"))

	_, evicted, err := f.presence.Register(ctx, "b", "192.168.1.2")
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, domain.PeerID("a"), evicted[0].ID)

	_, err = f.presence.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	left := f.notifier.For("c", domain.EventUserLeftRoom)
	require.Len(t, left, 1)
	assert.Equal(t, domain.PeerID("a"), left[0]["sid"])
}

func TestPresence_Rename(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	ctx := context.Background()
	f.register(t, "a", "192.168.1.2")

	peer, err := f.presence.Rename(ctx, "a", "  Alice \n")
	require.NoError(t, err)
	assert.Equal(t, "Alice", peer.DisplayName)
	assert.Equal(t, "Alice", f.roster.Last()[0].DisplayName)

	_, err = f.presence.Rename(ctx, "a", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	peer, err = f.presence.Rename(ctx, "a", strings.Repeat("é", 80))
	require.NoError(t, err)
	assert.Equal(t, 50, len([]rune(peer.DisplayName)))

	_, err = f.presence.Rename(ctx, "missing", "Bob")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
}

func TestPresence_SnapshotExcludes(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	ctx := context.Background()
	f.register(t, "a", "192.168.1.2")
	f.register(t, "b", "192.168.1.3")

	all, err := f.presence.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	others, err := f.presence.Snapshot(ctx, "a")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, domain.PeerID("b"), others[0].ID)
}

func TestPresence_UnregisterNotifiesRoom(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	ctx := context.Background()
	f.register(t, "a", "192.168.1.2")
	f.register(t, "b", "192.168.1.3")

	room := domain.NewRoom("room_ab", domain.RoomKindChat, time.Now())
	require.NoError(t, f.presence.JoinRoom(ctx, room, "a", "b"))

	peer, err := f.presence.Unregister(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("a"), peer.ID)

	left := f.notifier.For("b", domain.EventUserLeftRoom)
	require.Len(t, left, 1)
	assert.Equal(t, "User_2", left[0]["user"])

	members, err := f.presence.RoomMembers(ctx, "room_ab")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"b"}, members)

	require.Len(t, f.roster.Last(), 1)

	_, err = f.presence.Unregister(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
}

func TestPresence_JoinRoomMovesCurrentRoom(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	ctx := context.Background()
	f.register(t, "a", "192.168.1.2")
	f.register(t, "b", "192.168.1.3")
	f.register(t, "c", "192.168.1.4")

	first := domain.NewRoom("room_1", domain.RoomKindChat, time.Now())
	require.NoError(t, f.presence.JoinRoom(ctx, first, "a", "b"))

	second := domain.NewRoom("room_2", domain.RoomKindChat, time.Now())
	require.NoError(t, f.presence.JoinRoom(ctx, second, "a", "c"))

	a, err := f.presence.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("room_2"), a.CurrentRoom)

	members, err := f.presence.RoomMembers(ctx, "room_1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"b"}, members)
	assert.Len(t, f.notifier.For("b", domain.EventPartnerLeftChat), 1)
}

func TestPresence_JoinRoomUnknownMember(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	f.register(t, "a", "192.168.1.2")

	room := domain.NewRoom("room_1", domain.RoomKindChat, time.Now())
	err := f.presence.JoinRoom(context.Background(), room, "a", "ghost")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)

	_, err = f.presence.RoomMembers(context.Background(), "room_1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestPresence_LeaveRoom(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	ctx := context.Background()
	f.register(t, "a", "192.168.1.2")
	f.register(t, "b", "192.168.1.3")
	f.register(t, "c", "192.168.1.4")

	room := domain.NewRoom("room_1", domain.RoomKindChat, time.Now())
	require.NoError(t, f.presence.JoinRoom(ctx, room, "a", "b"))

	_, err := f.presence.LeaveRoom(ctx, "c", "room_1")
	assert.ErrorIs(t, err, domain.ErrNotRoomMember)

	remaining, err := f.presence.LeaveRoom(ctx, "a", "room_1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"b"}, remaining)

	a, _ := f.presence.Get(ctx, "a")
	assert.Empty(t, a.CurrentRoom)

	remaining, err = f.presence.LeaveRoom(ctx, "b", "room_1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	_, err = f.presence.RoomMembers(ctx, "room_1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestPresence_SetInCallPublishesOnce(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	ctx := context.Background()
	f.register(t, "a", "192.168.1.2")
	f.register(t, "b", "192.168.1.3")
	before := f.roster.Count()

	require.NoError(t, f.presence.SetInCall(ctx, true, "a", "b", "ghost"))
	assert.Equal(t, before+1, f.roster.Count())
	for _, p := range f.roster.Last() {
		assert.True(t, p.InCall)
	}

	require.NoError(t, f.presence.SetInCall(ctx, true, "a"))
	assert.Equal(t, before+1, f.roster.Count(), "no change, no publish")
}

func TestPresence_SweepOrphanRooms(t *testing.T) {
	f := newRealtimeFixture(t, DefaultPresenceOptions())
	ctx := context.Background()
	f.register(t, "a", "192.168.1.2")
	f.register(t, "b", "192.168.1.3")
	f.register(t, "c", "192.168.1.4")
	f.register(t, "d", "192.168.1.5")

	require.NoError(t, f.presence.JoinRoom(ctx, domain.NewRoom("room_live", domain.RoomKindChat, time.Now()), "a", "b"))
	require.NoError(t, f.presence.JoinRoom(ctx, domain.NewRoom("room_half", domain.RoomKindChat, time.Now()), "c", "d"))
	_, err := f.presence.Unregister(ctx, "d")
	require.NoError(t, err)

	removed, err := f.presence.SweepOrphanRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.presence.RoomMembers(ctx, "room_half")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	c, _ := f.presence.Get(ctx, "c")
	assert.Empty(t, c.CurrentRoom)

	_, err = f.presence.RoomMembers(ctx, "room_live")
	assert.NoError(t, err)
}
