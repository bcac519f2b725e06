package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanlink/internal/core/domain"
	"lanlink/internal/infrastructure/repositories/memory"
)

func TestForward_DeliversOpaquePayload(t *testing.T) {
	f := newPair(t)
	ctx := context.Background()

	tests := []struct {
		kind  domain.SignalKind
		event string
		field string
	}{
		{domain.SignalOffer, domain.EventWebRTCOffer, "offer"},
		{domain.SignalAnswer, domain.EventWebRTCAnswer, "answer"},
		{domain.SignalICECandidate, domain.EventWebRTCICECandidate, "candidate"},
	}
	for _, tt := range tests {
		payload := json.RawMessage(`{"sdp":"v=0","anything":[1,2,3]}`)
		require.NoError(t, f.relay.Forward(ctx, tt.kind, "s1", "s2", payload))

		got := f.notifier.For("s2", tt.event)
		require.Len(t, got, 1, tt.kind)
		assert.Equal(t, domain.PeerID("s1"), got[0]["from_sid"])
		assert.JSONEq(t, string(payload), string(got[0][tt.field].(json.RawMessage)))
	}

	require.NoError(t, f.relay.Forward(ctx, domain.SignalCallEnd, "s1", "s2", nil))
	assert.Len(t, f.notifier.For("s2", domain.EventWebRTCCallEnded), 1)
	assert.Empty(t, f.notifier.For("s1", domain.EventWebRTCOffer), "sender never gets its own signal")
}

func TestForward_OfflineTargetDropped(t *testing.T) {
	f := newPair(t)
	before := f.notifier.Count()

	err := f.relay.Forward(context.Background(), domain.SignalOffer, "s1", "ghost", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrTargetOffline)
	assert.Equal(t, before, f.notifier.Count())
}

func TestForward_UnknownKind(t *testing.T) {
	f := newPair(t)
	err := f.relay.Forward(context.Background(), "bogus", "s1", "s2", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestForward_DeliveryFailure(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	notifier := new(MockNotifier)
	presence := NewPresenceService(memory.NewMemoryPeerRepository(), memory.NewMemoryRoomRepository(), notifier, nil, nil, DefaultPresenceOptions(), logger)
	relay := NewSignalingRelay(presence, notifier, nil, logger)
	ctx := context.Background()

	_, _, err := presence.Register(ctx, "s2", "192.168.1.20")
	require.NoError(t, err)

	notifier.On("Notify", mock.Anything, domain.PeerID("s2"), mock.MatchedBy(func(e domain.Event) bool {
		return e.Name == domain.EventWebRTCAnswer
	})).Return(errNotConnected).Once()

	err = relay.Forward(ctx, domain.SignalAnswer, "s1", "s2", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrTargetOffline)
	notifier.AssertExpectations(t)
}

func TestSendRoomMessage(t *testing.T) {
	f := newPair(t)
	f.register(t, "s3", "192.168.1.30")
	ctx := context.Background()

	room := domain.NewRoom("room_chat", domain.RoomKindChat, time.Now())
	require.NoError(t, f.presence.JoinRoom(ctx, room, "s1", "s2"))

	require.NoError(t, f.relay.SendRoomMessage(ctx, "s1", "room_chat", "hello", "12:00"))

	got := f.notifier.For("s2", domain.EventReceivePrivateMsg)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0]["message"])
	assert.Equal(t, "User_10", got[0]["from_username"])
	assert.Equal(t, "12:00", got[0]["timestamp"])
	assert.Empty(t, f.notifier.For("s1", domain.EventReceivePrivateMsg))
	assert.Empty(t, f.notifier.For("s3", domain.EventReceivePrivateMsg))

	err := f.relay.SendRoomMessage(ctx, "s3", "room_chat", "intrude", "")
	assert.ErrorIs(t, err, domain.ErrNotRoomMember)

	err = f.relay.SendRoomMessage(ctx, "s1", "room_gone", "hi", "")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}
