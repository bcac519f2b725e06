package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// signalingRelay forwards opaque WebRTC payloads and chat messages. It never
// looks inside the payload.
type signalingRelay struct {
	presence ports.PresenceService
	notifier ports.Notifier
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
}

// NewSignalingRelay forwards WebRTC negotiation payloads between peers.
func NewSignalingRelay(
	presence ports.PresenceService,
	notifier ports.Notifier,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) ports.SignalingRelay {
	return &signalingRelay{
		presence: presence,
		notifier: notifier,
		metrics:  metricsOrNop(metrics),
		logger:   logger,
	}
}

func signalEvent(kind domain.SignalKind, from domain.PeerID, payload json.RawMessage) (domain.Event, error) {
	data := map[string]interface{}{"from_sid": from}

	var name string
	switch kind {
	case domain.SignalOffer:
		name = domain.EventWebRTCOffer
		data["offer"] = payload
	case domain.SignalAnswer:
		name = domain.EventWebRTCAnswer
		data["answer"] = payload
	case domain.SignalICECandidate:
		name = domain.EventWebRTCICECandidate
		data["candidate"] = payload
	case domain.SignalCallEnd:
		name = domain.EventWebRTCCallEnded
	default:
		return domain.Event{}, fmt.Errorf("%w: unknown signal kind %q", domain.ErrInvalidInput, kind)
	}
	return domain.Event{Name: name, Data: data}, nil
}

// Forward delivers payload to the target only. An offline target drops the
// message and returns ErrTargetOffline.
func (r *signalingRelay) Forward(ctx context.Context, kind domain.SignalKind, from, to domain.PeerID, payload json.RawMessage) error {
	event, err := signalEvent(kind, from, payload)
	if err != nil {
		return err
	}

	if _, err := r.presence.Get(ctx, to); err != nil {
		r.metrics.SignalForwarded(kind, false)
		return domain.ErrTargetOffline
	}

	if err := r.notifier.Notify(ctx, to, event); err != nil {
		r.metrics.SignalForwarded(kind, false)
		r.logger.Debugw("signal dropped", "kind", kind, "from", from, "to", to, "error", err)
		return domain.ErrTargetOffline
	}

	r.metrics.SignalForwarded(kind, true)
	return nil
}

// SendRoomMessage relays a chat message to every other member of roomID.
func (r *signalingRelay) SendRoomMessage(ctx context.Context, from domain.PeerID, roomID domain.RoomID, message string, timestamp string) error {
	sender, err := r.presence.Get(ctx, from)
	if err != nil {
		return err
	}

	members, err := r.presence.RoomMembers(ctx, roomID)
	if err != nil {
		return err
	}

	isMember := false
	for _, id := range members {
		if id == from {
			isMember = true
			break
		}
	}
	if !isMember {
		return domain.ErrNotRoomMember
	}

	data := map[string]interface{}{
		"room_id":       roomID,
		"from_sid":      sender.ID,
		"from_username": sender.DisplayName,
		"message":       message,
		"timestamp":     timestamp,
	}
	for _, id := range members {
		if id == from {
			continue
		}
		event := domain.Event{Name: domain.EventReceivePrivateMsg, Data: data}
		if err := r.notifier.Notify(ctx, id, event); err != nil {
			r.logger.Debugw("chat message not delivered", "room_id", roomID, "peer_id", id, "error", err)
		}
	}
	return nil
}
