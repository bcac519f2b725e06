package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lanlink/internal/core/domain"
	"lanlink/pkg/tracing"
	"lanlink/pkg/validation"
)

type eventHandler func(ctx context.Context, from domain.PeerID, data json.RawMessage) error

// replyError is an error the sender is told about under a specific event.
type replyError struct {
	event   string
	message string
}

func (e *replyError) Error() string {
	return e.event + ": " + e.message
}

func replyWith(event, message string) error {
	return &replyError{event: event, message: message}
}

func (s *WebSocketServer) routes() map[string]eventHandler {
	return map[string]eventHandler{
		"set_username":         s.handleSetUsername,
		"get_online_users":     s.handleGetOnlineUsers,
		"send_chat_request":    s.handleSendChatRequest,
		"accept_chat_request":  s.handleAcceptChatRequest,
		"reject_chat_request":  s.handleRejectChatRequest,
		"send_private_message": s.handleSendPrivateMessage,
		"leave_chat":           s.handleLeaveChat,
		"start_call":           s.handleStartCall,
		"accept_call":          s.handleAcceptCall,
		"reject_call":          s.handleRejectCall,
		"end_call":             s.handleEndCall,
		"webrtc_offer":         s.signalHandler(domain.SignalOffer),
		"webrtc_answer":        s.signalHandler(domain.SignalAnswer),
		"webrtc_ice_candidate": s.signalHandler(domain.SignalICECandidate),
		"webrtc_end_call":      s.signalHandler(domain.SignalCallEnd),
	}
}

func (s *WebSocketServer) dispatch(ctx context.Context, from domain.PeerID, env Envelope) {
	handler, ok := s.handlers[env.Event]
	if !ok {
		s.reply(ctx, from, domain.EventError, "unknown event: "+env.Event)
		return
	}
	s.metrics.RecordEvent(env.Event)

	ctx, span := tracing.TraceEvent(ctx, env.Event, string(from))
	defer span.End()

	err := handler(ctx, from, env.Data)
	if err == nil {
		return
	}
	tracing.RecordError(ctx, err)

	var re *replyError
	if errors.As(err, &re) {
		s.reply(ctx, from, re.event, re.message)
		return
	}
	s.logger.Warnw("error handling event", "peer_id", from, "event", env.Event, "error", err)
	s.reply(ctx, from, domain.EventError, "internal error")
}

// decode unmarshals data into v and runs its validate tags.
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return replyWith(domain.EventError, "invalid payload")
	}
	if err := validation.ValidateStruct(v); err != nil {
		return replyWith(domain.EventError, err.Error())
	}
	return nil
}

type usernamePayload struct {
	Username string `json:"username" validate:"required"`
}

func (s *WebSocketServer) handleSetUsername(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p usernamePayload
	if err := decode(data, &p); err != nil {
		return err
	}

	peer, err := s.presence.Rename(ctx, from, p.Username)
	if errors.Is(err, domain.ErrInvalidName) {
		return replyWith(domain.EventError, err.Error())
	}
	if err != nil {
		return err
	}
	return s.hub.Notify(ctx, from, domain.Event{
		Name: domain.EventUsernameUpdated,
		Data: map[string]interface{}{"username": peer.DisplayName},
	})
}

func (s *WebSocketServer) handleGetOnlineUsers(ctx context.Context, from domain.PeerID, _ json.RawMessage) error {
	users, err := s.presence.Snapshot(ctx, from)
	if err != nil {
		return err
	}
	return s.hub.Notify(ctx, from, domain.Event{
		Name: domain.EventOnlineUsersList,
		Data: map[string]interface{}{"users": users},
	})
}

type targetPayload struct {
	TargetSID domain.PeerID `json:"target_sid" validate:"required"`
}

func (s *WebSocketServer) handleSendChatRequest(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p targetPayload
	if err := decode(data, &p); err != nil {
		return err
	}

	_, err := s.negotiation.CreateChatRequest(ctx, from, p.TargetSID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTargetOffline):
		return replyWith(domain.EventRequestFailed, "User not found or offline")
	case errors.Is(err, domain.ErrSelfRequest):
		return replyWith(domain.EventRequestFailed, "Cannot send a request to yourself")
	}
	return err
}

type requestPayload struct {
	RequestID domain.RequestID `json:"request_id" validate:"required"`
}

func (s *WebSocketServer) handleAcceptChatRequest(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p requestPayload
	if err := decode(data, &p); err != nil {
		return replyWith(domain.EventRequestError, "Request not found")
	}

	_, err := s.negotiation.AcceptChatRequest(ctx, p.RequestID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRequestNotFound):
		return replyWith(domain.EventRequestError, "Request not found")
	case errors.Is(err, domain.ErrTargetOffline):
		return replyWith(domain.EventRequestError, "User not found or offline")
	}
	return err
}

func (s *WebSocketServer) handleRejectChatRequest(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p requestPayload
	if err := decode(data, &p); err != nil {
		return nil
	}
	return ignoreNotFound(s.negotiation.RejectChatRequest(ctx, p.RequestID))
}

type privateMessagePayload struct {
	RoomID    domain.RoomID `json:"room_id"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"`
}

func (s *WebSocketServer) handleSendPrivateMessage(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p privateMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.RoomID == "" || strings.TrimSpace(p.Message) == "" {
		return nil
	}
	if p.Timestamp == "" {
		p.Timestamp = time.Now().Format("15:04")
	}

	err := s.relay.SendRoomMessage(ctx, from, p.RoomID, p.Message, p.Timestamp)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return replyWith(domain.EventError, "Chat room not found")
	case errors.Is(err, domain.ErrNotRoomMember):
		return replyWith(domain.EventError, "Not a member of this chat")
	}
	return err
}

type roomPayload struct {
	RoomID domain.RoomID `json:"room_id" validate:"required"`
}

func (s *WebSocketServer) handleLeaveChat(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	err := s.negotiation.LeaveChat(ctx, from, p.RoomID)
	if errors.Is(err, domain.ErrNotRoomMember) {
		return nil
	}
	return ignoreNotFound(err)
}

type startCallPayload struct {
	TargetSID domain.PeerID `json:"target_sid" validate:"required"`
	CallType  string        `json:"call_type"`
}

func (s *WebSocketServer) handleStartCall(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p startCallPayload
	if err := decode(data, &p); err != nil {
		return replyWith(domain.EventCallFailed, "User not available")
	}
	kind, err := domain.ParseCallKind(p.CallType)
	if err != nil {
		return replyWith(domain.EventCallFailed, err.Error())
	}

	_, err = s.negotiation.CreateCallRequest(ctx, from, p.TargetSID, kind)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTargetBusy):
		return replyWith(domain.EventCallFailed, "User is busy")
	case errors.Is(err, domain.ErrTargetOffline), errors.Is(err, domain.ErrSelfRequest):
		return replyWith(domain.EventCallFailed, "User not available")
	}
	return err
}

func (s *WebSocketServer) handleAcceptCall(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p requestPayload
	if err := decode(data, &p); err != nil {
		return replyWith(domain.EventCallError, "Call request not found")
	}

	_, err := s.negotiation.AcceptCallRequest(ctx, p.RequestID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRequestNotFound):
		return replyWith(domain.EventCallError, "Call request not found")
	case errors.Is(err, domain.ErrTargetBusy):
		return replyWith(domain.EventCallError, "User is busy")
	case errors.Is(err, domain.ErrTargetOffline):
		return replyWith(domain.EventCallError, "User not available")
	}
	return err
}

func (s *WebSocketServer) handleRejectCall(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p requestPayload
	if err := decode(data, &p); err != nil {
		return nil
	}
	return ignoreNotFound(s.negotiation.RejectCallRequest(ctx, p.RequestID))
}

func (s *WebSocketServer) handleEndCall(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	err := s.negotiation.EndCall(ctx, from, p.RoomID)
	if errors.Is(err, domain.ErrNotRoomMember) {
		return replyWith(domain.EventCallError, "Not a participant of this call")
	}
	return ignoreNotFound(err)
}

// signalPayload carries whichever of offer, answer or candidate the event
// names; the relay never looks inside it.
type signalPayload struct {
	TargetSID domain.PeerID   `json:"target_sid" validate:"required"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

func (p signalPayload) body(kind domain.SignalKind) json.RawMessage {
	switch kind {
	case domain.SignalOffer:
		return p.Offer
	case domain.SignalAnswer:
		return p.Answer
	case domain.SignalICECandidate:
		return p.Candidate
	}
	return nil
}

func (s *WebSocketServer) signalHandler(kind domain.SignalKind) eventHandler {
	return func(ctx context.Context, from domain.PeerID, data json.RawMessage) error {
		var p signalPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		body := p.body(kind)
		if kind != domain.SignalCallEnd && len(body) == 0 {
			return replyWith(domain.EventError, fmt.Sprintf("%s payload is required", kind))
		}

		err := s.relay.Forward(ctx, kind, from, p.TargetSID, body)
		if errors.Is(err, domain.ErrTargetOffline) {
			s.logger.Debugw("signal dropped, target offline", "peer_id", from, "target", p.TargetSID, "kind", kind)
			return nil
		}
		return err
	}
}

// ignoreNotFound swallows the lookups that race with expiry or disconnect.
func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrRequestNotFound) || errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrPeerNotFound) {
		return nil
	}
	return err
}
