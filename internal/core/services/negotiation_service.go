package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/pkg/utils"
)

const (
	outcomeAccepted  = "accepted"
	outcomeRejected  = "rejected"
	outcomeExpired   = "expired"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// negotiationService runs the request/accept/reject handshakes for chats and
// calls. Every state transition happens under mu, so a request is resolved
// at most once.
type negotiationService struct {
	presence ports.PresenceService
	requests ports.RequestRepository
	calls    ports.CallRepository
	notifier ports.Notifier
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu sync.Mutex
}

// NewNegotiationService builds the request and call broker. presence owns
// peers and rooms; requests and calls hold pending and active state.
func NewNegotiationService(
	presence ports.PresenceService,
	requests ports.RequestRepository,
	calls ports.CallRepository,
	notifier ports.Notifier,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) ports.NegotiationService {
	return &negotiationService{
		presence: presence,
		requests: requests,
		calls:    calls,
		notifier: notifier,
		metrics:  metricsOrNop(metrics),
		logger:   logger,
		now:      time.Now,
	}
}

// endpoints loads requester and target, mapping a missing target to
// ErrTargetOffline.
func (s *negotiationService) endpoints(ctx context.Context, from, to domain.PeerID) (*domain.Peer, *domain.Peer, error) {
	if from == to {
		return nil, nil, domain.ErrSelfRequest
	}

	requester, err := s.presence.Get(ctx, from)
	if err != nil {
		return nil, nil, err
	}
	target, err := s.presence.Get(ctx, to)
	if errors.Is(err, domain.ErrPeerNotFound) {
		return nil, nil, domain.ErrTargetOffline
	}
	if err != nil {
		return nil, nil, err
	}
	return requester, target, nil
}

// CreateChatRequest records a pending chat request and notifies both sides.
func (s *negotiationService) CreateChatRequest(ctx context.Context, from, to domain.PeerID) (*domain.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requester, target, err := s.endpoints(ctx, from, to)
	if err != nil {
		return nil, err
	}

	req := &domain.PendingRequest{
		ID:        domain.RequestID(utils.NewRequestID()),
		From:      from,
		To:        to,
		Kind:      domain.RequestKindChat,
		CreatedAt: s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	err = s.notifier.Notify(ctx, to, domain.Event{
		Name: domain.EventIncomingChatRequest,
		Data: map[string]interface{}{
			"request_id":    req.ID,
			"from_sid":      requester.ID,
			"from_username": requester.DisplayName,
			"from_ip":       requester.Address,
			"type":          req.Kind,
		},
	})
	if err != nil {
		s.requests.Delete(ctx, req.ID)
		return nil, fmt.Errorf("%w: %v", domain.ErrTargetOffline, err)
	}

	s.notify(ctx, from, domain.EventRequestSent, map[string]interface{}{
		"request_id":  req.ID,
		"to_username": target.DisplayName,
	})
	s.metrics.RequestCreated(req.Kind)
	s.logger.Infow("chat request created", "request_id", req.ID, "from", from, "to", to)
	return req, nil
}

// takeRequest removes and returns a pending request of the wanted kind. A
// request of another kind is reported as not found and left in place.
func (s *negotiationService) takeRequest(ctx context.Context, id domain.RequestID, call bool) (*domain.PendingRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Kind.IsCall() != call {
		return nil, domain.ErrRequestNotFound
	}
	if err := s.requests.Delete(ctx, id); err != nil {
		return nil, err
	}
	return req, nil
}

// AcceptChatRequest opens a chat room for the pair and tells both peers.
func (s *negotiationService) AcceptChatRequest(ctx context.Context, id domain.RequestID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.takeRequest(ctx, id, false)
	if err != nil {
		return nil, err
	}
	requester, target, err := s.resolvedEndpoints(ctx, req)
	if err != nil {
		return nil, err
	}

	room := domain.NewRoom(domain.RoomID(utils.NewRoomID("room")), domain.RoomKindChat, s.now())
	if err := s.presence.JoinRoom(ctx, room, req.From, req.To); err != nil {
		s.metrics.RequestResolved(req.Kind, outcomeFailed)
		return nil, err
	}

	s.notify(ctx, req.From, domain.EventChatRequestAccepted, map[string]interface{}{
		"room_id":          room.ID,
		"partner_sid":      target.ID,
		"partner_username": target.DisplayName,
		"partner_ip":       target.Address,
	})
	s.notify(ctx, req.To, domain.EventChatStarted, map[string]interface{}{
		"room_id":          room.ID,
		"partner_sid":      requester.ID,
		"partner_username": requester.DisplayName,
		"partner_ip":       requester.Address,
	})

	s.metrics.RequestResolved(req.Kind, outcomeAccepted)
	s.logger.Infow("chat started", "request_id", id, "room_id", room.ID)
	return room, nil
}

// resolvedEndpoints reloads both sides of an already removed request.
func (s *negotiationService) resolvedEndpoints(ctx context.Context, req *domain.PendingRequest) (*domain.Peer, *domain.Peer, error) {
	requester, err := s.presence.Get(ctx, req.From)
	if err != nil {
		s.metrics.RequestResolved(req.Kind, outcomeFailed)
		return nil, nil, domain.ErrTargetOffline
	}
	target, err := s.presence.Get(ctx, req.To)
	if err != nil {
		s.metrics.RequestResolved(req.Kind, outcomeFailed)
		return nil, nil, domain.ErrTargetOffline
	}
	return requester, target, nil
}

// RejectChatRequest drops the request and tells the requester.
func (s *negotiationService) RejectChatRequest(ctx context.Context, id domain.RequestID) error {
	return s.reject(ctx, id, false, domain.EventChatRequestRejected)
}

// RejectCallRequest drops a call request and tells the caller.
func (s *negotiationService) RejectCallRequest(ctx context.Context, id domain.RequestID) error {
	return s.reject(ctx, id, true, domain.EventCallRejected)
}

func (s *negotiationService) reject(ctx context.Context, id domain.RequestID, call bool, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.takeRequest(ctx, id, call)
	if err != nil {
		return err
	}

	byName := ""
	if target, err := s.presence.Get(ctx, req.To); err == nil {
		byName = target.DisplayName
	}
	s.notify(ctx, req.From, event, map[string]interface{}{
		"request_id":  req.ID,
		"by_username": byName,
	})

	s.metrics.RequestResolved(req.Kind, outcomeRejected)
	return nil
}

// CreateCallRequest rings the target. Either side being in a call is
// ErrTargetBusy.
func (s *negotiationService) CreateCallRequest(ctx context.Context, from, to domain.PeerID, kind domain.RequestKind) (*domain.PendingRequest, error) {
	if !kind.IsCall() {
		return nil, domain.ErrInvalidCallKind
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	requester, target, err := s.endpoints(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if target.InCall {
		return nil, domain.ErrTargetBusy
	}

	req := &domain.PendingRequest{
		ID:        domain.RequestID(utils.NewRequestID()),
		From:      from,
		To:        to,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	err = s.notifier.Notify(ctx, to, domain.Event{
		Name: domain.EventIncomingCall,
		Data: map[string]interface{}{
			"request_id":    req.ID,
			"from_sid":      requester.ID,
			"from_username": requester.DisplayName,
			"from_ip":       requester.Address,
			"call_type":     kind,
		},
	})
	if err != nil {
		s.requests.Delete(ctx, req.ID)
		return nil, fmt.Errorf("%w: %v", domain.ErrTargetOffline, err)
	}

	s.notify(ctx, from, domain.EventCallRinging, map[string]interface{}{
		"request_id":  req.ID,
		"to_username": target.DisplayName,
		"call_type":   kind,
	})
	s.metrics.RequestCreated(kind)
	s.logger.Infow("call request created", "request_id", req.ID, "from", from, "to", to, "call_type", kind)
	return req, nil
}

// AcceptCallRequest starts the call. Busy state is checked again because
// either peer may have joined another call while this one rang.
func (s *negotiationService) AcceptCallRequest(ctx context.Context, id domain.RequestID) (*domain.ActiveCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.takeRequest(ctx, id, true)
	if err != nil {
		return nil, err
	}
	caller, callee, err := s.resolvedEndpoints(ctx, req)
	if err != nil {
		return nil, err
	}
	if caller.InCall || callee.InCall {
		s.notify(ctx, req.From, domain.EventCallFailed, map[string]interface{}{
			"request_id": req.ID,
			"error":      "User is busy",
		})
		s.metrics.RequestResolved(req.Kind, outcomeFailed)
		return nil, domain.ErrTargetBusy
	}

	room := domain.NewRoom(domain.RoomID(utils.NewRoomID("call")), domain.RoomKindCall, s.now())
	if err := s.presence.JoinRoom(ctx, room, req.From, req.To); err != nil {
		s.metrics.RequestResolved(req.Kind, outcomeFailed)
		return nil, err
	}

	call := &domain.ActiveCall{
		RoomID:       room.ID,
		Participants: [2]domain.PeerID{req.From, req.To},
		Kind:         req.Kind,
		StartedAt:    s.now(),
	}
	if err := s.calls.Create(ctx, call); err != nil {
		s.presence.RemoveRoom(ctx, room.ID)
		return nil, err
	}
	if err := s.presence.SetInCall(ctx, true, req.From, req.To); err != nil {
		return nil, err
	}

	s.notify(ctx, req.From, domain.EventCallAccepted, map[string]interface{}{
		"room_id":          room.ID,
		"partner_sid":      callee.ID,
		"partner_username": callee.DisplayName,
		"call_type":        req.Kind,
	})
	s.notify(ctx, req.To, domain.EventCallStarted, map[string]interface{}{
		"room_id":          room.ID,
		"partner_sid":      caller.ID,
		"partner_username": caller.DisplayName,
		"call_type":        req.Kind,
	})

	s.metrics.RequestResolved(req.Kind, outcomeAccepted)
	s.metrics.CallStarted(req.Kind)
	s.logger.Infow("call started", "request_id", id, "room_id", room.ID, "call_type", req.Kind)
	return call, nil
}

// EndCall ends the call in roomID. An empty actor skips the membership check.
func (s *negotiationService) EndCall(ctx context.Context, actor domain.PeerID, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.calls.GetByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if actor != "" && !call.Involves(actor) {
		return domain.ErrNotRoomMember
	}

	endedBy := ""
	if peer, err := s.presence.Get(ctx, actor); err == nil {
		endedBy = peer.DisplayName
	}
	return s.endCallLocked(ctx, call, endedBy, nil)
}

// endCallLocked tears the call down and sends call_ended to every
// participant not in skip.
func (s *negotiationService) endCallLocked(ctx context.Context, call *domain.ActiveCall, endedBy string, skip map[domain.PeerID]bool) error {
	if err := s.calls.Delete(ctx, call.RoomID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return err
	}
	if err := s.presence.SetInCall(ctx, false, call.Participants[0], call.Participants[1]); err != nil {
		return err
	}
	if err := s.presence.RemoveRoom(ctx, call.RoomID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return err
	}

	for _, id := range call.Participants {
		if skip[id] {
			continue
		}
		s.notify(ctx, id, domain.EventCallEnded, map[string]interface{}{
			"room_id":  call.RoomID,
			"ended_by": endedBy,
		})
	}

	s.metrics.CallEnded(call.Kind, s.now().Sub(call.StartedAt))
	s.logger.Infow("call ended", "room_id", call.RoomID, "ended_by", endedBy)
	return nil
}

// LeaveChat removes id from the chat room and tells the partner.
func (s *negotiationService) LeaveChat(ctx context.Context, id domain.PeerID, roomID domain.RoomID) error {
	peer, err := s.presence.Get(ctx, id)
	if err != nil {
		return err
	}
	remaining, err := s.presence.LeaveRoom(ctx, id, roomID)
	if err != nil {
		return err
	}

	for _, member := range remaining {
		s.notify(ctx, member, domain.EventPartnerLeftChat, map[string]interface{}{
			"room_id":  roomID,
			"username": peer.DisplayName,
		})
	}
	return nil
}

// PeerDisconnected drops pending requests naming id and ends its calls. It
// must run before the peer is unregistered.
func (s *negotiationService) PeerDisconnected(ctx context.Context, id domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := ""
	if peer, err := s.presence.Get(ctx, id); err == nil {
		name = peer.DisplayName
	}

	pending, err := s.requests.FindByPeer(ctx, id)
	if err != nil {
		return err
	}
	for _, req := range pending {
		if err := s.requests.Delete(ctx, req.ID); err != nil && !errors.Is(err, domain.ErrRequestNotFound) {
			return err
		}
		if req.To == id {
			s.notify(ctx, req.From, domain.EventRequestExpired, map[string]interface{}{
				"request_id": req.ID,
				"type":       req.Kind,
				"reason":     "peer_disconnected",
			})
		}
		s.metrics.RequestResolved(req.Kind, outcomeCancelled)
	}

	calls, err := s.calls.FindByPeer(ctx, id)
	if err != nil {
		return err
	}
	for _, call := range calls {
		if err := s.endCallLocked(ctx, call, name, map[domain.PeerID]bool{id: true}); err != nil {
			return err
		}
	}
	return nil
}

// ExpireRequests removes requests created before olderThan and tells each
// requester.
func (s *negotiationService) ExpireRequests(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale, err := s.requests.ListCreatedBefore(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range stale {
		if err := s.requests.Delete(ctx, req.ID); err != nil {
			if errors.Is(err, domain.ErrRequestNotFound) {
				continue
			}
			return expired, err
		}
		expired++

		s.notify(ctx, req.From, domain.EventRequestExpired, map[string]interface{}{
			"request_id": req.ID,
			"type":       req.Kind,
			"reason":     "timeout",
		})
		s.metrics.RequestResolved(req.Kind, outcomeExpired)
	}

	if expired > 0 {
		s.logger.Infow("pending requests expired", "count", expired)
	}
	return expired, nil
}

func (s *negotiationService) notify(ctx context.Context, to domain.PeerID, name string, data interface{}) {
	if err := s.notifier.Notify(ctx, to, domain.Event{Name: name, Data: data}); err != nil {
		s.logger.Debugw("event not delivered", "event", name, "peer_id", to, "error", err)
	}
}
