package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/pkg/utils"
)

// PresenceOptions tunes peer naming and duplicate handling.
type PresenceOptions struct {
	// DedupeByAddress evicts older peers registered from the same address.
	DedupeByAddress bool
	NamePrefix      string
	MaxNameLength   int
}

// DefaultPresenceOptions keeps duplicates and names peers "User_<n>".
func DefaultPresenceOptions() PresenceOptions {
	return PresenceOptions{
		NamePrefix:    "User_",
		MaxNameLength: 50,
	}
}

// presenceService owns peers and room membership. A single mutex covers both
// so that a peer's current room and the room's member set never disagree.
type presenceService struct {
	peers    ports.PeerRepository
	rooms    ports.RoomRepository
	notifier ports.Notifier
	roster   ports.RosterSink
	metrics  ports.Metrics
	opts     PresenceOptions
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu sync.RWMutex
}

// NewPresenceService builds the registry. roster receives the full peer list
// after every change visible to clients; a nil metrics records nothing.
func NewPresenceService(
	peers ports.PeerRepository,
	rooms ports.RoomRepository,
	notifier ports.Notifier,
	roster ports.RosterSink,
	metrics ports.Metrics,
	opts PresenceOptions,
	logger *zap.SugaredLogger,
) ports.PresenceService {
	if opts.NamePrefix == "" {
		opts.NamePrefix = DefaultPresenceOptions().NamePrefix
	}
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = DefaultPresenceOptions().MaxNameLength
	}

	return &presenceService{
		peers:    peers,
		rooms:    rooms,
		notifier: notifier,
		roster:   roster,
		metrics:  metricsOrNop(metrics),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// defaultName derives "User_<last address segment>".
func (s *presenceService) defaultName(address string) string {
	suffix := address
	if ip := net.ParseIP(address); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			suffix = fmt.Sprintf("%d", v4[3])
		} else {
			parts := strings.Split(ip.String(), ":")
			suffix = parts[len(parts)-1]
		}
	} else if i := strings.LastIndexAny(address, ".:"); i >= 0 && i < len(address)-1 {
		suffix = address[i+1:]
	}
	if suffix == "" {
		suffix = "guest"
	}
	return s.opts.NamePrefix + suffix
}

// Register adds a peer under a default name. With DedupeByAddress, older
// peers from the same address are removed and returned for disconnection.
func (s *presenceService) Register(ctx context.Context, id domain.PeerID, address string) (*domain.Peer, []*domain.Peer, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("%w: empty peer id", domain.ErrInvalidInput)
	}

	var out outbox
	var evicted []*domain.Peer

	s.mu.Lock()
	if s.opts.DedupeByAddress && address != "" {
		existing, err := s.peers.FindByAddress(ctx, address)
		if err != nil {
			s.mu.Unlock()
			return nil, nil, err
		}
		for _, old := range existing {
			if old.ID == id {
				continue
			}
			if err := s.removePeerLocked(ctx, old, &out); err != nil {
				s.mu.Unlock()
				return nil, nil, err
			}
			evicted = append(evicted, old)
		}
	}

	peer := &domain.Peer{
		ID:          id,
		Address:     address,
		DisplayName: s.defaultName(address),
		Status:      domain.PeerStatusOnline,
		ConnectedAt: s.now(),
	}
	if err := s.peers.Add(ctx, peer); err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	roster, err := s.rosterLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	s.logger.Infow("peer registered",
		"peer_id", id,
		"address", address,
		"name", peer.DisplayName,
		"evicted", len(evicted),
	)

	out.flush(ctx, s.notifier, s.logger)
	s.publish(ctx, roster)
	return peer, evicted, nil
}

// Rename sets a trimmed, sanitized display name.
func (s *presenceService) Rename(ctx context.Context, id domain.PeerID, name string) (*domain.Peer, error) {
	clean := utils.TruncateString(utils.SanitizeString(name), s.opts.MaxNameLength)
	if clean == "" {
		return nil, domain.ErrInvalidName
	}

	s.mu.Lock()
	peer, err := s.peers.GetByID(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	peer.DisplayName = clean
	if err := s.peers.Update(ctx, peer); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	roster, err := s.rosterLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, roster)
	return peer, nil
}

// Unregister removes the peer and leaves its chat room.
func (s *presenceService) Unregister(ctx context.Context, id domain.PeerID) (*domain.Peer, error) {
	var out outbox

	s.mu.Lock()
	peer, err := s.peers.GetByID(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.removePeerLocked(ctx, peer, &out); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	roster, err := s.rosterLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Infow("peer unregistered", "peer_id", id, "name", peer.DisplayName)

	out.flush(ctx, s.notifier, s.logger)
	s.publish(ctx, roster)
	return peer, nil
}

// removePeerLocked drops the peer from every room it belongs to, tells the
// members of its chat room, and deletes the registry record.
func (s *presenceService) removePeerLocked(ctx context.Context, peer *domain.Peer, out *outbox) error {
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return err
	}

	for _, room := range rooms {
		if !room.HasMember(peer.ID) {
			continue
		}
		remaining, err := s.leaveLocked(ctx, room, peer.ID)
		if err != nil {
			return err
		}
		if room.ID != peer.CurrentRoom {
			continue
		}
		for _, member := range remaining {
			out.add(member, domain.EventUserLeftRoom, map[string]interface{}{
				"room_id": room.ID,
				"sid":     peer.ID,
				"user":    peer.DisplayName,
			})
		}
	}

	return s.peers.Remove(ctx, peer.ID)
}

// leaveLocked removes id from room and deletes the room once it is empty.
func (s *presenceService) leaveLocked(ctx context.Context, room *domain.Room, id domain.PeerID) ([]domain.PeerID, error) {
	if err := s.rooms.RemoveMember(ctx, room.ID, id); err != nil {
		return nil, err
	}
	delete(room.Members, id)

	if len(room.Members) == 0 {
		if err := s.rooms.Delete(ctx, room.ID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return nil, err
		}
	}
	return room.MemberIDs(), nil
}

// Get returns a copy of the peer.
func (s *presenceService) Get(ctx context.Context, id domain.PeerID) (*domain.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers.GetByID(ctx, id)
}

// Snapshot lists peers other than exclude; an empty exclude lists all.
func (s *presenceService) Snapshot(ctx context.Context, exclude domain.PeerID) ([]domain.PeerSummary, error) {
	s.mu.RLock()
	roster, err := s.rosterLocked(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if exclude == "" {
		return roster, nil
	}
	filtered := roster[:0]
	for _, p := range roster {
		if p.ID != exclude {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

func (s *presenceService) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers, err := s.peers.List(ctx)
	if err != nil {
		return 0
	}
	return len(peers)
}

func (s *presenceService) rosterLocked(ctx context.Context) ([]domain.PeerSummary, error) {
	peers, err := s.peers.List(ctx)
	if err != nil {
		return nil, err
	}
	roster := make([]domain.PeerSummary, 0, len(peers))
	for _, p := range peers {
		roster = append(roster, p.Summary())
	}
	return roster, nil
}

func (s *presenceService) publish(ctx context.Context, roster []domain.PeerSummary) {
	s.metrics.SetPeersOnline(len(roster))
	if s.roster != nil {
		s.roster.PublishRoster(ctx, roster)
	}
}

// JoinRoom creates room with the given members. For chat rooms each member's
// current room moves to the new room, leaving any previous chat first.
func (s *presenceService) JoinRoom(ctx context.Context, room *domain.Room, members ...domain.PeerID) error {
	var out outbox

	s.mu.Lock()
	err := s.joinLocked(ctx, room, members, &out)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	out.flush(ctx, s.notifier, s.logger)
	return nil
}

func (s *presenceService) joinLocked(ctx context.Context, room *domain.Room, members []domain.PeerID, out *outbox) error {
	peers := make([]*domain.Peer, 0, len(members))
	for _, id := range members {
		peer, err := s.peers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		peers = append(peers, peer)
	}

	if room.Members == nil {
		room.Members = make(map[domain.PeerID]struct{}, len(members))
	}
	for _, id := range members {
		room.Members[id] = struct{}{}
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return err
	}

	if room.Kind != domain.RoomKindChat {
		return nil
	}

	for _, peer := range peers {
		if peer.CurrentRoom != "" && peer.CurrentRoom != room.ID {
			if err := s.leaveChatLocked(ctx, peer, out); err != nil {
				return err
			}
		}
		peer.CurrentRoom = room.ID
		if err := s.peers.Update(ctx, peer); err != nil {
			return err
		}
	}
	return nil
}

// leaveChatLocked moves peer out of its current chat room and notifies the
// members left behind.
func (s *presenceService) leaveChatLocked(ctx context.Context, peer *domain.Peer, out *outbox) error {
	previous, err := s.rooms.GetByID(ctx, peer.CurrentRoom)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !previous.HasMember(peer.ID) {
		return nil
	}

	remaining, err := s.leaveLocked(ctx, previous, peer.ID)
	if err != nil {
		return err
	}
	for _, member := range remaining {
		out.add(member, domain.EventPartnerLeftChat, map[string]interface{}{
			"room_id":  previous.ID,
			"username": peer.DisplayName,
		})
	}
	return nil
}

// LeaveRoom removes id from roomID and notifies the members left behind.
func (s *presenceService) LeaveRoom(ctx context.Context, id domain.PeerID, roomID domain.RoomID) ([]domain.PeerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(id) {
		return nil, domain.ErrNotRoomMember
	}

	remaining, err := s.leaveLocked(ctx, room, id)
	if err != nil {
		return nil, err
	}

	peer, err := s.peers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if peer.CurrentRoom == roomID {
		peer.CurrentRoom = ""
		if err := s.peers.Update(ctx, peer); err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

// RoomMembers lists the members of roomID.
func (s *presenceService) RoomMembers(ctx context.Context, roomID domain.RoomID) ([]domain.PeerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room.MemberIDs(), nil
}

// RemoveRoom deletes the room and clears it from its members.
func (s *presenceService) RemoveRoom(ctx context.Context, roomID domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeRoomLocked(ctx, roomID)
}

func (s *presenceService) removeRoomLocked(ctx context.Context, roomID domain.RoomID) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return err
	}

	for id := range room.Members {
		peer, err := s.peers.GetByID(ctx, id)
		if errors.Is(err, domain.ErrPeerNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if peer.CurrentRoom == roomID {
			peer.CurrentRoom = ""
			if err := s.peers.Update(ctx, peer); err != nil {
				return err
			}
		}
	}
	return s.rooms.Delete(ctx, roomID)
}

// SetInCall updates the in-call flag of every listed peer still registered
// and publishes the roster once.
func (s *presenceService) SetInCall(ctx context.Context, inCall bool, ids ...domain.PeerID) error {
	s.mu.Lock()
	changed := false
	for _, id := range ids {
		peer, err := s.peers.GetByID(ctx, id)
		if errors.Is(err, domain.ErrPeerNotFound) {
			continue
		}
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if peer.InCall == inCall {
			continue
		}
		peer.InCall = inCall
		if err := s.peers.Update(ctx, peer); err != nil {
			s.mu.Unlock()
			return err
		}
		changed = true
	}
	if !changed {
		s.mu.Unlock()
		return nil
	}
	roster, err := s.rosterLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, roster)
	return nil
}

// SweepOrphanRooms deletes rooms with fewer than two registered members.
func (s *presenceService) SweepOrphanRooms(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, room := range rooms {
		live := 0
		for id := range room.Members {
			if _, err := s.peers.GetByID(ctx, id); err == nil {
				live++
			}
		}
		if live >= 2 {
			continue
		}
		if err := s.removeRoomLocked(ctx, room.ID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Infow("orphan rooms removed", "count", removed)
	}
	return removed, nil
}
