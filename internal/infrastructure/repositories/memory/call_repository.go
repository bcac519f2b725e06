package memory

import (
	"context"
	"fmt"
	"sync"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// MemoryCallRepository holds active calls by room.
type MemoryCallRepository struct {
	calls map[domain.RoomID]*domain.ActiveCall
	mu    sync.RWMutex
}

func NewMemoryCallRepository() ports.CallRepository {
	return &MemoryCallRepository{
		calls: make(map[domain.RoomID]*domain.ActiveCall),
	}
}

func (r *MemoryCallRepository) Create(ctx context.Context, call *domain.ActiveCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.RoomID]; exists {
		return fmt.Errorf("call already exists: %s", call.RoomID)
	}
	c := *call
	r.calls[call.RoomID] = &c
	return nil
}

func (r *MemoryCallRepository) GetByRoom(ctx context.Context, roomID domain.RoomID) (*domain.ActiveCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[roomID]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	c := *call
	return &c, nil
}

func (r *MemoryCallRepository) Delete(ctx context.Context, roomID domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[roomID]; !exists {
		return domain.ErrRoomNotFound
	}
	delete(r.calls, roomID)
	return nil
}

func (r *MemoryCallRepository) FindByPeer(ctx context.Context, peerID domain.PeerID) ([]*domain.ActiveCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*domain.ActiveCall
	for _, call := range r.calls {
		if call.Involves(peerID) {
			c := *call
			found = append(found, &c)
		}
	}
	return found, nil
}
