package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// MemoryRequestRepository holds pending chat and call requests.
type MemoryRequestRepository struct {
	requests map[domain.RequestID]*domain.PendingRequest
	mu       sync.RWMutex
}

func NewMemoryRequestRepository() ports.RequestRepository {
	return &MemoryRequestRepository{
		requests: make(map[domain.RequestID]*domain.PendingRequest),
	}
}

func (r *MemoryRequestRepository) Create(ctx context.Context, req *domain.PendingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return fmt.Errorf("request already exists: %s", req.ID)
	}
	c := *req
	r.requests[req.ID] = &c
	return nil
}

func (r *MemoryRequestRepository) GetByID(ctx context.Context, id domain.RequestID) (*domain.PendingRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, exists := r.requests[id]
	if !exists {
		return nil, domain.ErrRequestNotFound
	}
	c := *req
	return &c, nil
}

func (r *MemoryRequestRepository) Delete(ctx context.Context, id domain.RequestID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[id]; !exists {
		return domain.ErrRequestNotFound
	}
	delete(r.requests, id)
	return nil
}

// FindByPeer lists requests sent by or to peer.
func (r *MemoryRequestRepository) FindByPeer(ctx context.Context, peerID domain.PeerID) ([]*domain.PendingRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*domain.PendingRequest
	for _, req := range r.requests {
		if req.Involves(peerID) {
			c := *req
			found = append(found, &c)
		}
	}
	return found, nil
}

func (r *MemoryRequestRepository) ListCreatedBefore(ctx context.Context, t time.Time) ([]*domain.PendingRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*domain.PendingRequest
	for _, req := range r.requests {
		if req.CreatedAt.Before(t) {
			c := *req
			found = append(found, &c)
		}
	}
	return found, nil
}
