package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// MemoryPeerRepository holds connected peers by id.
type MemoryPeerRepository struct {
	peers map[domain.PeerID]*domain.Peer
	mu    sync.RWMutex
}

func NewMemoryPeerRepository() ports.PeerRepository {
	return &MemoryPeerRepository{
		peers: make(map[domain.PeerID]*domain.Peer),
	}
}

func (r *MemoryPeerRepository) Add(ctx context.Context, peer *domain.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[peer.ID]; exists {
		return fmt.Errorf("peer already exists: %s", peer.ID)
	}

	r.peers[peer.ID] = peer.Clone()
	return nil
}

func (r *MemoryPeerRepository) GetByID(ctx context.Context, id domain.PeerID) (*domain.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, exists := r.peers[id]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}

	return peer.Clone(), nil
}

func (r *MemoryPeerRepository) Update(ctx context.Context, peer *domain.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[peer.ID]; !exists {
		return domain.ErrPeerNotFound
	}

	r.peers[peer.ID] = peer.Clone()
	return nil
}

func (r *MemoryPeerRepository) Remove(ctx context.Context, id domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[id]; !exists {
		return domain.ErrPeerNotFound
	}

	delete(r.peers, id)
	return nil
}

// FindByAddress lists peers connected from address.
func (r *MemoryPeerRepository) FindByAddress(ctx context.Context, address string) ([]*domain.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []*domain.Peer
	for _, peer := range r.peers {
		if peer.Address == address {
			found = append(found, peer.Clone())
		}
	}

	return found, nil
}

// List returns peers ordered by connection time.
func (r *MemoryPeerRepository) List(ctx context.Context) ([]*domain.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*domain.Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer.Clone())
	}

	sort.Slice(peers, func(i, j int) bool {
		if peers[i].ConnectedAt.Equal(peers[j].ConnectedAt) {
			return peers[i].ID < peers[j].ID
		}
		return peers[i].ConnectedAt.Before(peers[j].ConnectedAt)
	})

	return peers, nil
}
