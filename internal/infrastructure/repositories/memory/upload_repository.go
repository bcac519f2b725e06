package memory

import (
	"context"
	"sync"
	"time"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// MemoryUploadRepository keeps upload sessions in process memory.
type MemoryUploadRepository struct {
	sessions map[string]*domain.UploadSession
	mu       sync.RWMutex
}

func NewMemoryUploadRepository() ports.UploadSessionRepository {
	return &MemoryUploadRepository{
		sessions: make(map[string]*domain.UploadSession),
	}
}

// Save replaces any session stored under the same file id.
func (r *MemoryUploadRepository) Save(ctx context.Context, session *domain.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.FileID] = session.Clone()
	return nil
}

func (r *MemoryUploadRepository) Get(ctx context.Context, fileID string) (*domain.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[fileID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *MemoryUploadRepository) AddChunk(ctx context.Context, fileID string, index int, at time.Time) (*domain.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[fileID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	session.AddChunk(index)
	session.LastUpdate = at
	return session.Clone(), nil
}

func (r *MemoryUploadRepository) Delete(ctx context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[fileID]; !exists {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, fileID)
	return nil
}

func (r *MemoryUploadRepository) ListUpdatedBefore(ctx context.Context, t time.Time) ([]*domain.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*domain.UploadSession
	for _, session := range r.sessions {
		if session.LastUpdate.Before(t) {
			stale = append(stale, session.Clone())
		}
	}
	return stale, nil
}
