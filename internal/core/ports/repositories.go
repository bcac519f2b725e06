package ports

import (
	"context"
	"io"
	"os"
	"time"

	"lanlink/internal/core/domain"
)

type PeerRepository interface {
	Add(ctx context.Context, peer *domain.Peer) error
	GetByID(ctx context.Context, id domain.PeerID) (*domain.Peer, error)
	Update(ctx context.Context, peer *domain.Peer) error
	Remove(ctx context.Context, id domain.PeerID) error
	FindByAddress(ctx context.Context, address string) ([]*domain.Peer, error)
	List(ctx context.Context) ([]*domain.Peer, error)
}

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	AddMember(ctx context.Context, id domain.RoomID, peerID domain.PeerID) error
	RemoveMember(ctx context.Context, id domain.RoomID, peerID domain.PeerID) error
	Delete(ctx context.Context, id domain.RoomID) error
	List(ctx context.Context) ([]*domain.Room, error)
}

type RequestRepository interface {
	Create(ctx context.Context, req *domain.PendingRequest) error
	GetByID(ctx context.Context, id domain.RequestID) (*domain.PendingRequest, error)
	Delete(ctx context.Context, id domain.RequestID) error
	FindByPeer(ctx context.Context, peerID domain.PeerID) ([]*domain.PendingRequest, error)
	ListCreatedBefore(ctx context.Context, t time.Time) ([]*domain.PendingRequest, error)
}

type CallRepository interface {
	Create(ctx context.Context, call *domain.ActiveCall) error
	GetByRoom(ctx context.Context, roomID domain.RoomID) (*domain.ActiveCall, error)
	Delete(ctx context.Context, roomID domain.RoomID) error
	FindByPeer(ctx context.Context, peerID domain.PeerID) ([]*domain.ActiveCall, error)
}

// UploadSessionRepository stores in-flight uploads. AddChunk must be atomic
// with respect to concurrent AddChunk calls for the same file.
type UploadSessionRepository interface {
	Save(ctx context.Context, session *domain.UploadSession) error
	Get(ctx context.Context, fileID string) (*domain.UploadSession, error)
	AddChunk(ctx context.Context, fileID string, index int, at time.Time) (*domain.UploadSession, error)
	Delete(ctx context.Context, fileID string) error
	ListUpdatedBefore(ctx context.Context, t time.Time) ([]*domain.UploadSession, error)
}

// CompletedWriter receives a merged file; nothing is visible under the final
// name until Commit.
type CompletedWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

// ChunkStore keeps chunk bytes for in-flight uploads and the completed files.
type ChunkStore interface {
	Prepare(ctx context.Context, fileID string) error
	Put(ctx context.Context, fileID string, index int, r io.Reader, maxBytes int64) (int64, error)
	MergeInOrder(ctx context.Context, fileID string, totalChunks int, dst io.Writer) (int64, error)
	Discard(ctx context.Context, fileID string) error
	CreateCompleted(ctx context.Context, name string) (CompletedWriter, error)
	OpenCompleted(ctx context.Context, name string) (*os.File, os.FileInfo, error)
	HealthCheck(ctx context.Context) error
}
