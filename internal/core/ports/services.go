package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"lanlink/internal/core/domain"
)

// Notifier delivers events to connected peers.
type Notifier interface {
	Notify(ctx context.Context, peerID domain.PeerID, event domain.Event) error
}

// RosterSink receives the full roster after every roster-visible change.
type RosterSink interface {
	PublishRoster(ctx context.Context, roster []domain.PeerSummary)
}

type PresenceService interface {
	Register(ctx context.Context, id domain.PeerID, address string) (*domain.Peer, []*domain.Peer, error)
	Rename(ctx context.Context, id domain.PeerID, name string) (*domain.Peer, error)
	Unregister(ctx context.Context, id domain.PeerID) (*domain.Peer, error)
	Get(ctx context.Context, id domain.PeerID) (*domain.Peer, error)
	Snapshot(ctx context.Context, exclude domain.PeerID) ([]domain.PeerSummary, error)
	Count(ctx context.Context) int

	JoinRoom(ctx context.Context, room *domain.Room, members ...domain.PeerID) error
	LeaveRoom(ctx context.Context, id domain.PeerID, roomID domain.RoomID) ([]domain.PeerID, error)
	RoomMembers(ctx context.Context, roomID domain.RoomID) ([]domain.PeerID, error)
	RemoveRoom(ctx context.Context, roomID domain.RoomID) error
	SetInCall(ctx context.Context, inCall bool, ids ...domain.PeerID) error
	SweepOrphanRooms(ctx context.Context) (int, error)
}

type NegotiationService interface {
	CreateChatRequest(ctx context.Context, from, to domain.PeerID) (*domain.PendingRequest, error)
	AcceptChatRequest(ctx context.Context, id domain.RequestID) (*domain.Room, error)
	RejectChatRequest(ctx context.Context, id domain.RequestID) error
	CreateCallRequest(ctx context.Context, from, to domain.PeerID, kind domain.RequestKind) (*domain.PendingRequest, error)
	AcceptCallRequest(ctx context.Context, id domain.RequestID) (*domain.ActiveCall, error)
	RejectCallRequest(ctx context.Context, id domain.RequestID) error
	EndCall(ctx context.Context, actor domain.PeerID, roomID domain.RoomID) error
	LeaveChat(ctx context.Context, id domain.PeerID, roomID domain.RoomID) error
	PeerDisconnected(ctx context.Context, id domain.PeerID) error
	ExpireRequests(ctx context.Context, olderThan time.Time) (int, error)
}

type SignalingRelay interface {
	Forward(ctx context.Context, kind domain.SignalKind, from, to domain.PeerID, payload json.RawMessage) error
	SendRoomMessage(ctx context.Context, from domain.PeerID, roomID domain.RoomID, message string, timestamp string) error
}

type InitUploadRequest struct {
	FileID      string
	FileName    string
	FileSize    int64
	TotalChunks int
	FileType    string
	RoomID      domain.RoomID
	PartnerID   domain.PeerID
	SenderID    domain.PeerID
}

type CompleteUploadRequest struct {
	FileID    string
	RoomID    domain.RoomID
	PartnerID domain.PeerID
	SenderID  domain.PeerID
}

// SupportedTypes describes the upload limits advertised to clients.
type SupportedTypes struct {
	Types        map[domain.FileCategory][]string
	MaxFileSize  int64
	MaxChunkSize int64
}

// Download is an opened completed file.
type Download struct {
	Content  io.ReadSeekCloser
	Name     string
	Size     int64
	MimeType string
	ModTime  time.Time
}

type UploadService interface {
	InitSession(ctx context.Context, req InitUploadRequest) (*domain.UploadSession, error)
	RecordChunk(ctx context.Context, fileID string, index int, r io.Reader) (domain.ChunkProgress, error)
	Complete(ctx context.Context, req CompleteUploadRequest) (*domain.CompletedFile, error)
	Cleanup(ctx context.Context, fileID string) error
	OpenDownload(ctx context.Context, storedName string) (*Download, error)
	SupportedTypes() SupportedTypes
	SweepStale(ctx context.Context, olderThan time.Time) (int, error)
}

// Metrics records domain counters; implementations must be safe for
// concurrent use.
type Metrics interface {
	SetPeersOnline(n int)
	RequestCreated(kind domain.RequestKind)
	RequestResolved(kind domain.RequestKind, outcome string)
	CallStarted(kind domain.RequestKind)
	CallEnded(kind domain.RequestKind, duration time.Duration)
	SignalForwarded(kind domain.SignalKind, delivered bool)
	ChunkStored(bytes int64)
	UploadStarted()
	UploadCompleted(bytes int64, mergeDuration time.Duration)
	UploadFailed(reason string)
	SweepRemoved(kind string, n int)
}
