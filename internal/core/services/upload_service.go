package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/pkg/cache"
	"lanlink/pkg/tracing"
	"lanlink/pkg/utils"
	"lanlink/pkg/validation"
)

// UploadOptions sets upload limits, the allow-list and merge concurrency.
type UploadOptions struct {
	MaxFileSize  int64
	MaxChunkSize int64
	MergeWorkers int
	DownloadPath string
	FileTypes    *domain.FileTypes
	// CompletedTTL bounds how long download metadata is remembered.
	CompletedTTL time.Duration
}

// DefaultUploadOptions allows 10 GB files in chunks of up to 10 MB.
func DefaultUploadOptions() UploadOptions {
	return UploadOptions{
		MaxFileSize:  10 << 30,
		MaxChunkSize: 10 << 20,
		MergeWorkers: 2,
		DownloadPath: "/api/files/download",
		FileTypes:    domain.NewFileTypes(nil),
		CompletedTTL: 24 * time.Hour,
	}
}

// RoomDirectory resolves room members for completion notifications.
type RoomDirectory interface {
	RoomMembers(ctx context.Context, roomID domain.RoomID) ([]domain.PeerID, error)
}

type downloadMeta struct {
	originalName string
	mimeType     string
}

// uploadService serializes operations per fileId: chunk writes share a read
// lock, while completion, cleanup and sweeping take the write lock.
type uploadService struct {
	sessions ports.UploadSessionRepository
	store    ports.ChunkStore
	rooms    RoomDirectory
	notifier ports.Notifier
	metrics  ports.Metrics
	opts     UploadOptions
	logger   *zap.SugaredLogger
	now      func() time.Time

	locks     *keyedLocks
	merges    *semaphore.Weighted
	downloads *cache.Cache[string, downloadMeta]
}

// NewUploadService builds the upload session manager. Completed files are
// announced to rooms resolved through rooms.
func NewUploadService(
	sessions ports.UploadSessionRepository,
	store ports.ChunkStore,
	rooms RoomDirectory,
	notifier ports.Notifier,
	metrics ports.Metrics,
	opts UploadOptions,
	logger *zap.SugaredLogger,
) ports.UploadService {
	defaults := DefaultUploadOptions()
	if opts.MergeWorkers <= 0 {
		opts.MergeWorkers = defaults.MergeWorkers
	}
	if opts.FileTypes == nil {
		opts.FileTypes = defaults.FileTypes
	}
	if opts.DownloadPath == "" {
		opts.DownloadPath = defaults.DownloadPath
	}

	return &uploadService{
		sessions:  sessions,
		store:     store,
		rooms:     rooms,
		notifier:  notifier,
		metrics:   metricsOrNop(metrics),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		locks:     newKeyedLocks(),
		merges:    semaphore.NewWeighted(int64(opts.MergeWorkers)),
		downloads: cache.New[string, downloadMeta](opts.CompletedTTL),
	}
}

// InitSession validates and records a new upload; an existing session with
// the same fileId is replaced.
func (s *uploadService) InitSession(ctx context.Context, req ports.InitUploadRequest) (*domain.UploadSession, error) {
	if err := validation.ValidateFileID(req.FileID); err != nil {
		return nil, fmt.Errorf("%w: fileId", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fmt.Errorf("%w: fileName is required", domain.ErrInvalidInput)
	}
	if req.TotalChunks <= 0 {
		return nil, fmt.Errorf("%w: totalChunks must be positive", domain.ErrInvalidInput)
	}
	if req.FileSize < 0 {
		return nil, fmt.Errorf("%w: fileSize must not be negative", domain.ErrInvalidInput)
	}
	if s.opts.MaxFileSize > 0 && req.FileSize > s.opts.MaxFileSize {
		return nil, domain.ErrFileTooLarge
	}
	if !s.opts.FileTypes.Allowed(req.FileName) {
		return nil, domain.ErrDisallowedType
	}

	name := utils.SanitizeFileName(req.FileName)
	if name == "" {
		return nil, fmt.Errorf("%w: fileName", domain.ErrInvalidInput)
	}
	// The stored name must later be servable from the download route.
	if err := validation.ValidateStoredName(req.FileID + "_" + name); err != nil {
		return nil, fmt.Errorf("%w: fileName", domain.ErrInvalidInput)
	}

	l := s.locks.acquire(req.FileID)
	l.Lock()
	defer s.locks.release(req.FileID, l)
	defer l.Unlock()

	// An existing session with this id is replaced.
	if err := s.store.Discard(ctx, req.FileID); err != nil {
		return nil, err
	}
	if err := s.store.Prepare(ctx, req.FileID); err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.UploadSession{
		FileID:         req.FileID,
		FileName:       name,
		OriginalName:   req.FileName,
		DeclaredSize:   req.FileSize,
		MimeType:       req.FileType,
		Category:       s.opts.FileTypes.Category(req.FileName),
		TotalChunks:    req.TotalChunks,
		UploadedChunks: make(map[int]struct{}),
		TargetRoom:     req.RoomID,
		TargetPeer:     req.PartnerID,
		SenderID:       req.SenderID,
		CreatedAt:      now,
		LastUpdate:     now,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		s.store.Discard(ctx, req.FileID)
		return nil, err
	}

	s.metrics.UploadStarted()
	s.logger.Infow("upload initialized",
		"file_id", session.FileID,
		"file_name", session.FileName,
		"size", session.DeclaredSize,
		"chunks", session.TotalChunks,
	)
	return session, nil
}

// RecordChunk stores one chunk. Repeated indexes overwrite the bytes and do
// not change the count.
func (s *uploadService) RecordChunk(ctx context.Context, fileID string, index int, r io.Reader) (domain.ChunkProgress, error) {
	if validation.ValidateFileID(fileID) != nil {
		return domain.ChunkProgress{}, domain.ErrSessionNotFound
	}

	ctx, span := tracing.TraceUpload(ctx, "chunk", fileID)
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.ChunkKey.Int(index))

	l := s.locks.acquire(fileID)
	l.RLock()
	defer s.locks.release(fileID, l)
	defer l.RUnlock()

	session, err := s.sessions.Get(ctx, fileID)
	if err != nil {
		return domain.ChunkProgress{}, err
	}
	if err := validation.ValidateChunkIndex(index, session.TotalChunks); err != nil {
		return domain.ChunkProgress{}, domain.ErrInvalidChunkIndex
	}

	n, err := s.store.Put(ctx, fileID, index, r, s.opts.MaxChunkSize)
	if err != nil {
		return domain.ChunkProgress{}, err
	}
	tracing.AddSpanAttributes(ctx, tracing.BytesKey.Int64(n))

	session, err = s.sessions.AddChunk(ctx, fileID, index, s.now())
	if err != nil {
		return domain.ChunkProgress{}, err
	}
	s.metrics.ChunkStored(n)

	return domain.ChunkProgress{
		ChunkIndex: index,
		Uploaded:   session.UploadedCount(),
		Total:      session.TotalChunks,
		Fraction:   session.Progress(),
	}, nil
}

// Complete merges every chunk into the completed area and announces the
// file. Temp chunks and the session are discarded whether or not the merge
// succeeds; an incomplete upload is left untouched.
func (s *uploadService) Complete(ctx context.Context, req ports.CompleteUploadRequest) (*domain.CompletedFile, error) {
	if validation.ValidateFileID(req.FileID) != nil {
		return nil, domain.ErrSessionNotFound
	}

	ctx, span := tracing.TraceUpload(ctx, "complete", req.FileID)
	defer span.End()

	l := s.locks.acquire(req.FileID)
	l.Lock()
	defer s.locks.release(req.FileID, l)
	defer l.Unlock()

	session, err := s.sessions.Get(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	if !session.IsComplete() {
		return nil, &domain.IncompleteUploadError{Missing: session.MissingCount()}
	}

	if req.RoomID != "" {
		session.TargetRoom = req.RoomID
	}
	if req.PartnerID != "" {
		session.TargetPeer = req.PartnerID
	}
	if req.SenderID != "" {
		session.SenderID = req.SenderID
	}

	if err := s.merges.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// The merge itself is not tied to the caller's lifetime.
	mergeCtx := context.WithoutCancel(ctx)
	started := s.now()
	size, err := s.merge(mergeCtx, session)
	s.merges.Release(1)

	if discardErr := s.discard(mergeCtx, session.FileID); discardErr != nil {
		s.logger.Warnw("failed to discard upload", "file_id", session.FileID, "error", discardErr)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		s.metrics.UploadFailed("merge")
		s.logger.Errorw("merge failed", "file_id", session.FileID, "error", err)
		return nil, err
	}

	tracing.AddSpanAttributes(ctx, tracing.BytesKey.Int64(size))

	if size != session.DeclaredSize {
		s.logger.Warnw("merged size differs from declared size",
			"file_id", session.FileID,
			"declared", session.DeclaredSize,
			"actual", size,
		)
	}

	stored := session.StoredName()
	mimeType := session.MimeType
	if mimeType == "" {
		mimeType = s.sniff(mergeCtx, stored)
	}

	completed := &domain.CompletedFile{
		FileID:       session.FileID,
		FileName:     session.FileName,
		OriginalName: session.OriginalName,
		Size:         size,
		MimeType:     mimeType,
		Category:     session.Category,
		DownloadURL:  s.opts.DownloadPath + "/" + url.PathEscape(stored),
		CompletedAt:  s.now(),
	}
	s.downloads.Set(stored, downloadMeta{originalName: session.OriginalName, mimeType: mimeType})

	s.metrics.UploadCompleted(size, s.now().Sub(started))
	s.logger.Infow("upload completed",
		"file_id", session.FileID,
		"stored_name", stored,
		"size", size,
		"category", session.Category,
	)

	s.notifyCompletion(mergeCtx, session, completed)
	return completed, nil
}

func (s *uploadService) merge(ctx context.Context, session *domain.UploadSession) (int64, error) {
	w, err := s.store.CreateCompleted(ctx, session.StoredName())
	if err != nil {
		return 0, err
	}

	n, err := s.store.MergeInOrder(ctx, session.FileID, session.TotalChunks, w)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			err = multierr.Append(err, abortErr)
		}
		return n, err
	}
	if err := w.Commit(); err != nil {
		return n, err
	}
	return n, nil
}

func (s *uploadService) sniff(ctx context.Context, stored string) string {
	f, _, err := s.store.OpenCompleted(ctx, stored)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// discard removes temp chunks and the session record.
func (s *uploadService) discard(ctx context.Context, fileID string) error {
	err := s.store.Discard(ctx, fileID)
	if delErr := s.sessions.Delete(ctx, fileID); delErr != nil && !errors.Is(delErr, domain.ErrSessionNotFound) {
		err = multierr.Append(err, delErr)
	}
	return err
}

func (s *uploadService) notifyCompletion(ctx context.Context, session *domain.UploadSession, file *domain.CompletedFile) {
	var recipients []domain.PeerID
	switch {
	case session.TargetRoom != "":
		members, err := s.rooms.RoomMembers(ctx, session.TargetRoom)
		if err != nil {
			s.logger.Warnw("completion target room unavailable", "room_id", session.TargetRoom, "error", err)
			break
		}
		for _, id := range members {
			if id != session.SenderID {
				recipients = append(recipients, id)
			}
		}
	case session.TargetPeer != "":
		recipients = append(recipients, session.TargetPeer)
	}
	if len(recipients) == 0 {
		return
	}

	event := domain.Event{
		Name: domain.EventFileReceived,
		Data: map[string]interface{}{
			"fileId":       file.FileID,
			"fileName":     file.FileName,
			"originalName": file.OriginalName,
			"fileSize":     file.Size,
			"fileType":     file.MimeType,
			"fileCategory": file.Category,
			"downloadUrl":  file.DownloadURL,
			"timestamp":    utils.UnixMillis(file.CompletedAt),
			"from_sid":     session.SenderID,
			"room_id":      session.TargetRoom,
		},
	}
	for _, id := range recipients {
		if err := s.notifier.Notify(ctx, id, event); err != nil {
			s.logger.Debugw("file notification not delivered", "peer_id", id, "file_id", file.FileID, "error", err)
		}
	}
}

// Cleanup cancels an upload and discards its chunks.
func (s *uploadService) Cleanup(ctx context.Context, fileID string) error {
	if validation.ValidateFileID(fileID) != nil {
		return domain.ErrSessionNotFound
	}

	l := s.locks.acquire(fileID)
	l.Lock()
	defer s.locks.release(fileID, l)
	defer l.Unlock()

	if _, err := s.sessions.Get(ctx, fileID); err != nil {
		return err
	}
	if err := s.discard(ctx, fileID); err != nil {
		return err
	}

	s.metrics.UploadFailed("cancelled")
	s.logger.Infow("upload cleaned up", "file_id", fileID)
	return nil
}

// OpenDownload opens a completed file by its stored name.
func (s *uploadService) OpenDownload(ctx context.Context, storedName string) (*ports.Download, error) {
	f, info, err := s.store.OpenCompleted(ctx, storedName)
	if err != nil {
		return nil, err
	}

	d := &ports.Download{
		Content: f,
		Name:    downloadName(storedName),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if meta, ok := s.downloads.Get(storedName); ok {
		d.Name = meta.originalName
		d.MimeType = meta.mimeType
	}
	return d, nil
}

// downloadName strips the "<fileId>_" prefix from a stored name.
func downloadName(stored string) string {
	if i := strings.IndexByte(stored, '_'); i >= 0 && i < len(stored)-1 {
		return stored[i+1:]
	}
	return stored
}

func (s *uploadService) SupportedTypes() ports.SupportedTypes {
	return ports.SupportedTypes{
		Types:        s.opts.FileTypes.Supported(),
		MaxFileSize:  s.opts.MaxFileSize,
		MaxChunkSize: s.opts.MaxChunkSize,
	}
}

// SweepStale discards sessions idle since before olderThan. Sessions busy
// with another operation are skipped until the next sweep.
func (s *uploadService) SweepStale(ctx context.Context, olderThan time.Time) (int, error) {
	stale, err := s.sessions.ListUpdatedBefore(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	var errs error
	removed := 0
	for _, session := range stale {
		l := s.locks.acquire(session.FileID)
		if !l.TryLock() {
			s.locks.release(session.FileID, l)
			continue
		}

		current, err := s.sessions.Get(ctx, session.FileID)
		if err == nil && current.LastUpdate.Before(olderThan) {
			if err := s.discard(ctx, session.FileID); err != nil {
				errs = multierr.Append(errs, err)
			} else {
				removed++
			}
		}
		l.Unlock()
		s.locks.release(session.FileID, l)
	}

	s.downloads.Prune()
	if removed > 0 {
		s.logger.Infow("stale uploads removed", "count", removed)
	}
	return removed, errs
}

type keyedLock struct {
	sync.RWMutex
	refs int
}

// keyedLocks hands out one RWMutex per key and forgets it when unused.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) acquire(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedLocks) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
