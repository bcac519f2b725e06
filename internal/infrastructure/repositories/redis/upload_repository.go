package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const uploadIndexKey = "lanlink:uploads:updated"

// RedisUploadRepository stores each session as a JSON string with its chunk
// indexes in a set, and keeps a sorted set of fileIds by last update for
// the sweeper.
type RedisUploadRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// uploadRecord is the JSON stored per session; chunk indexes live in a set.
type uploadRecord struct {
	FileID       string              `json:"file_id"`
	FileName     string              `json:"file_name"`
	OriginalName string              `json:"original_name"`
	DeclaredSize int64               `json:"declared_size"`
	MimeType     string              `json:"mime_type"`
	Category     domain.FileCategory `json:"category"`
	TotalChunks  int                 `json:"total_chunks"`
	TargetRoom   domain.RoomID       `json:"target_room,omitempty"`
	TargetPeer   domain.PeerID       `json:"target_peer,omitempty"`
	SenderID     domain.PeerID       `json:"sender_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	LastUpdate   time.Time           `json:"last_update"`
}

// NewRedisUploadRepository keeps keys for ttl after the last write so a
// crashed process does not leave sessions behind forever.
func NewRedisUploadRepository(client *redis.Client, ttl time.Duration) ports.UploadSessionRepository {
	return &RedisUploadRepository{
		client: client,
		prefix: "lanlink:upload:",
		ttl:    ttl,
	}
}

func (r *RedisUploadRepository) sessionKey(fileID string) string {
	return r.prefix + fileID
}

func (r *RedisUploadRepository) chunksKey(fileID string) string {
	return r.prefix + fileID + ":chunks"
}

func toRecord(s *domain.UploadSession) uploadRecord {
	return uploadRecord{
		FileID:       s.FileID,
		FileName:     s.FileName,
		OriginalName: s.OriginalName,
		DeclaredSize: s.DeclaredSize,
		MimeType:     s.MimeType,
		Category:     s.Category,
		TotalChunks:  s.TotalChunks,
		TargetRoom:   s.TargetRoom,
		TargetPeer:   s.TargetPeer,
		SenderID:     s.SenderID,
		CreatedAt:    s.CreatedAt,
		LastUpdate:   s.LastUpdate,
	}
}

func (rec uploadRecord) toSession(chunks []string) (*domain.UploadSession, error) {
	s := &domain.UploadSession{
		FileID:         rec.FileID,
		FileName:       rec.FileName,
		OriginalName:   rec.OriginalName,
		DeclaredSize:   rec.DeclaredSize,
		MimeType:       rec.MimeType,
		Category:       rec.Category,
		TotalChunks:    rec.TotalChunks,
		UploadedChunks: make(map[int]struct{}, len(chunks)),
		TargetRoom:     rec.TargetRoom,
		TargetPeer:     rec.TargetPeer,
		SenderID:       rec.SenderID,
		CreatedAt:      rec.CreatedAt,
		LastUpdate:     rec.LastUpdate,
	}
	for _, c := range chunks {
		idx, err := strconv.Atoi(c)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk index %q: %w", c, err)
		}
		s.UploadedChunks[idx] = struct{}{}
	}
	return s, nil
}

// Save replaces the session and its chunk set.
func (r *RedisUploadRepository) Save(ctx context.Context, session *domain.UploadSession) error {
	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("failed to marshal upload session: %w", err)
	}

	chunks := make([]interface{}, 0, len(session.UploadedChunks))
	for _, idx := range session.ChunkIndexes() {
		chunks = append(chunks, idx)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(session.FileID), data, r.ttl)
		pipe.Del(ctx, r.chunksKey(session.FileID))
		if len(chunks) > 0 {
			pipe.SAdd(ctx, r.chunksKey(session.FileID), chunks...)
			pipe.Expire(ctx, r.chunksKey(session.FileID), r.ttl)
		}
		pipe.ZAdd(ctx, uploadIndexKey, redis.Z{
			Score:  float64(session.LastUpdate.UnixMilli()),
			Member: session.FileID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save upload session in Redis: %w", err)
	}
	return nil
}

// Get returns ErrSessionNotFound when the key is missing or expired.
func (r *RedisUploadRepository) Get(ctx context.Context, fileID string) (*domain.UploadSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(fileID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session from Redis: %w", err)
	}

	var rec uploadRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload session: %w", err)
	}

	chunks, err := r.client.SMembers(ctx, r.chunksKey(fileID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get uploaded chunks from Redis: %w", err)
	}
	return rec.toSession(chunks)
}

// AddChunk relies on the caller's per-file lock to keep it ordered against
// Delete; SADD itself makes duplicate indexes a no-op.
func (r *RedisUploadRepository) AddChunk(ctx context.Context, fileID string, index int, at time.Time) (*domain.UploadSession, error) {
	session, err := r.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	session.LastUpdate = at

	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.chunksKey(fileID), index)
		pipe.Expire(ctx, r.chunksKey(fileID), r.ttl)
		pipe.Set(ctx, r.sessionKey(fileID), data, r.ttl)
		pipe.ZAdd(ctx, uploadIndexKey, redis.Z{Score: float64(at.UnixMilli()), Member: fileID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record chunk in Redis: %w", err)
	}

	return r.Get(ctx, fileID)
}

// Delete removes the session, its chunks and its index entry.
func (r *RedisUploadRepository) Delete(ctx context.Context, fileID string) error {
	cmds, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(fileID))
		pipe.Del(ctx, r.chunksKey(fileID))
		pipe.ZRem(ctx, uploadIndexKey, fileID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete upload session from Redis: %w", err)
	}
	if n, _ := cmds[0].(*redis.IntCmd).Result(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ListUpdatedBefore returns sessions last updated before t. Index entries
// whose session already expired are pruned.
func (r *RedisUploadRepository) ListUpdatedBefore(ctx context.Context, t time.Time) ([]*domain.UploadSession, error) {
	ids, err := r.client.ZRangeByScore(ctx, uploadIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(t.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale uploads from Redis: %w", err)
	}

	var stale []*domain.UploadSession
	for _, id := range ids {
		session, err := r.Get(ctx, id)
		if err == domain.ErrSessionNotFound {
			// Key expired on its own; drop the index entry.
			r.client.ZRem(ctx, uploadIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		stale = append(stale, session)
	}
	return stale, nil
}
