package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPeerNotFound    = errors.New("peer not found")
	ErrTargetOffline   = errors.New("target peer offline")
	ErrTargetBusy      = errors.New("user is busy")
	ErrSelfRequest     = errors.New("cannot send a request to yourself")
	ErrInvalidName     = errors.New("display name must not be empty")
	ErrInvalidCallKind = errors.New("call type must be video or audio")
	ErrRequestNotFound = errors.New("request not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotRoomMember   = errors.New("peer is not a member of the room")

	ErrInvalidInput      = errors.New("invalid input")
	ErrSessionNotFound   = errors.New("upload session not found")
	ErrFileTooLarge      = errors.New("file too large")
	ErrDisallowedType    = errors.New("file type not allowed")
	ErrInvalidChunkIndex = errors.New("chunk index out of range")
	ErrChunkTooLarge     = errors.New("chunk too large")
	ErrIncompleteUpload  = errors.New("upload incomplete")
	ErrMissingChunk      = errors.New("missing chunk")
	ErrFileNotFound      = errors.New("file not found")
)

// IncompleteUploadError reports how many chunks are still outstanding.
type IncompleteUploadError struct {
	Missing int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("Missing %d chunks", e.Missing)
}

func (e *IncompleteUploadError) Is(target error) bool {
	return target == ErrIncompleteUpload
}

// MissingChunkError is returned by a merge that finds a gap on disk.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}

func (e *MissingChunkError) Is(target error) bool {
	return target == ErrMissingChunk
}
