package domain

import (
	"sort"
	"time"
)

// UploadSession is the server-side bookkeeping for one chunked upload.
type UploadSession struct {
	FileID         string
	FileName       string
	OriginalName   string
	DeclaredSize   int64
	MimeType       string
	Category       FileCategory
	TotalChunks    int
	UploadedChunks map[int]struct{}
	TargetRoom     RoomID
	TargetPeer     PeerID
	SenderID       PeerID
	CreatedAt      time.Time
	LastUpdate     time.Time
}

// AddChunk records index and reports whether it was new.
func (s *UploadSession) AddChunk(index int) bool {
	if s.UploadedChunks == nil {
		s.UploadedChunks = make(map[int]struct{})
	}
	if _, ok := s.UploadedChunks[index]; ok {
		return false
	}
	s.UploadedChunks[index] = struct{}{}
	return true
}

func (s *UploadSession) UploadedCount() int {
	return len(s.UploadedChunks)
}

// IsComplete reports whether every chunk index has been received.
func (s *UploadSession) IsComplete() bool {
	return len(s.UploadedChunks) == s.TotalChunks
}

// MissingCount is TotalChunks minus the received count.
func (s *UploadSession) MissingCount() int {
	missing := s.TotalChunks - len(s.UploadedChunks)
	if missing < 0 {
		return 0
	}
	return missing
}

// Progress is the received fraction in [0, 1].
func (s *UploadSession) Progress() float64 {
	if s.TotalChunks <= 0 {
		return 0
	}
	return float64(len(s.UploadedChunks)) / float64(s.TotalChunks)
}

// ChunkIndexes returns received indexes in ascending order.
func (s *UploadSession) ChunkIndexes() []int {
	idx := make([]int, 0, len(s.UploadedChunks))
	for i := range s.UploadedChunks {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// StoredName is the completed-area file name for this session.
func (s *UploadSession) StoredName() string {
	return s.FileID + "_" + s.FileName
}

func (s *UploadSession) Clone() *UploadSession {
	if s == nil {
		return nil
	}
	c := *s
	c.UploadedChunks = make(map[int]struct{}, len(s.UploadedChunks))
	for i := range s.UploadedChunks {
		c.UploadedChunks[i] = struct{}{}
	}
	return &c
}

// ChunkProgress is returned after each recorded chunk.
type ChunkProgress struct {
	ChunkIndex int
	Uploaded   int
	Total      int
	Fraction   float64
}

// Percent is the progress as a percentage rounded to two decimals.
func (p ChunkProgress) Percent() float64 {
	return float64(int64(p.Fraction*10000+0.5)) / 100
}

// CompletedFile describes a merged upload ready for download.
type CompletedFile struct {
	FileID       string       `json:"fileId"`
	FileName     string       `json:"fileName"`
	OriginalName string       `json:"originalName"`
	Size         int64        `json:"fileSize"`
	MimeType     string       `json:"fileType"`
	Category     FileCategory `json:"fileCategory"`
	DownloadURL  string       `json:"downloadUrl"`
	CompletedAt  time.Time    `json:"-"`
}
