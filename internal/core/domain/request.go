package domain

import "time"

type RequestID string

type RequestKind string

const (
	RequestKindChat  RequestKind = "chat"
	RequestKindVideo RequestKind = "video"
	RequestKindAudio RequestKind = "audio"
)

func (k RequestKind) IsCall() bool {
	return k == RequestKindVideo || k == RequestKindAudio
}

// ParseCallKind maps the client supplied call type; empty means video.
func ParseCallKind(s string) (RequestKind, error) {
	switch RequestKind(s) {
	case "":
		return RequestKindVideo, nil
	case RequestKindVideo, RequestKindAudio:
		return RequestKind(s), nil
	}
	return "", ErrInvalidCallKind
}

// PendingRequest is an outstanding chat or call invitation.
type PendingRequest struct {
	ID        RequestID
	From      PeerID
	To        PeerID
	Kind      RequestKind
	CreatedAt time.Time
}

func (r *PendingRequest) Involves(id PeerID) bool {
	return r.From == id || r.To == id
}
