package domain

import "time"

type RoomID string

type RoomKind string

const (
	RoomKindChat RoomKind = "chat"
	RoomKindCall RoomKind = "call"
)

// Room groups exactly the peers taking part in one chat or call.
type Room struct {
	ID        RoomID
	Kind      RoomKind
	Members   map[PeerID]struct{}
	CreatedAt time.Time
}

// NewRoom returns an empty room.
func NewRoom(id RoomID, kind RoomKind, createdAt time.Time) *Room {
	return &Room{
		ID:        id,
		Kind:      kind,
		Members:   make(map[PeerID]struct{}),
		CreatedAt: createdAt,
	}
}

func (r *Room) HasMember(id PeerID) bool {
	_, ok := r.Members[id]
	return ok
}

// MemberIDs returns members in no particular order.
func (r *Room) MemberIDs() []PeerID {
	ids := make([]PeerID, 0, len(r.Members))
	for id := range r.Members {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCall is keyed by the call's room id.
type ActiveCall struct {
	RoomID       RoomID
	Participants [2]PeerID
	Kind         RequestKind
	StartedAt    time.Time
}

func (c *ActiveCall) Involves(id PeerID) bool {
	return c.Participants[0] == id || c.Participants[1] == id
}

// Partner returns the other participant, or "" if id is not in the call.
func (c *ActiveCall) Partner(id PeerID) PeerID {
	switch id {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}
