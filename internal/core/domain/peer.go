package domain

import "time"

type PeerID string

type PeerStatus string

const (
	PeerStatusOnline PeerStatus = "online"
	// Reserved, not yet produced by the registry.
	PeerStatusAway PeerStatus = "away"
	PeerStatusBusy PeerStatus = "busy"
)

// Peer is the registry record for one live connection.
type Peer struct {
	ID          PeerID
	Address     string
	DisplayName string
	Status      PeerStatus
	ConnectedAt time.Time
	CurrentRoom RoomID
	InCall      bool
}

// PeerSummary is the roster view of a peer sent to clients.
type PeerSummary struct {
	ID          PeerID     `json:"sid"`
	Address     string     `json:"ip"`
	DisplayName string     `json:"username"`
	Status      PeerStatus `json:"status"`
	InCall      bool       `json:"in_call"`
}

func (p *Peer) Summary() PeerSummary {
	return PeerSummary{
		ID:          p.ID,
		Address:     p.Address,
		DisplayName: p.DisplayName,
		Status:      p.Status,
		InCall:      p.InCall,
	}
}

func (p *Peer) Clone() *Peer {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
