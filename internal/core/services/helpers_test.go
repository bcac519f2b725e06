package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	"lanlink/internal/infrastructure/repositories/memory"
)

var errNotConnected = errors.New("not connected")

type sentEvent struct {
	To    domain.PeerID
	Event domain.Event
}

// recordingNotifier keeps every delivered event. Peers listed in offline
// fail delivery.
type recordingNotifier struct {
	mu      sync.Mutex
	events  []sentEvent
	offline map[domain.PeerID]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{offline: make(map[domain.PeerID]bool)}
}

func (n *recordingNotifier) Notify(ctx context.Context, to domain.PeerID, event domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline[to] {
		return errNotConnected
	}
	n.events = append(n.events, sentEvent{To: to, Event: event})
	return nil
}

// For returns events sent to id with the given name.
func (n *recordingNotifier) For(id domain.PeerID, name string) []map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []map[string]interface{}
	for _, e := range n.events {
		if e.To == id && e.Event.Name == name {
			data, _ := e.Event.Data.(map[string]interface{})
			out = append(out, data)
		}
	}
	return out
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type recordingRoster struct {
	mu        sync.Mutex
	published [][]domain.PeerSummary
}

func (r *recordingRoster) PublishRoster(ctx context.Context, roster []domain.PeerSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, roster)
}

func (r *recordingRoster) Last() []domain.PeerSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.published) == 0 {
		return nil
	}
	return r.published[len(r.published)-1]
}

func (r *recordingRoster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

// MockNotifier is used where a test needs to assert exact calls.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, to domain.PeerID, event domain.Event) error {
	args := m.Called(ctx, to, event)
	return args.Error(0)
}

type realtimeFixture struct {
	presence    ports.PresenceService
	negotiation ports.NegotiationService
	relay       ports.SignalingRelay
	notifier    *recordingNotifier
	roster      *recordingRoster
	requests    ports.RequestRepository
	calls       ports.CallRepository
	rooms       ports.RoomRepository
}

func newRealtimeFixture(t *testing.T, opts PresenceOptions) *realtimeFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	f := &realtimeFixture{
		notifier: newRecordingNotifier(),
		roster:   &recordingRoster{},
		requests: memory.NewMemoryRequestRepository(),
		calls:    memory.NewMemoryCallRepository(),
		rooms:    memory.NewMemoryRoomRepository(),
	}
	f.presence = NewPresenceService(memory.NewMemoryPeerRepository(), f.rooms, f.notifier, f.roster, nil, opts, logger)
	f.negotiation = NewNegotiationService(f.presence, f.requests, f.calls, f.notifier, nil, logger)
	f.relay = NewSignalingRelay(f.presence, f.notifier, nil, logger)
	return f
}

func (f *realtimeFixture) register(t *testing.T, id, address string) *domain.Peer {
	t.Helper()
	peer, _, err := f.presence.Register(context.Background(), domain.PeerID(id), address)
	require.NoError(t, err)
	return peer
}

// setNegotiationClock pins the request clock for expiry tests.
func setNegotiationClock(svc ports.NegotiationService, now func() time.Time) {
	svc.(*negotiationService).now = now
}
