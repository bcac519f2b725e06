package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

type nopMetrics struct{}

func (nopMetrics) SetPeersOnline(int) {}
func (nopMetrics) RequestCreated(domain.RequestKind) {}
func (nopMetrics) RequestResolved(domain.RequestKind, string) {}
func (nopMetrics) CallStarted(domain.RequestKind) {}
func (nopMetrics) CallEnded(domain.RequestKind, time.Duration) {}
func (nopMetrics) SignalForwarded(domain.SignalKind, bool) {}
func (nopMetrics) ChunkStored(int64) {}
func (nopMetrics) UploadStarted() {}
func (nopMetrics) UploadCompleted(int64, time.Duration) {}
func (nopMetrics) UploadFailed(string) {}
func (nopMetrics) SweepRemoved(string, int) {}

func metricsOrNop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

type delivery struct {
	to    domain.PeerID
	event domain.Event
}

// outbox collects events while a lock is held so they can be sent after it
// is released.
type outbox []delivery

func (o *outbox) add(to domain.PeerID, name string, data interface{}) {
	*o = append(*o, delivery{to: to, event: domain.Event{Name: name, Data: data}})
}

func (o outbox) flush(ctx context.Context, n ports.Notifier, logger *zap.SugaredLogger) {
	for _, d := range o {
		if err := n.Notify(ctx, d.to, d.event); err != nil {
			logger.Debugw("event not delivered",
				"event", d.event.Name,
				"peer_id", d.to,
				"error", err,
			)
		}
	}
}
