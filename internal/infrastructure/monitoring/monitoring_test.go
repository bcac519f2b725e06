package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"lanlink/internal/core/domain"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("a", func(context.Context) error { return nil }, 0)
	h.AddCheck("b", func(context.Context) error { return nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, map[string]string{"a": "healthy", "b": "healthy"}, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailureAndTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("broken", func(context.Context) error { return errors.New("disk full") }, 0)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "disk full", status.Checks["broken"])
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestPrometheusCollector_Counters(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.SetPeersOnline(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(p.peersOnline))

	p.RequestCreated(domain.RequestKindChat)
	p.RequestCreated(domain.RequestKindVideo)
	p.RequestResolved(domain.RequestKindChat, "accepted")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.pendingRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requestsResolved.WithLabelValues("chat", "accepted")))

	p.SignalForwarded(domain.SignalOffer, true)
	p.SignalForwarded(domain.SignalOffer, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.signalsRelay.WithLabelValues("offer", "dropped")))

	p.UploadStarted()
	p.UploadStarted()
	p.ChunkStored(100)
	p.UploadCompleted(100, time.Second)
	p.SweepRemoved("uploads", 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.uploadsInFlight))
	assert.Equal(t, 100.0, testutil.ToFloat64(p.bytesReceived))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}
