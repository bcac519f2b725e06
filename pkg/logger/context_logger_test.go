package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_AddsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := NewContextLogger(zap.New(core).Sugar())

	ctx := WithRequestID(context.Background(), "req_1")
	ctx = WithPeerID(ctx, "peer-a")
	cl.WithContext(ctx).Infow("hello", "k", "v")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req_1", fields["request_id"])
	assert.Equal(t, "peer-a", fields["peer_id"])
	assert.Equal(t, "v", fields["k"])
	assert.NotContains(t, fields, "trace_id")
}

func TestContextLogger_NoFieldsReturnsBaseLogger(t *testing.T) {
	base := zap.NewNop().Sugar()
	cl := NewContextLogger(base)
	assert.Same(t, base, cl.WithContext(context.Background()))
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := New("not-a-level")
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))

	d := New("debug", "console")
	assert.True(t, d.Core().Enabled(zap.DebugLevel))
}
