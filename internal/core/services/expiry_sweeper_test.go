package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanlink/internal/core/ports"
)

// The embedded interfaces panic if the sweeper calls anything unexpected.
type MockNegotiation struct {
	ports.NegotiationService
	mock.Mock
}

func (m *MockNegotiation) ExpireRequests(ctx context.Context, olderThan time.Time) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

type MockPresence struct {
	ports.PresenceService
	mock.Mock
}

func (m *MockPresence) SweepOrphanRooms(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockUploads struct {
	ports.UploadService
	mock.Mock
}

func (m *MockUploads) SweepStale(ctx context.Context, olderThan time.Time) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func TestExpirySweeper_RunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	neg, pres, up := new(MockNegotiation), new(MockPresence), new(MockUploads)

	neg.On("ExpireRequests", mock.Anything, now.Add(-2*time.Minute)).Return(2, nil)
	up.On("SweepStale", mock.Anything, now.Add(-time.Hour)).Return(1, nil)
	pres.On("SweepOrphanRooms", mock.Anything).Return(0, nil)

	s := NewExpirySweeper(neg, pres, up, nil, SweeperConfig{
		RequestTTL: 2 * time.Minute,
		SessionTTL: time.Hour,
	}, zaptest.NewLogger(t).Sugar())
	s.now = func() time.Time { return now }

	require.NoError(t, s.RunOnce(context.Background()))
	neg.AssertExpectations(t)
	up.AssertExpectations(t)
	pres.AssertExpectations(t)
}

func TestExpirySweeper_ErrorsDoNotStopOtherSweeps(t *testing.T) {
	neg, pres, up := new(MockNegotiation), new(MockPresence), new(MockUploads)

	neg.On("ExpireRequests", mock.Anything, mock.Anything).Return(0, errors.New("requests down"))
	up.On("SweepStale", mock.Anything, mock.Anything).Return(0, errors.New("disk down"))
	pres.On("SweepOrphanRooms", mock.Anything).Return(3, nil)

	s := NewExpirySweeper(neg, pres, up, nil, SweeperConfig{
		RequestTTL: time.Minute,
		SessionTTL: time.Minute,
	}, zaptest.NewLogger(t).Sugar())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requests down")
	assert.Contains(t, err.Error(), "disk down")
	pres.AssertExpectations(t)
}

func TestExpirySweeper_DisabledTTLSkipsSweep(t *testing.T) {
	neg, pres, up := new(MockNegotiation), new(MockPresence), new(MockUploads)
	pres.On("SweepOrphanRooms", mock.Anything).Return(0, nil)

	s := NewExpirySweeper(neg, pres, up, nil, SweeperConfig{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, s.RunOnce(context.Background()))

	neg.AssertNotCalled(t, "ExpireRequests", mock.Anything, mock.Anything)
	up.AssertNotCalled(t, "SweepStale", mock.Anything, mock.Anything)
}

func TestExpirySweeper_StartRejectsBadSchedule(t *testing.T) {
	s := NewExpirySweeper(nil, nil, nil, nil, SweeperConfig{Schedule: "not a schedule"}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, s.Start())

	ok := NewExpirySweeper(nil, nil, nil, nil, SweeperConfig{Schedule: "@every 1h"}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, ok.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok.Stop(ctx)
}
