package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lanlink/internal/core/ports"
)

// SweeperConfig sets the cron schedule and the age limits for each sweep.
// A zero TTL disables that sweep.
type SweeperConfig struct {
	Schedule   string
	RequestTTL time.Duration
	SessionTTL time.Duration
}

// ExpirySweeper periodically expires pending requests, stale uploads and
// orphaned rooms.
type ExpirySweeper struct {
	negotiation ports.NegotiationService
	presence    ports.PresenceService
	uploads     ports.UploadService
	metrics     ports.Metrics
	cfg         SweeperConfig
	logger      *zap.SugaredLogger
	now         func() time.Time

	cron *cron.Cron
}

// NewExpirySweeper builds a sweeper; call Start to schedule it.
func NewExpirySweeper(
	negotiation ports.NegotiationService,
	presence ports.PresenceService,
	uploads ports.UploadService,
	metrics ports.Metrics,
	cfg SweeperConfig,
	logger *zap.SugaredLogger,
) *ExpirySweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	return &ExpirySweeper{
		negotiation: negotiation,
		presence:    presence,
		uploads:     uploads,
		metrics:     metricsOrNop(metrics),
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Start schedules RunOnce; it returns an error for an invalid schedule.
func (s *ExpirySweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.logger.Warnw("expiry sweep finished with errors", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron = c
	c.Start()
	s.logger.Infow("expiry sweeper started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop waits for a running sweep to finish or ctx to end.
func (s *ExpirySweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce runs every sweep; a failing sweep does not stop the others.
func (s *ExpirySweeper) RunOnce(ctx context.Context) error {
	now := s.now()
	var errs error

	if s.cfg.RequestTTL > 0 {
		n, err := s.negotiation.ExpireRequests(ctx, now.Add(-s.cfg.RequestTTL))
		errs = multierr.Append(errs, err)
		s.metrics.SweepRemoved("requests", n)
	}

	if s.cfg.SessionTTL > 0 {
		n, err := s.uploads.SweepStale(ctx, now.Add(-s.cfg.SessionTTL))
		errs = multierr.Append(errs, err)
		s.metrics.SweepRemoved("uploads", n)
	}

	n, err := s.presence.SweepOrphanRooms(ctx)
	errs = multierr.Append(errs, err)
	s.metrics.SweepRemoved("rooms", n)

	return errs
}
