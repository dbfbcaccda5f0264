package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"zone-contest-system/config"
	"zone-contest-system/logger"
)

// Scheduler runs the periodic expiry sweep, the leaderboard refresh and the
// one-time expiry of individual claims.
type Scheduler struct {
	sched       gocron.Scheduler
	zones       *ZoneService
	leaderboard *LeaderboardService
	cfg         config.LeaderboardConfig
	ctx         context.Context
}

func NewScheduler(ctx context.Context, zones *ZoneService, leaderboard *LeaderboardService, cfg config.LeaderboardConfig) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		sched:       sched,
		zones:       zones,
		leaderboard: leaderboard,
		cfg:         cfg,
		ctx:         ctx,
	}, nil
}

// Start registers the periodic jobs and starts the scheduler
func (s *Scheduler) Start() error {
	// Every hour (by default): clear lapsed claims
	if _, err := s.sched.NewJob(
		gocron.DurationJob(s.cfg.ExpirySweepInterval),
		gocron.NewTask(func() {
			if _, err := s.zones.SweepExpired(s.ctx); err != nil {
				logger.Error(err, zap.String("job", "zone-expiry-sweep"))
			}
		}),
		gocron.WithName("zone-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	// Every 4 hours (by default): rebuild rankings, then snapshot them
	if _, err := s.sched.NewJob(
		gocron.DurationJob(s.cfg.RefreshInterval),
		gocron.NewTask(func() {
			if err := s.leaderboard.RebuildAll(s.ctx); err != nil {
				logger.Error(err, zap.String("job", "leaderboard-refresh"))
			}
			if err := s.leaderboard.SnapshotAll(s.ctx); err != nil {
				logger.Error(err, zap.String("job", "leaderboard-snapshot"))
			}
		}),
		gocron.WithName("leaderboard-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule leaderboard refresh: %w", err)
	}

	s.sched.Start()
	logger.Info("Scheduler started",
		zap.Duration("expiry_sweep_interval", s.cfg.ExpirySweepInterval),
		zap.Duration("refresh_interval", s.cfg.RefreshInterval),
	)
	return nil
}

func expiryTag(zoneID string) string {
	return "expire:" + zoneID
}

// ScheduleExpiry expires zoneID at the given time, read on the zone service's
// clock. A newer schedule for the same zone replaces the previous one.
func (s *Scheduler) ScheduleExpiry(zoneID string, at time.Time) {
	tag := expiryTag(zoneID)
	s.sched.RemoveByTags(tag)

	// gocron runs on wall time, so carry over only the remaining delay
	start := gocron.OneTimeJobStartImmediately()
	if delay := at.Sub(s.zones.Clock.Now()); delay > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(delay))
	}

	_, err := s.sched.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			if _, err := s.zones.Expire(s.ctx, zoneID); err != nil {
				logger.Error(err, zap.String("zone_id", zoneID), zap.String("job", "zone-expiry"))
			}
		}),
		gocron.WithName(tag),
		gocron.WithTags(tag),
	)
	if err != nil {
		logger.Error(err, zap.String("zone_id", zoneID), zap.String("message", "failed to schedule zone expiry"))
	}
}

// Shutdown stops the scheduler and waits for running jobs
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
