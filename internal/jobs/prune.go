// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kelaseh/backend/internal/metrics"
	"github.com/kelaseh/backend/internal/service"
)

type UsagePruner interface {
	PruneUsage(ctx context.Context, beforeDay string) (int64, error)
}

// UsagePrune deletes daily usage counters older than RetentionDays.
type UsagePrune struct {
	Store         UsagePruner
	RetentionDays int
	Location      *time.Location
	Clock         service.Clock
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	Timeout       time.Duration
}

// Cutoff is the first day that is kept.
func (p *UsagePrune) Cutoff(now time.Time) string {
	return service.Day(now.AddDate(0, 0, -p.RetentionDays), p.Location)
}

func (p *UsagePrune) Run(ctx context.Context) (int64, error) {
	if p.RetentionDays <= 0 {
		return 0, nil
	}
	clock := p.Clock
	if clock == nil {
		clock = service.SystemClock{}
	}
	cutoff := p.Cutoff(clock.Now())
	n, err := p.Store.PruneUsage(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune usage before %s: %w", cutoff, err)
	}
	p.Metrics.Pruned(n)
	p.Logger.Info().Str("cutoff", cutoff).Int64("removed", n).Msg("usage counters pruned")
	return n, nil
}

// Schedule registers the prune on a cron running in the job's location. The
// returned scheduler is not started. An empty schedule disables the job.
func (p *UsagePrune) Schedule(schedule string) (*cron.Cron, error) {
	schedule = strings.TrimSpace(schedule)
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if schedule == "" || p.RetentionDays <= 0 {
		p.Logger.Info().Msg("usage prune disabled")
		return c, nil
	}
	_, err := c.AddFunc(schedule, func() {
		ctx := context.Background()
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		if _, err := p.Run(ctx); err != nil {
			p.Logger.Error().Err(err).Msg("usage prune failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	p.Logger.Info().Str("schedule", schedule).Int("retention_days", p.RetentionDays).Msg("usage prune scheduled")
	return c, nil
}
