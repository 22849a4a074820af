package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

// DefaultRetentionSchedule runs the purge once an hour
const DefaultRetentionSchedule = "@hourly"

// Purger deletes expired delivery rows
type Purger interface {
	Purge(ctx context.Context, deliveredBefore, failedBefore time.Time) (int64, error)
}

/* RetentionJob gives Postgres the same lifetime rules Redis gets from key TTLs.
 * It implements cron.Job.
 */
type RetentionJob struct {
	Purger       Purger
	DeliveredTTL time.Duration
	FailedTTL    time.Duration
	Clock        webhook.Clock
	Logger       zerolog.Logger
	Timeout      time.Duration
}

func NewRetentionJob(purger Purger, deliveredTTL, failedTTL time.Duration, logger zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		Purger:       purger,
		DeliveredTTL: deliveredTTL,
		FailedTTL:    failedTTL,
		Clock:        webhook.SystemClock{},
		Logger:       logger,
		Timeout:      time.Minute,
	}
}

// Run purges once
func (j *RetentionJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
	defer cancel()

	now := j.Clock.Now()
	n, err := j.Purger.Purge(ctx, now.Add(-j.DeliveredTTL), now.Add(-j.FailedTTL))
	if err != nil {
		j.Logger.Error().Err(err).Msg("purging expired deliveries")
		return
	}
	j.Logger.Info().Int64("deleted", n).Msg("expired deliveries purged")
}

// ScheduleRetention starts a cron scheduler running job on schedule.
// Callers stop it with Stop.
func ScheduleRetention(schedule string, job cron.Job) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if _, err := c.AddJob(schedule, job); err != nil {
		return nil, fmt.Errorf("parsing retention schedule: %w", err)
	}

	c.Start()
	return c, nil
}
