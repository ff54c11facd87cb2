package retention

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scheduler runs the sweeper on a cron schedule such as "@hourly" or "0 * * * *".
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
}

// NewScheduler validates schedule. Overlapping runs are skipped.
func NewScheduler(sweeper *Sweeper, schedule string, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper: sweeper,
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx := logger.With().Str("job", "retention").Logger().WithContext(context.Background())
		_, _ = s.sweeper.Sweep(ctx)
	})
	if err != nil {
		return nil, ErrInvalidSchedule.MsgErr("invalid retention schedule "+schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Msg("retention schedule started")
}

// Stop stops scheduling and waits for a running sweep, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
