package runner

import (
	"context"
	"time"

	"github.com/ecociel/fetchq/uc"
	"github.com/rs/zerolog"
)

// Runner drives the dispatcher: a fast tick claims and executes due tasks,
// a slow tick reclaims tasks stuck in running.
type Runner struct {
	Process    uc.ProcessDueTasksUseCase
	Reclaim    uc.ReclaimStuckUseCase
	Limit      int
	Every      time.Duration
	StuckAfter time.Duration
	Log        zerolog.Logger
}

func New(process uc.ProcessDueTasksUseCase, reclaim uc.ReclaimStuckUseCase, limit int, interval, stuckAfter time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		Process:    process,
		Reclaim:    reclaim,
		Limit:      limit,
		Every:      interval,
		StuckAfter: stuckAfter,
		Log:        log,
	}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	reclaim := time.NewTicker(r.StuckAfter)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Process(ctx, r.Limit); err != nil {
				r.Log.Error().Err(err).Msg("dispatcher process error")
			}
		case <-reclaim.C:
			if _, err := r.Reclaim(ctx, r.StuckAfter); err != nil {
				r.Log.Error().Err(err).Msg("dispatcher reclaim error")
			}
		}
	}
}
