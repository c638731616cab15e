// Package keeper runs the vault's housekeeping on cron schedules: funding
// accrual for every listed token and a sweep that liquidates unhealthy
// positions.
package keeper

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner schedules jobs with a shared base context. Overlapping runs of the
// same job are skipped.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.SugaredLogger
	baseCtx context.Context
}

func NewRunner(logger *zap.SugaredLogger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add schedules job under spec. Standard five-field specs and descriptors
// such as "@every 30s" are accepted.
func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
}

func (r *Runner) Start() {
	r.logger.Infow("keeper_started", "jobs", len(r.cron.Entries()))
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("keeper_stopped")
}
