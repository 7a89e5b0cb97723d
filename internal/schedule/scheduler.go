package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler runs registered jobs on five-field cron specs. Every
// job run receives the lifecycle context given at construction, so
// cancelling it interrupts in-flight work.
type CronScheduler struct {
	ctx  context.Context
	cron *cron.Cron
}

func NewCronScheduler(ctx context.Context) *CronScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		ctx:  ctx,
		cron: cron.New(cron.WithParser(parser)),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	if _, err := c.cron.AddFunc(spec, c.guarded(job)); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Name(), err)
	}
	logutil.GetLogger(c.ctx).Info("job scheduled",
		zap.String("job", job.Name()), zap.String("spec", spec))
	return nil
}

func (c *CronScheduler) Start() {
	c.cron.Start()
}

// Stop halts scheduling and waits for running jobs to return.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

// guarded serializes runs of a single job. A tick that fires while the
// previous run is still going is dropped, not queued.
func (c *CronScheduler) guarded(job Job) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			logutil.GetLogger(c.ctx).Warn("job overrun, tick dropped",
				zap.String("job", job.Name()))
			return
		}
		defer running.Store(false)

		logger := logutil.GetLogger(c.ctx).With(zap.String("job", job.Name()))
		start := time.Now()
		if err := job.Run(c.ctx); err != nil {
			logger.Error("job run failed", zap.Error(err),
				zap.Duration("cost", time.Since(start)))
			return
		}
		logger.Info("job run ok", zap.Duration("cost", time.Since(start)))
	}
}
