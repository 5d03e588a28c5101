package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper runs one scheduled sweep.
type Sweeper interface {
	ExecuteScheduledRules(ctx context.Context) (*ScheduledSweepResult, error)
}

// ScheduleWorker 周期性执行到期的定时规则
type ScheduleWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *logrus.Logger
}

func NewScheduleWorker(sweeper Sweeper, interval time.Duration, logger *logrus.Logger) *ScheduleWorker {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScheduleWorker{sweeper: sweeper, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled.
func (w *ScheduleWorker) Start(ctx context.Context) {
	w.logger.Infof("Starting automation schedule worker (interval %s)", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Automation schedule worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ScheduleWorker) runOnce(ctx context.Context) {
	res, err := w.sweeper.ExecuteScheduledRules(ctx)
	if err != nil {
		w.logger.Errorf("automation sweep error: %v", err)
		return
	}
	if res.ExecutedSchedules > 0 {
		failed := 0
		for _, r := range res.Results {
			if !r.Success {
				failed++
			}
		}
		w.logger.WithFields(logrus.Fields{"executed": res.ExecutedSchedules, "failed": failed}).
			Info("automation sweep finished")
	}
}
