// Package workers holds the long-running pipeline stages: fetch, parse, normalize and enrich.
// Each stage is a cooperative poll loop; stages talk only through queues and the store.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
)

// Step processes at most one unit of work and reports whether there was any
type Step func(ctx context.Context) (bool, error)

// Loop runs a step repeatedly on a fixed number of goroutines, sleeping when idle
type Loop struct {
	name        string
	concurrency int
	idle        time.Duration
	step        Step
	logger      arbor.ILogger
}

// NewLoop creates a poll loop
func NewLoop(name string, concurrency int, idle time.Duration, step Step, logger arbor.ILogger) *Loop {
	if concurrency <= 0 {
		concurrency = 1
	}
	if idle <= 0 {
		idle = 100 * time.Millisecond
	}
	return &Loop{
		name:        name,
		concurrency: concurrency,
		idle:        idle,
		step:        step,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled. Steps receive ctx and are expected to finish the
// unit of work they already claimed before returning.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info().
		Str("worker", l.name).
		Int("concurrency", l.concurrency).
		Str("idle_sleep", l.idle.String()).
		Msg("Starting worker loop")

	var wg sync.WaitGroup
	for i := 0; i < l.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	l.logger.Info().Str("worker", l.name).Msg("Worker loop stopped")
}

func (l *Loop) worker(ctx context.Context, id int) {
	for ctx.Err() == nil {
		var worked bool
		err := common.CapturePanic(l.logger, l.name, func() error {
			var err error
			worked, err = l.step(ctx)
			return err
		})
		if err != nil {
			l.logger.Warn().
				Err(err).
				Str("worker", l.name).
				Int("worker_id", id).
				Msg("Error processing work item")
		}
		if worked && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(l.idle):
		}
	}
}

// Drain calls step until it reports no work or ctx is cancelled. Used by one-shot commands.
func Drain(ctx context.Context, step Step) (int, error) {
	steps := 0
	for ctx.Err() == nil {
		worked, err := step(ctx)
		if err != nil {
			return steps, err
		}
		if !worked {
			break
		}
		steps++
	}
	return steps, nil
}
