// Package reconciler drives the periodic reconciliation of ongoing analyses
// and open upload jobs against their back-ends. It owns no state beyond the
// tick loop.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// AnalysisUpdater is the slice of the analysis service the reconciler drives.
type AnalysisUpdater interface {
	UpdateOngoingAnalyses(ctx context.Context) error
	UpdateUploadingAnalyses(ctx context.Context) error
}

const DefaultInterval = 5 * time.Minute

type Params struct {
	Service AnalysisUpdater
	// Interval is the tick cadence. Zero means the default.
	Interval time.Duration
	// Clock is swapped for a mock in tests.
	Clock clock.Clock
}

type Reconciler struct {
	service  AnalysisUpdater
	interval time.Duration
	clock    clock.Clock

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	waitGroup sync.WaitGroup
	running   bool
}

func New(params Params) (*Reconciler, error) {
	if params.Service == nil {
		return nil, errors.New("reconciler needs a service")
	}
	if params.Interval == 0 {
		params.Interval = DefaultInterval
	}
	if params.Interval < 0 {
		return nil, errors.New("reconciler interval must be positive")
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	return &Reconciler{
		service:  params.Service,
		interval: params.Interval,
		clock:    params.Clock,
		stopChan: make(chan struct{}),
	}, nil
}

func (r *Reconciler) IsRunning() bool {
	return r.running
}

// Start launches the tick loop. Calling it twice is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.waitGroup.Add(1)
		go r.run(ctx)
	})
}

// Stop shuts the loop down and waits for an inflight tick to finish, or for
// the context to give up.
func (r *Reconciler) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.stopChan)

		done := make(chan struct{})
		go func() {
			r.waitGroup.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
		}
	})
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.waitGroup.Done()
	r.running = true
	defer func() { r.running = false }()

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			log.Ctx(ctx).Debug().Msg("context cancelled, stopping reconciler")
			return
		case <-r.stopChan:
			log.Ctx(ctx).Debug().Msg("stop requested, stopping reconciler")
			return
		}
	}
}

// tick runs one reconciliation pass. Ticks never overlap: the loop runs them
// one at a time and a slow pass simply delays the next one.
func (r *Reconciler) tick(ctx context.Context) {
	started := r.clock.Now()

	if err := r.service.UpdateOngoingAnalyses(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update ongoing analyses")
	}
	if err := r.service.UpdateUploadingAnalyses(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update uploading analyses")
	}

	log.Ctx(ctx).Debug().
		Dur("Duration", r.clock.Since(started)).
		Msg("reconciliation tick done")
}
