package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/analytics"
	"github.com/quantfold/lobstream/internal/models"
	"github.com/quantfold/lobstream/internal/source"
)

// idlePoll is how often a non-playing orchestrator rechecks the
// controller state.
const idlePoll = 100 * time.Millisecond

// Broadcaster fans enriched snapshots out to subscribers.
type Broadcaster interface {
	Broadcast(models.EnrichedSnapshot)
}

// LatestCache stores the most recent enriched snapshot per session.
// Failures are logged and otherwise ignored.
type LatestCache interface {
	SetLatest(ctx context.Context, sessionID string, snap models.EnrichedSnapshot) error
}

// AnomalyNotifier pushes high-severity anomalies to an external channel.
type AnomalyNotifier interface {
	NotifyAnomalies(ctx context.Context, sessionID string, snap models.EnrichedSnapshot)
}

// Orchestrator runs one session's pipeline: pull a snapshot from the
// source, enrich it, buffer it, fan it out. It owns the pacing between
// snapshots and reacts to the replay controller.
type Orchestrator struct {
	sessionID   string
	src         source.Source
	engine      *analytics.Engine
	controller  *ReplayController
	buffer      *Buffer
	broadcaster Broadcaster
	cache       LatestCache
	notifier    AnomalyNotifier

	// paced marks a source that times its own output (the synthetic
	// generator): the orchestrator must not add its own delay on top.
	paced bool

	log *logrus.Entry
}

// NewOrchestrator wires the pipeline for one session. cache and
// notifier may be nil.
func NewOrchestrator(
	sessionID string,
	src source.Source,
	engine *analytics.Engine,
	controller *ReplayController,
	buffer *Buffer,
	broadcaster Broadcaster,
	cache LatestCache,
	notifier AnomalyNotifier,
	paced bool,
) *Orchestrator {
	return &Orchestrator{
		sessionID:   sessionID,
		src:         src,
		engine:      engine,
		controller:  controller,
		buffer:      buffer,
		broadcaster: broadcaster,
		cache:       cache,
		notifier:    notifier,
		paced:       paced,
		log: logrus.WithFields(logrus.Fields{
			"session": sessionID,
			"source":  src.Name(),
		}),
	}
}

// Run drives the pipeline until the context ends. While the controller
// is not PLAYING it just polls; state transitions take effect at the
// next iteration.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Info("Orchestrator started")
	defer o.log.Info("Orchestrator stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if o.controller.State() != StatePlaying {
			if !sleepCtx(ctx, idlePoll) {
				return
			}
			continue
		}
		o.step(ctx)
	}
}

func (o *Orchestrator) step(ctx context.Context) {
	cursor, _ := o.controller.Cursor()
	snap, err := o.src.Next(ctx, cursor)
	if err != nil {
		o.handleSourceError(ctx, err)
		return
	}

	enriched := o.engine.Process(snap)
	o.controller.Advance(snap.Timestamp)
	o.buffer.Append(enriched)
	o.broadcaster.Broadcast(enriched)

	if o.cache != nil {
		if err := o.cache.SetLatest(ctx, o.sessionID, enriched); err != nil {
			o.log.WithError(err).Debug("Failed to cache latest snapshot")
		}
	}
	if o.notifier != nil && len(enriched.Anomalies) > 0 {
		o.notifier.NotifyAnomalies(ctx, o.sessionID, enriched)
	}

	if !o.paced {
		sleepCtx(ctx, o.controller.Delay(o.src.BaseDelay()))
	}
}

func (o *Orchestrator) handleSourceError(ctx context.Context, err error) {
	var malformed *source.MalformedRecordError
	switch {
	case errors.Is(err, source.ErrExhausted):
		o.log.Info("Source exhausted, stopping playback")
		o.controller.Stop()
	case errors.As(err, &malformed):
		o.log.WithError(err).Warn("Skipping malformed record")
		o.controller.Advance(malformed.Cursor)
	case ctx.Err() != nil:
		// Shutting down; Run exits on the next iteration.
	default:
		o.log.WithError(err).Error("Failed to fetch snapshot")
		sleepCtx(ctx, o.src.BaseDelay())
	}
}

// sleepCtx waits for d or until the context ends; it reports whether
// the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
