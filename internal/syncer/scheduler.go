package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akshay-panchakshari/yt-notes-app/internal/bus"
)

// Start launches the background triggers: an initial full sync when a session
// already exists, a periodic push ticker, and bus subscriptions that map
// notes-changed onto push syncs and auth-changed onto full syncs. The loop
// stops when ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.restoreLastSync(ctx)

	if _, found, err := o.sessions.CurrentUser(ctx); err == nil && found {
		o.TriggerFull()
	}

	o.schedWG.Add(1)
	go o.scheduleLoop(ctx)
	o.logger.Info("sync scheduler started", zap.Duration("interval", o.interval))
}

// Stop cancels in-flight runs and the scheduler loop, then blocks until both
// have exited.
func (o *Orchestrator) Stop() {
	o.runCancel()
	o.schedWG.Wait()
	o.runWG.Wait()
	o.logger.Info("sync scheduler stopped")
}

func (o *Orchestrator) scheduleLoop(ctx context.Context) {
	defer o.schedWG.Done()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	var events <-chan bus.Message
	if o.bus != nil {
		stream, cleanup := o.bus.Subscribe(ctx)
		defer cleanup()
		events = stream
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			o.TriggerPush()
		case message, open := <-events:
			if !open {
				events = nil
				continue
			}
			switch message.Type {
			case bus.EventNotesChanged:
				o.TriggerPush()
			case bus.EventAuthChanged:
				// Covers both sign-in and sign-out. The session guard turns
				// the sign-out case into a no-op.
				o.TriggerFull()
			}
		}
	}
}
