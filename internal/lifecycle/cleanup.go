package lifecycle

import (
	"context"

	"callwake-platform/internal/audit"
	"callwake-platform/internal/call"
	"callwake-platform/internal/trigger"
)

// cleanupKey names the recurring sweep trigger so it can never collide with a
// call trigger ("call-<id>").
const cleanupKey = "registry-cleanup"

// StartCleanup arms the daily purge sweep at midnight in the reference zone.
// The sweep itself runs through the engine's command loop like every other
// timer fire.
func (e *Engine) StartCleanup() error {
	return e.triggers.ArmCron(cleanupKey, "0 0 * * *", func() {
		e.cmds <- sweepRequested{}
	})
}

// Cleanup purges records that reached a resting state (cancelled, or
// dispatched with a response recorded) and whose scheduled time is older than
// the retention window. Lingering timers are disarmed defensively; purged
// records leave the registry and the recipient index together.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	cutoff := e.clock().Add(-e.retention)
	purged := 0

	for _, rec := range e.reg.ListAll() {
		resting := rec.State == call.StateCancelled ||
			(rec.State == call.StateDispatched && rec.Response != nil)
		if !resting || !rec.ScheduledAt.Before(cutoff) {
			continue
		}

		e.triggers.Disarm(trigger.Key(rec.ID))
		e.arbiter.Cancel(rec.ID)
		e.reg.Remove(rec.ID)
		e.auditLog(ctx, audit.EventTypePurged, rec, "purged by cleanup")
		purged++
	}

	if purged > 0 {
		e.log.Info("cleanup purged records", "count", purged)
	}
	return purged, nil
}
