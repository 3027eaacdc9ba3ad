package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callwake-platform/internal/audit"
	"callwake-platform/internal/call"
	"callwake-platform/internal/callid"
	"callwake-platform/internal/push"
	"callwake-platform/internal/timeout"
	"callwake-platform/internal/trigger"
)

var (
	ErrInvalidSchedule = errors.New("lifecycle: scheduled time must be in the future")
	ErrForbidden       = errors.New("lifecycle: call does not belong to recipient")
	ErrInvalidArgument = errors.New("lifecycle: invalid argument")
)

// Engine orchestrates the call lifecycle: identifier resolution, registry
// mutation, trigger arming, dispatch, response-timeout arbitration and
// periodic cleanup.
//
// Concurrency discipline:
//   - The registry's single mutex serializes every table+index mutation.
//   - Timer fires (trigger, timeout, cleanup sweep) are delivered as messages
//     on cmds and drained by one Run goroutine, never applied from timer
//     goroutines directly.
//   - The lock is never held across a push send or a timer arm/disarm.
type Engine struct {
	log      *slog.Logger
	reg      *call.Registry
	triggers *trigger.Scheduler
	arbiter  *timeout.Arbiter
	sender   push.Sender
	audits   *audit.Service

	window    time.Duration
	retention time.Duration

	cmds chan command

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// Options tune engine timing. Zero values fall back to defaults.
type Options struct {
	// ResponseWindow is the bounded wait after dispatch before a call is
	// auto-resolved to missed. Default 60s.
	ResponseWindow time.Duration
	// Retention is how long resolved or cancelled records outlive their
	// scheduled time before cleanup purges them. Default 24h.
	Retention time.Duration
}

func NewEngine(log *slog.Logger, reg *call.Registry, triggers *trigger.Scheduler, sender push.Sender, audits *audit.Service, opts Options) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if opts.ResponseWindow <= 0 {
		opts.ResponseWindow = timeout.DefaultWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}

	e := &Engine{
		log:       log,
		reg:       reg,
		triggers:  triggers,
		sender:    sender,
		audits:    audits,
		window:    opts.ResponseWindow,
		retention: opts.Retention,
		cmds:      make(chan command, 64),
		clock:     time.Now,
	}
	e.arbiter = timeout.NewArbiter(func(id string) {
		e.cmds <- timeoutFired{id: id}
	})
	return e
}

// command is a timer-originated message handled by Run.
type command interface{ isCommand() }

type triggerFired struct{ id string }
type timeoutFired struct{ id string }
type sweepRequested struct{}

func (triggerFired) isCommand()   {}
func (timeoutFired) isCommand()   {}
func (sweepRequested) isCommand() {}

// Run drains timer-originated commands until ctx is cancelled. It is the
// single entry point for every timer-driven state transition.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.arbiter.StopAll()
			return
		case cmd := <-e.cmds:
			switch c := cmd.(type) {
			case triggerFired:
				e.handleTriggerFire(ctx, c.id)
			case timeoutFired:
				e.handleTimeoutFire(ctx, c.id)
			case sweepRequested:
				if _, err := e.Cleanup(ctx); err != nil {
					e.log.Error("cleanup sweep failed", "err", err)
				}
			}
		}
	}
}

// ScheduleRequest is the input for all three schedule operations.
type ScheduleRequest struct {
	// ID is an optional client-supplied identifier; malformed or colliding
	// values are silently replaced by a generated one.
	ID           string        `json:"id,omitempty"`
	RecipientID  int64         `json:"recipient_id"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	DeviceHandle string        `json:"device_handle"`
	DisplayName  string        `json:"display_name"`
	AvatarRef    string        `json:"avatar_ref,omitempty"`
	Purpose      string        `json:"purpose,omitempty"`
	Platform     call.Platform `json:"platform"`
}

func (r ScheduleRequest) validate() error {
	if r.RecipientID <= 0 {
		return ErrInvalidArgument
	}
	if r.DeviceHandle == "" {
		return ErrInvalidArgument
	}
	if !r.Platform.Valid() {
		return ErrInvalidArgument
	}
	return nil
}

// Schedule registers a daily-recurring call. Any active call the recipient
// already has is cancelled first (first index entry only), keeping the
// one-active-call-per-recipient target state.
func (e *Engine) Schedule(ctx context.Context, req ScheduleRequest) (call.Record, error) {
	return e.schedule(ctx, req, false)
}

// ScheduleOnce registers a call that fires exactly once at its scheduled
// instant; otherwise identical to Schedule.
func (e *Engine) ScheduleOnce(ctx context.Context, req ScheduleRequest) (call.Record, error) {
	return e.schedule(ctx, req, true)
}

func (e *Engine) schedule(ctx context.Context, req ScheduleRequest, once bool) (call.Record, error) {
	if err := req.validate(); err != nil {
		return call.Record{}, err
	}
	now := e.clock()
	if !req.ScheduledAt.After(now) {
		return call.Record{}, ErrInvalidSchedule
	}

	e.cancelExisting(ctx, req.RecipientID)

	rec := e.buildRecord(req, req.ScheduledAt, now)
	e.reg.Put(rec)

	id := rec.ID
	fire := func() { e.cmds <- triggerFired{id: id} }

	var err error
	if once {
		err = e.triggers.ArmOnce(trigger.Key(id), req.ScheduledAt, fire)
	} else {
		err = e.triggers.ArmDaily(trigger.Key(id), req.ScheduledAt, fire)
	}
	if err != nil {
		// The future check above makes this a narrow race (clock crossed the
		// scheduled instant between check and arm). Roll the record back.
		e.reg.Remove(id)
		if errors.Is(err, trigger.ErrInvalidSchedule) {
			return call.Record{}, ErrInvalidSchedule
		}
		return call.Record{}, err
	}

	e.auditLog(ctx, audit.EventTypeScheduled, rec, "call scheduled")
	e.log.Info("call scheduled", "call_id", id, "recipient_id", rec.RecipientID, "at", rec.ScheduledAt, "once", once)
	return rec, nil
}

// ScheduleImmediate registers a call due now and dispatches it inline. No
// trigger is armed.
func (e *Engine) ScheduleImmediate(ctx context.Context, req ScheduleRequest) (call.Record, error) {
	if err := req.validate(); err != nil {
		return call.Record{}, err
	}
	now := e.clock()

	e.cancelExisting(ctx, req.RecipientID)

	rec := e.buildRecord(req, now, now)
	e.reg.Put(rec)
	e.auditLog(ctx, audit.EventTypeScheduled, rec, "immediate call scheduled")

	e.dispatch(ctx, rec.ID)

	rec, err := e.reg.Get(rec.ID)
	if err != nil {
		return call.Record{}, err
	}
	return rec, nil
}

func (e *Engine) buildRecord(req ScheduleRequest, at, now time.Time) call.Record {
	id, kept := callid.Resolve(req.ID, e.reg.Exists)
	if req.ID != "" && !kept {
		// Malformed or colliding client identifier; replaced, not rejected.
		e.log.Warn("client identifier replaced", "candidate", req.ID, "call_id", id)
	}
	return call.Record{
		ID:           id,
		RecipientID:  req.RecipientID,
		ScheduledAt:  at,
		DeviceHandle: req.DeviceHandle,
		DisplayName:  req.DisplayName,
		AvatarRef:    req.AvatarRef,
		Purpose:      req.Purpose,
		Platform:     req.Platform,
		State:        call.StateScheduled,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// cancelExisting cancels the recipient's first indexed call, if any. Absence
// is the normal case, not an error.
func (e *Engine) cancelExisting(ctx context.Context, recipientID int64) {
	id, err := e.reg.FirstForRecipient(recipientID)
	if err != nil {
		return
	}
	if err := e.Cancel(ctx, id); err != nil {
		e.log.Warn("cancel of previous call failed", "call_id", id, "err", err)
	}
}

// handleTriggerFire runs on every trigger fire. Recurring calls re-read the
// enabled flag from the registry; a disabled call skips dispatch while its
// trigger stays armed for the next cycle.
func (e *Engine) handleTriggerFire(ctx context.Context, id string) {
	rec, err := e.reg.Get(id)
	if err != nil {
		// Record purged or cancelled from under the trigger; disarm it.
		e.triggers.Disarm(trigger.Key(id))
		return
	}
	if rec.State == call.StateCancelled {
		e.triggers.Disarm(trigger.Key(id))
		return
	}
	if !rec.Enabled {
		e.log.Info("call disabled, skipping dispatch", "call_id", id)
		return
	}
	e.dispatch(ctx, id)
}

// dispatch transitions the call to dispatched, arms the response timeout and
// sends the notification. A failed send is logged and audited; the timeout
// keeps running so the call still reaches a terminal response state.
func (e *Engine) dispatch(ctx context.Context, id string) {
	now := e.clock()
	rec, err := e.reg.Update(id, func(r *call.Record) {
		r.State = call.StateDispatched
		r.UpdatedAt = now
	})
	if err != nil {
		return
	}

	e.arbiter.Start(id, e.window)
	e.auditLog(ctx, audit.EventTypeDispatched, rec, "call dispatched")

	if err := e.sender.Send(ctx, push.FromRecord(rec)); err != nil {
		// Single best-effort attempt. The record stays dispatched and the
		// timeout proceeds exactly as on success.
		e.log.Error("push delivery failed", "call_id", id, "platform", rec.Platform, "err", err)
		e.auditLog(ctx, audit.EventTypeDeliveryFailed, rec, err.Error())
		return
	}
	e.log.Info("call dispatched", "call_id", id, "recipient_id", rec.RecipientID, "platform", rec.Platform)
}

// handleTimeoutFire auto-resolves a dispatched call whose response window
// elapsed. A response that arrived first wins: the check happens under the
// registry lock and an already-answered call is left untouched. A fire that
// was already in flight when the call got cancelled is likewise a no-op; only
// dispatched records carry a response.
func (e *Engine) handleTimeoutFire(ctx context.Context, id string) {
	now := e.clock()
	missed := false
	rec, err := e.reg.Update(id, func(r *call.Record) {
		if r.State != call.StateDispatched || r.Response != nil {
			return
		}
		r.Response = &call.Response{
			Status:      call.ResponseMissed,
			RespondedAt: now,
			Note:        "timeout",
		}
		r.UpdatedAt = now
		missed = true
	})
	if err != nil || !missed {
		return
	}
	e.auditLog(ctx, audit.EventTypeAutoMissed, rec, "no response within window")
	e.log.Info("call auto-resolved to missed", "call_id", id, "recipient_id", rec.RecipientID)
}

// Cancel disarms the call's trigger and timeout, marks it cancelled and drops
// it from the recipient index. The record itself is retained until cleanup
// purges it.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.triggers.Disarm(trigger.Key(id))
	e.arbiter.Cancel(id)

	now := e.clock()
	rec, err := e.reg.Update(id, func(r *call.Record) {
		r.State = call.StateCancelled
		r.UpdatedAt = now
	})
	if err != nil {
		return err
	}
	e.reg.Unindex(id)

	e.auditLog(ctx, audit.EventTypeCancelled, rec, "call cancelled")
	e.log.Info("call cancelled", "call_id", id, "recipient_id", rec.RecipientID)
	return nil
}

// CancelByRecipient cancels the first call in the recipient's index. When the
// index holds more than one entry only the first is affected; the pick is
// deterministic but otherwise arbitrary.
func (e *Engine) CancelByRecipient(ctx context.Context, recipientID int64) (string, error) {
	id, err := e.reg.FirstForRecipient(recipientID)
	if err != nil {
		return "", err
	}
	return id, e.Cancel(ctx, id)
}

// Toggle updates a call's enabled flag. With an id the call must belong to
// the recipient; without one the recipient's first indexed call is used.
func (e *Engine) Toggle(ctx context.Context, recipientID int64, id string, enabled bool) (call.Record, error) {
	if id == "" {
		first, err := e.reg.FirstForRecipient(recipientID)
		if err != nil {
			return call.Record{}, err
		}
		id = first
	} else {
		rec, err := e.reg.Get(callid.Normalize(id))
		if err != nil {
			return call.Record{}, err
		}
		if rec.RecipientID != recipientID {
			return call.Record{}, ErrForbidden
		}
		id = rec.ID
	}

	now := e.clock()
	return e.reg.Update(id, func(r *call.Record) {
		r.Enabled = enabled
		r.UpdatedAt = now
	})
}

// ResponseRequest records how the recipient reacted to a dispatched call.
type ResponseRequest struct {
	ID          string              `json:"id"`
	Status      call.ResponseStatus `json:"status"`
	RespondedAt *time.Time          `json:"responded_at,omitempty"`
	Note        string              `json:"note,omitempty"`
}

// RecordResponse stores the recipient's response and stops the timeout. A
// second response for the same id overwrites the first, including one the
// arbiter wrote; last write wins.
func (e *Engine) RecordResponse(ctx context.Context, req ResponseRequest) (call.Record, error) {
	if req.ID == "" || !req.Status.Valid() {
		return call.Record{}, ErrInvalidArgument
	}

	respondedAt := e.clock()
	if req.RespondedAt != nil && !req.RespondedAt.IsZero() {
		respondedAt = *req.RespondedAt
	}

	rec, err := e.reg.Update(callid.Normalize(req.ID), func(r *call.Record) {
		r.Response = &call.Response{
			Status:      req.Status,
			RespondedAt: respondedAt,
			Note:        req.Note,
		}
		if r.State == call.StateScheduled {
			r.State = call.StateDispatched
		}
		r.UpdatedAt = e.clock()
	})
	if err != nil {
		return call.Record{}, err
	}

	e.arbiter.Cancel(rec.ID)
	e.auditLog(ctx, audit.EventTypeResponded, rec, "response: "+string(req.Status))
	return rec, nil
}

// Get returns a single record by id.
func (e *Engine) Get(id string) (call.Record, error) {
	return e.reg.Get(callid.Normalize(id))
}

// ListAll returns every non-purged record.
func (e *Engine) ListAll() []call.Record {
	return e.reg.ListAll()
}

// ListByRecipient returns the recipient's indexed (non-cancelled) records.
func (e *Engine) ListByRecipient(recipientID int64) ([]call.Record, error) {
	return e.reg.ListByRecipient(recipientID)
}

func (e *Engine) auditLog(ctx context.Context, typ audit.EventType, rec call.Record, msg string) {
	if e.audits == nil {
		return
	}
	actor := ""
	if v := ctx.Value(actorKey{}); v != nil {
		actor, _ = v.(string)
	}
	if err := e.audits.LogTransition(ctx, typ, rec.ID, rec.RecipientID, actor, msg); err != nil {
		e.log.Warn("audit append failed", "call_id", rec.ID, "err", err)
	}
}

type actorKey struct{}

// WithActor tags ctx with the authenticated user driving an operation, for
// audit attribution. Timer-driven transitions carry no actor.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}
