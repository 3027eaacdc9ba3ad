package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callwake-platform/internal/audit"
	"callwake-platform/internal/call"
	"callwake-platform/internal/push"
	"callwake-platform/internal/trigger"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []push.Notification
	fail error
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, n push.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type testEnv struct {
	engine *Engine
	reg    *call.Registry
	sched  *trigger.Scheduler
	sender *fakeSender
	repo   *audit.MemoryRepo
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	reg := call.NewRegistry()
	sched := trigger.NewScheduler(nil)
	t.Cleanup(sched.Stop)
	sender := &fakeSender{}
	repo := audit.NewMemoryRepo()
	e := NewEngine(nil, reg, sched, sender, audit.NewService(repo), opts)
	return &testEnv{engine: e, reg: reg, sched: sched, sender: sender, repo: repo}
}

func futureReq(recipient int64) ScheduleRequest {
	return ScheduleRequest{
		RecipientID:  recipient,
		ScheduledAt:  time.Now().Add(time.Hour),
		DeviceHandle: "device-token",
		DisplayName:  "Alice",
		Platform:     call.PlatformPrimary,
	}
}

func TestSchedule_RejectsPastInstant(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	// Pin the engine clock so the boundary cases are exact.
	now := time.Now()
	env.engine.clock = func() time.Time { return now }

	req := futureReq(1)
	req.ScheduledAt = now.Add(-time.Minute)
	if _, err := env.engine.Schedule(ctx, req); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	req.ScheduledAt = now
	if _, err := env.engine.Schedule(ctx, req); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for exactly-now, got %v", err)
	}

	// 1ms into the future is enough.
	req.ScheduledAt = now.Add(time.Millisecond)
	if _, err := env.engine.Schedule(ctx, req); err != nil {
		t.Fatalf("expected near-future schedule accepted, got %v", err)
	}
}

func TestSchedule_ValidatesRequest(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	req := futureReq(1)
	req.DeviceHandle = ""
	if _, err := env.engine.Schedule(ctx, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty handle, got %v", err)
	}

	req = futureReq(1)
	req.Platform = "web"
	if _, err := env.engine.Schedule(ctx, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown platform, got %v", err)
	}

	req = futureReq(0)
	if _, err := env.engine.Schedule(ctx, req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for missing recipient, got %v", err)
	}
}

func TestSchedule_ArmsExactlyOneTrigger(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, err := env.engine.Schedule(ctx, futureReq(1))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !env.sched.Armed(trigger.Key(rec.ID)) {
		t.Fatalf("expected trigger armed after schedule")
	}
	if rec.State != call.StateScheduled || !rec.Enabled {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := env.engine.Cancel(ctx, rec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if env.sched.Armed(trigger.Key(rec.ID)) {
		t.Fatalf("expected trigger disarmed after cancel")
	}
	got, err := env.engine.Get(rec.ID)
	if err != nil {
		t.Fatalf("cancelled record must be retained: %v", err)
	}
	if got.State != call.StateCancelled {
		t.Fatalf("expected cancelled, got %s", got.State)
	}
}

func TestSchedule_ReplacesRecipientsActiveCall(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	first, err := env.engine.Schedule(ctx, futureReq(42))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	second, err := env.engine.Schedule(ctx, futureReq(42))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	got, _ := env.engine.Get(first.ID)
	if got.State != call.StateCancelled {
		t.Fatalf("expected first call cancelled, got %s", got.State)
	}
	got, _ = env.engine.Get(second.ID)
	if got.State != call.StateScheduled {
		t.Fatalf("expected second call scheduled, got %s", got.State)
	}

	// Only the active call stays indexed; the cancelled record is still in
	// the registry but off the recipient's list.
	recs, err := env.engine.ListByRecipient(42)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != second.ID {
		t.Fatalf("expected index to hold only the active call, got %+v", recs)
	}
	if len(env.engine.ListAll()) != 2 {
		t.Fatalf("expected both records retained in registry")
	}
	if env.sched.Armed(trigger.Key(first.ID)) {
		t.Fatalf("expected first trigger disarmed")
	}
	if !env.sched.Armed(trigger.Key(second.ID)) {
		t.Fatalf("expected second trigger armed")
	}
}

func TestSchedule_KeepsValidClientIdentifier(t *testing.T) {
	env := newTestEnv(t, Options{})

	req := futureReq(1)
	req.ID = "123E4567-E89B-12D3-A456-426614174000"
	rec, err := env.engine.Schedule(context.Background(), req)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if rec.ID != "123e4567-e89b-12d3-a456-426614174000" {
		t.Fatalf("expected normalized client identifier, got %q", rec.ID)
	}

	// A malformed candidate is replaced, not rejected.
	req = futureReq(2)
	req.ID = "not-an-identifier"
	rec, err = env.engine.Schedule(context.Background(), req)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if rec.ID == "not-an-identifier" || rec.ID == "" {
		t.Fatalf("expected synthesized identifier, got %q", rec.ID)
	}
}

func TestScheduleImmediate_DispatchesInline(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, err := env.engine.ScheduleImmediate(context.Background(), futureReq(1))
	if err != nil {
		t.Fatalf("schedule immediate: %v", err)
	}
	if rec.State != call.StateDispatched {
		t.Fatalf("expected dispatched, got %s", rec.State)
	}
	if env.sender.count() != 1 {
		t.Fatalf("expected one push sent, got %d", env.sender.count())
	}
	if env.sched.Armed(trigger.Key(rec.ID)) {
		t.Fatalf("immediate dispatch must not leave a trigger behind")
	}
	if !env.engine.arbiter.Running(rec.ID) {
		t.Fatalf("expected response timeout armed")
	}
}

func TestDispatch_SecondDispatchReplacesTimeout(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.ScheduleImmediate(ctx, futureReq(1))
	env.engine.dispatch(ctx, rec.ID)

	if !env.engine.arbiter.Running(rec.ID) {
		t.Fatalf("expected single replaced timeout still running")
	}
	if env.sender.count() != 2 {
		t.Fatalf("expected two send attempts, got %d", env.sender.count())
	}
}

func TestDispatch_DeliveryFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.sender.fail = errors.New("backend unreachable")

	rec, err := env.engine.ScheduleImmediate(context.Background(), futureReq(1))
	if err != nil {
		t.Fatalf("delivery failure must not surface: %v", err)
	}
	if rec.State != call.StateDispatched {
		t.Fatalf("expected dispatched despite failure, got %s", rec.State)
	}
	if !env.engine.arbiter.Running(rec.ID) {
		t.Fatalf("expected timeout tracking to continue after failure")
	}

	// handleTimeoutFire still resolves the call.
	env.engine.handleTimeoutFire(context.Background(), rec.ID)
	got, _ := env.engine.Get(rec.ID)
	if got.Response == nil || got.Response.Status != call.ResponseMissed {
		t.Fatalf("expected terminal missed state, got %+v", got.Response)
	}
}

func TestTimeoutFire_SetsMissedWithTimeoutNote(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.ScheduleImmediate(ctx, futureReq(1))
	env.engine.handleTimeoutFire(ctx, rec.ID)

	got, _ := env.engine.Get(rec.ID)
	if got.Response == nil {
		t.Fatalf("expected response set")
	}
	if got.Response.Status != call.ResponseMissed || got.Response.Note != "timeout" {
		t.Fatalf("unexpected response: %+v", got.Response)
	}
	if got.State != call.StateDispatched {
		t.Fatalf("auto-miss must leave state dispatched, got %s", got.State)
	}
}

func TestTimeoutFire_NeverOverwritesResponse(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.ScheduleImmediate(ctx, futureReq(1))
	if _, err := env.engine.RecordResponse(ctx, ResponseRequest{ID: rec.ID, Status: call.ResponseAnswered}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	// Simulate the arbiter firing after the response arrived.
	env.engine.handleTimeoutFire(ctx, rec.ID)

	got, _ := env.engine.Get(rec.ID)
	if got.Response.Status != call.ResponseAnswered {
		t.Fatalf("timeout overwrote response: %+v", got.Response)
	}
}

func TestTimeoutFire_IgnoresCancelledCall(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.ScheduleImmediate(ctx, futureReq(1))
	if err := env.engine.Cancel(ctx, rec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// A fire already in flight when Cancel returned must not resolve the
	// cancelled call to missed.
	env.engine.handleTimeoutFire(ctx, rec.ID)

	got, _ := env.engine.Get(rec.ID)
	if got.State != call.StateCancelled {
		t.Fatalf("expected cancelled, got %s", got.State)
	}
	if got.Response != nil {
		t.Fatalf("cancelled call carries response: %+v", got.Response)
	}
}

func TestTimeoutFire_IgnoresMissingRecord(t *testing.T) {
	env := newTestEnv(t, Options{})
	// Must not panic or create anything.
	env.engine.handleTimeoutFire(context.Background(), "ghost")
	if len(env.engine.ListAll()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestRecordResponse_LastWriteWins(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.ScheduleImmediate(ctx, futureReq(1))
	env.engine.handleTimeoutFire(ctx, rec.ID)

	// A late response overwrites the auto-miss without error.
	got, err := env.engine.RecordResponse(ctx, ResponseRequest{ID: rec.ID, Status: call.ResponseAnswered, Note: "woke up late"})
	if err != nil {
		t.Fatalf("late respond: %v", err)
	}
	if got.Response.Status != call.ResponseAnswered || got.Response.Note != "woke up late" {
		t.Fatalf("unexpected response: %+v", got.Response)
	}
}

func TestRecordResponse_Validation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	if _, err := env.engine.RecordResponse(ctx, ResponseRequest{ID: "x", Status: "snoozed"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := env.engine.RecordResponse(ctx, ResponseRequest{ID: "missing", Status: call.ResponseAnswered}); !errors.Is(err, call.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordResponse_PromotesScheduledToDispatched(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.Schedule(ctx, futureReq(1))
	got, err := env.engine.RecordResponse(ctx, ResponseRequest{ID: rec.ID, Status: call.ResponseDeclined})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got.State != call.StateDispatched {
		t.Fatalf("expected promotion to dispatched, got %s", got.State)
	}
}

func TestToggle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.Schedule(ctx, futureReq(7))

	// Ownership mismatch.
	if _, err := env.engine.Toggle(ctx, 8, rec.ID, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// Explicit id path.
	got, err := env.engine.Toggle(ctx, 7, rec.ID, false)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got.Enabled {
		t.Fatalf("expected disabled")
	}

	// Id-less back-compat path hits the first indexed call.
	got, err = env.engine.Toggle(ctx, 7, "", true)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !got.Enabled || got.ID != rec.ID {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := env.engine.Toggle(ctx, 99, "", true); !errors.Is(err, call.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty index, got %v", err)
	}
}

func TestTriggerFire_SkipsDisabledCallButStaysArmed(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.Schedule(ctx, futureReq(1))
	if _, err := env.engine.Toggle(ctx, 1, rec.ID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	env.engine.handleTriggerFire(ctx, rec.ID)

	if env.sender.count() != 0 {
		t.Fatalf("disabled call must not dispatch")
	}
	got, _ := env.engine.Get(rec.ID)
	if got.State != call.StateScheduled {
		t.Fatalf("expected still scheduled, got %s", got.State)
	}
	if !env.sched.Armed(trigger.Key(rec.ID)) {
		t.Fatalf("trigger must stay armed for the next cycle")
	}

	// Re-enable: the next fire dispatches. The enabled flag is read fresh
	// from the registry, not from a stale closure.
	if _, err := env.engine.Toggle(ctx, 1, rec.ID, true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	env.engine.handleTriggerFire(ctx, rec.ID)
	if env.sender.count() != 1 {
		t.Fatalf("expected dispatch after re-enable, got %d", env.sender.count())
	}
}

func TestTriggerFire_DisarmsWhenRecordGone(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	rec, _ := env.engine.Schedule(ctx, futureReq(1))
	env.reg.Remove(rec.ID)

	env.engine.handleTriggerFire(ctx, rec.ID)
	if env.sched.Armed(trigger.Key(rec.ID)) {
		t.Fatalf("expected orphaned trigger disarmed")
	}
	if env.sender.count() != 0 {
		t.Fatalf("expected no dispatch")
	}
}

func TestCancelByRecipient_FirstMatchOnly(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	// Build a transient two-entry index directly; the public schedule path
	// would have cancelled the first call already.
	a := futureReq(9)
	a.ID = "11111111-1111-4111-8111-111111111111"
	b := futureReq(9)
	b.ID = "22222222-2222-4222-8222-222222222222"
	env.reg.Put(call.Record{ID: a.ID, RecipientID: 9, ScheduledAt: a.ScheduledAt, DeviceHandle: "d", Platform: call.PlatformPrimary, State: call.StateScheduled, Enabled: true})
	env.reg.Put(call.Record{ID: b.ID, RecipientID: 9, ScheduledAt: b.ScheduledAt, DeviceHandle: "d", Platform: call.PlatformPrimary, State: call.StateScheduled, Enabled: true})

	cancelled, err := env.engine.CancelByRecipient(ctx, 9)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled != a.ID {
		t.Fatalf("expected first index entry cancelled, got %q", cancelled)
	}
	recs, _ := env.engine.ListByRecipient(9)
	if len(recs) != 1 || recs[0].ID != b.ID {
		t.Fatalf("expected second entry untouched, got %+v", recs)
	}

	if _, err := env.engine.CancelByRecipient(ctx, 1234); !errors.Is(err, call.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRun_DrainsTimerFires(t *testing.T) {
	env := newTestEnv(t, Options{ResponseWindow: 30 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.engine.Run(ctx)

	rec, err := env.engine.ScheduleImmediate(ctx, futureReq(1))
	if err != nil {
		t.Fatalf("schedule immediate: %v", err)
	}

	// The arbiter fire travels through the command channel and resolves the
	// call to missed.
	deadline := time.After(2 * time.Second)
	for {
		got, err := env.engine.Get(rec.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Response != nil {
			if got.Response.Status != call.ResponseMissed {
				t.Fatalf("expected missed, got %+v", got.Response)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout fire never resolved the call")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := WithActor(context.Background(), "user-1")

	rec, _ := env.engine.ScheduleImmediate(ctx, futureReq(1))
	if _, err := env.engine.RecordResponse(ctx, ResponseRequest{ID: rec.ID, Status: call.ResponseAnswered}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	evs := env.repo.Events()
	if len(evs) != 3 {
		t.Fatalf("expected scheduled+dispatched+responded, got %d", len(evs))
	}
	if evs[0].Type != audit.EventTypeScheduled || evs[1].Type != audit.EventTypeDispatched || evs[2].Type != audit.EventTypeResponded {
		t.Fatalf("unexpected event sequence: %+v", evs)
	}
	if evs[2].ActorUserID != "user-1" {
		t.Fatalf("expected actor attribution, got %+v", evs[2])
	}
}
