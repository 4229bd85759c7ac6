package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tutorhub/usage-service/internal/domain"
)

// fakeCounter is an in-memory UsageCounter with injectable failure modes.
type fakeCounter struct {
	mu           sync.Mutex
	counts       map[string]int64
	unavailable  bool
	incrementErr error
	getErr       error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func counterKey(userID uuid.UUID, resource domain.ResourceType, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", userID, resource, dayKey(day))
}

func (f *fakeCounter) Increment(_ context.Context, userID uuid.UUID, resource domain.ResourceType, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return 0, f.incrementErr
	}
	key := counterKey(userID, resource, day)
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounter) Get(_ context.Context, userID uuid.UUID, resource domain.ResourceType, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.counts[counterKey(userID, resource, day)], nil
}

func (f *fakeCounter) Available(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable
}

// fakeLedger records durable writes in memory.
type fakeLedger struct {
	mu           sync.Mutex
	aiQueries    int64
	testsTaken   int64
	studyMinutes int64
	err          error
}

func (f *fakeLedger) IncrementAIQueries(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.aiQueries++
	return nil
}

func (f *fakeLedger) IncrementTestsTaken(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.testsTaken++
	return nil
}

func (f *fakeLedger) AddStudyMinutes(_ context.Context, _ uuid.UUID, _ time.Time, minutes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.studyMinutes += minutes
	return nil
}

// fakeResolver returns a fixed entitlement set or error.
type fakeResolver struct {
	entitlements domain.Entitlements
	err          error
}

func (f *fakeResolver) Resolve(_ context.Context, _ uuid.UUID) (domain.Entitlements, error) {
	return f.entitlements, f.err
}

// fakePublisher records the routing keys of published events.
type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, routingKey)
	return nil
}

func (f *fakePublisher) published(routingKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.keys {
		if k == routingKey {
			n++
		}
	}
	return n
}

// waitForEvent polls for asynchronously dispatched telemetry.
func waitForEvent(t *testing.T, events *fakePublisher, routingKey string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events.published(routingKey) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d %s events, got %d", want, routingKey, events.published(routingKey))
}

func newTestController(resolver Resolver, counter UsageCounter, ledger UsageLedger, events EventPublisher) *AdmissionController {
	quotas := NewPlanQuotas(5, 3)
	c := NewAdmissionController(resolver, counter, ledger, events, quotas, time.Second, 2)
	c.now = func() time.Time { return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC) }
	return c
}

func freeEntitlements() domain.Entitlements {
	return NewPlanQuotas(5, 3).For(domain.PlanFree)
}

func TestCheckSequentialExhaustion(t *testing.T) {
	counter := newFakeCounter()
	ctrl := newTestController(&fakeResolver{entitlements: freeEntitlements()}, counter, &fakeLedger{}, nil)
	userID := uuid.New()

	wantRemaining := []int64{4, 3, 2, 1, 0}
	for i, want := range wantRemaining {
		decision, err := ctrl.Check(context.Background(), userID, domain.ResourceAIQuery)
		if err != nil {
			t.Fatalf("check %d returned error: %v", i+1, err)
		}
		if !decision.Allowed || decision.State != StateEntitledLimitedOK {
			t.Fatalf("check %d: expected limited allow, got state=%s allowed=%v", i+1, decision.State, decision.Allowed)
		}
		if decision.Remaining.IsUnlimited() || decision.Remaining.Limit() != want {
			t.Fatalf("check %d: expected remaining %d, got %s", i+1, want, decision.Remaining)
		}
	}

	for i := 0; i < 3; i++ {
		decision, err := ctrl.Check(context.Background(), userID, domain.ResourceAIQuery)
		if err != nil {
			t.Fatalf("denied check returned error: %v", err)
		}
		if decision.Allowed || decision.State != StateEntitledLimitedDenied {
			t.Fatalf("expected denial after quota exhausted, got state=%s allowed=%v", decision.State, decision.Allowed)
		}
		if decision.RetryAfterSeconds <= 0 {
			t.Fatalf("expected positive retry-after on denial, got %d", decision.RetryAfterSeconds)
		}
		if decision.UpgradeHint != domain.PlanPremium {
			t.Fatalf("expected premium upgrade hint, got %q", decision.UpgradeHint)
		}
	}
}

func TestCheckConcurrentAdmitsExactlyQuota(t *testing.T) {
	counter := newFakeCounter()
	ctrl := newTestController(&fakeResolver{entitlements: freeEntitlements()}, counter, &fakeLedger{}, nil)
	userID := uuid.New()

	const attempts = 10
	results := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := ctrl.Check(context.Background(), userID, domain.ResourceAIQuery)
			if err != nil {
				t.Errorf("concurrent check returned error: %v", err)
				results <- false
				return
			}
			results <- decision.Allowed
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected exactly 5 of %d concurrent requests admitted, got %d", attempts, allowed)
	}
}

func TestCheckUnlimitedNeverDenies(t *testing.T) {
	counter := newFakeCounter()
	unlimited := NewPlanQuotas(5, 3).For(domain.PlanPremium)
	ctrl := newTestController(&fakeResolver{entitlements: unlimited}, counter, &fakeLedger{}, nil)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := ctrl.Check(context.Background(), userID, domain.ResourceAIQuery)
			if err != nil {
				t.Errorf("unlimited check returned error: %v", err)
				return
			}
			if !decision.Allowed || decision.State != StateEntitledUnlimited {
				t.Errorf("expected unlimited allow, got state=%s allowed=%v", decision.State, decision.Allowed)
			}
			if !decision.Remaining.IsUnlimited() {
				t.Errorf("expected unlimited remaining, got %s", decision.Remaining)
			}
		}()
	}
	wg.Wait()

	counter.mu.Lock()
	defer counter.mu.Unlock()
	if len(counter.counts) != 0 {
		t.Fatalf("unlimited checks must not touch the counter, found %d keys", len(counter.counts))
	}
}

func TestCheckFailsOpenWhenCounterUnavailable(t *testing.T) {
	counter := newFakeCounter()
	counter.unavailable = true
	ledger := &fakeLedger{}
	events := &fakePublisher{}
	ctrl := newTestController(&fakeResolver{entitlements: freeEntitlements()}, counter, ledger, events)

	decision, err := ctrl.Check(context.Background(), uuid.New(), domain.ResourceAIQuery)
	if err != nil {
		t.Fatalf("fail-open check returned error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected fail-open allow while counter store is unavailable")
	}
	if !decision.Degraded {
		t.Fatal("expected degraded flag on fail-open decision")
	}
	if !decision.AuditRecorded {
		t.Fatal("expected fail-open decision to carry the audit row itself")
	}
	if ledger.aiQueries != 1 {
		t.Fatalf("expected the engine to write 1 audit row during fail-open, got %d", ledger.aiQueries)
	}
	waitForEvent(t, events, domain.RoutingKeyDegradedMode, 1)
}

func TestCheckIncrementErrorFailsOpen(t *testing.T) {
	counter := newFakeCounter()
	counter.incrementErr = errors.New("connection reset")
	ledger := &fakeLedger{}
	ctrl := newTestController(&fakeResolver{entitlements: freeEntitlements()}, counter, ledger, nil)

	decision, err := ctrl.Check(context.Background(), uuid.New(), domain.ResourceTestGeneration)
	if err != nil {
		t.Fatalf("fail-open check returned error: %v", err)
	}
	if !decision.Allowed || !decision.Degraded || !decision.AuditRecorded {
		t.Fatalf("expected degraded allow with audit recorded, got %+v", decision)
	}
	if ledger.testsTaken != 1 {
		t.Fatalf("expected 1 audit row for the degraded test-generation allow, got %d", ledger.testsTaken)
	}
}

func TestCheckResolutionFailure(t *testing.T) {
	resolveErr := fmt.Errorf("%w: connection refused", ErrEntitlementResolution)
	ctrl := newTestController(&fakeResolver{err: resolveErr}, newFakeCounter(), &fakeLedger{}, nil)

	decision, err := ctrl.Check(context.Background(), uuid.New(), domain.ResourceAIQuery)
	if err == nil {
		t.Fatal("expected an error when entitlement resolution fails")
	}
	if !errors.Is(err, ErrEntitlementResolution) {
		t.Fatalf("expected error to wrap the resolution sentinel, got %v", err)
	}
	if decision.State != StateResolutionFailed {
		t.Fatalf("expected RESOLUTION_FAILED state, got %s", decision.State)
	}
	if decision.Allowed {
		t.Fatal("resolution failure must never grant access")
	}
}

func TestRecordPublishesUsageEvent(t *testing.T) {
	ledger := &fakeLedger{}
	events := &fakePublisher{}
	ctrl := newTestController(&fakeResolver{entitlements: freeEntitlements()}, newFakeCounter(), ledger, events)

	if err := ctrl.Record(context.Background(), uuid.New(), domain.ResourceAIQuery); err != nil {
		t.Fatalf("record returned error: %v", err)
	}
	if ledger.aiQueries != 1 {
		t.Fatalf("expected 1 ledger increment, got %d", ledger.aiQueries)
	}
	waitForEvent(t, events, domain.RoutingKeyUsageRecorded, 1)
}

func TestRecordReportsAuditGapAfterRetries(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("deadlock detected")}
	events := &fakePublisher{}
	ctrl := newTestController(&fakeResolver{entitlements: freeEntitlements()}, newFakeCounter(), ledger, events)

	err := ctrl.Record(context.Background(), uuid.New(), domain.ResourceTestGeneration)
	if !errors.Is(err, ErrDurableWrite) {
		t.Fatalf("expected ErrDurableWrite after exhausted retries, got %v", err)
	}
	waitForEvent(t, events, domain.RoutingKeyAuditGap, 1)
	if events.published(domain.RoutingKeyUsageRecorded) != 0 {
		t.Fatal("a dropped write must not publish a usage recorded event")
	}
}

// blockingPublisher holds every Publish call until released.
type blockingPublisher struct {
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ string, _ interface{}) error {
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil
}

func TestCheckDoesNotBlockOnSlowPublisher(t *testing.T) {
	events := &blockingPublisher{release: make(chan struct{})}
	defer close(events.release)

	quotas := NewPlanQuotas(0, 0)
	ctrl := NewAdmissionController(&fakeResolver{entitlements: quotas.For(domain.PlanFree)}, newFakeCounter(), &fakeLedger{}, events, quotas, time.Second, 1)

	done := make(chan Decision, 1)
	go func() {
		decision, err := ctrl.Check(context.Background(), uuid.New(), domain.ResourceAIQuery)
		if err != nil {
			t.Errorf("check returned error: %v", err)
		}
		done <- decision
	}()

	select {
	case decision := <-done:
		if decision.Allowed {
			t.Fatalf("expected a denial at quota zero, got %+v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("check blocked on the event publisher")
	}
}

func TestRecordStudyTime(t *testing.T) {
	ledger := &fakeLedger{}
	ctrl := newTestController(&fakeResolver{entitlements: freeEntitlements()}, newFakeCounter(), ledger, nil)
	userID := uuid.New()

	if err := ctrl.RecordStudyTime(context.Background(), userID, 45); err != nil {
		t.Fatalf("record study time returned error: %v", err)
	}
	if ledger.studyMinutes != 45 {
		t.Fatalf("expected 45 study minutes recorded, got %d", ledger.studyMinutes)
	}

	if err := ctrl.RecordStudyTime(context.Background(), userID, 0); err == nil {
		t.Fatal("expected an error for non-positive study minutes")
	}
}
