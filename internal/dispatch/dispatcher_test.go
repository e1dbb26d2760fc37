package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/mq"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/shaiso/atelier/internal/telemetry"
	"github.com/zoobzio/clockz"
)

// fakePublisher записывает опубликованные сообщения.
type fakePublisher struct {
	mu      sync.Mutex
	jobs    []domain.Job
	retries []mq.RetryPayload
	delays  []time.Duration
	failJob bool
}

func (p *fakePublisher) PublishJob(_ context.Context, job domain.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failJob {
		return errors.New("broker unavailable")
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *fakePublisher) PublishRetry(_ context.Context, payload mq.RetryPayload, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, payload)
	p.delays = append(p.delays, delay)
	return nil
}

func newRedisLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLedger(rdb, ""), mr
}

func newTestDispatcher(ledger Ledger, pub JobPublisher, metrics *telemetry.Metrics) *Dispatcher {
	return New(Config{
		Registry:  stages.NewDefault(),
		Ledger:    ledger,
		Publisher: pub,
		Metrics:   metrics,
	})
}

// --- Dispatch Tests ---

func TestDispatch_PublishesJob(t *testing.T) {
	ledger, mr := newRedisLedger(t)
	pub := &fakePublisher{}
	d := newTestDispatcher(ledger, pub, nil)
	pid := uuid.New()

	job, err := d.Dispatch(context.Background(), pid, domain.StageRendering, 1)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	wantKey := pid.String() + ":RENDERING:1"
	if job.DedupeKey != wantKey {
		t.Errorf("expected key %s, got %s", wantKey, job.DedupeKey)
	}
	if job.Queue != "rendering" {
		t.Errorf("expected queue rendering, got %s", job.Queue)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("expected 1 published job, got %d", len(pub.jobs))
	}
	if !mr.Exists(DefaultKeyPrefix + wantKey) {
		t.Error("dedupe key should be held in redis")
	}

	// TTL = max dwell + запас
	if ttl := mr.TTL(DefaultKeyPrefix + wantKey); ttl != 30*time.Minute+keyGrace {
		t.Errorf("unexpected TTL %v", ttl)
	}
}

func TestDispatch_DuplicateRejected(t *testing.T) {
	ledger, _ := newRedisLedger(t)
	pub := &fakePublisher{}
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	d := newTestDispatcher(ledger, pub, metrics)
	pid := uuid.New()

	if _, err := d.Dispatch(context.Background(), pid, domain.StageRendering, 1); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	_, err := d.Dispatch(context.Background(), pid, domain.StageRendering, 1)
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
	if !IsDuplicate(err) {
		t.Error("IsDuplicate should recognise the error")
	}
	if len(pub.jobs) != 1 {
		t.Errorf("duplicate must not be published, got %d jobs", len(pub.jobs))
	}
	if got := testutil.ToFloat64(metrics.Dispatches.WithLabelValues("RENDERING", "duplicate")); got != 1 {
		t.Errorf("expected 1 duplicate metric, got %v", got)
	}

	// Следующая попытка имеет другой ключ
	if _, err := d.Dispatch(context.Background(), pid, domain.StageRendering, 2); err != nil {
		t.Errorf("attempt 2 should dispatch: %v", err)
	}
}

func TestDispatch_ConcurrentSameAttempt(t *testing.T) {
	ledger, _ := newRedisLedger(t)
	pub := &fakePublisher{}
	d := newTestDispatcher(ledger, pub, nil)
	pid := uuid.New()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), pid, domain.StageFulfillment, 1)
		}()
	}
	wg.Wait()

	if len(pub.jobs) != 1 {
		t.Errorf("expected exactly 1 job, got %d", len(pub.jobs))
	}
}

func TestDispatch_PublishFailureReleasesKey(t *testing.T) {
	ledger, mr := newRedisLedger(t)
	pub := &fakePublisher{failJob: true}
	d := newTestDispatcher(ledger, pub, nil)
	pid := uuid.New()

	_, err := d.Dispatch(context.Background(), pid, domain.StageRendering, 1)
	if !errors.Is(err, ErrEnqueueFailed) {
		t.Fatalf("expected ErrEnqueueFailed, got %v", err)
	}
	if mr.Exists(DefaultKeyPrefix + domain.DedupeKey(pid, domain.StageRendering, 1)) {
		t.Error("key must be released after publish failure")
	}

	// Повтор той же попытки после восстановления брокера проходит
	pub.failJob = false
	if _, err := d.Dispatch(context.Background(), pid, domain.StageRendering, 1); err != nil {
		t.Errorf("retry after release should succeed: %v", err)
	}
}

func TestDispatch_LedgerUnavailable(t *testing.T) {
	ledger, mr := newRedisLedger(t)
	mr.Close()
	d := newTestDispatcher(ledger, &fakePublisher{}, nil)

	_, err := d.Dispatch(context.Background(), uuid.New(), domain.StageRendering, 1)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Errorf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestDispatch_NotDispatchable(t *testing.T) {
	d := newTestDispatcher(NewMemoryLedger(nil), &fakePublisher{}, nil)

	_, err := d.Dispatch(context.Background(), uuid.New(), domain.StageValidation, 1)
	if !errors.Is(err, ErrNotDispatchable) {
		t.Errorf("expected ErrNotDispatchable, got %v", err)
	}

	_, err = d.Dispatch(context.Background(), uuid.New(), domain.Stage("PAINTING"), 1)
	if !errors.Is(err, stages.ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
}

// --- ScheduleRetry Tests ---

func TestScheduleRetry(t *testing.T) {
	ledger, _ := newRedisLedger(t)
	pub := &fakePublisher{}
	d := newTestDispatcher(ledger, pub, nil)
	pid := uuid.New()

	if err := d.ScheduleRetry(context.Background(), pid, domain.StageRendering, 2, 10*time.Second); err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}
	if len(pub.retries) != 1 || pub.delays[0] != 10*time.Second {
		t.Fatalf("unexpected retries %+v %v", pub.retries, pub.delays)
	}

	// Тот же ретрай второй раз не публикуется
	err := d.ScheduleRetry(context.Background(), pid, domain.StageRendering, 2, 10*time.Second)
	if !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}
}

// --- Ledger Tests ---

func TestMemoryLedger_Expiry(t *testing.T) {
	clock := clockz.NewFakeClock()
	l := NewMemoryLedger(clock)
	ctx := context.Background()

	ok, _ := l.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	ok, _ = l.Acquire(ctx, "k", time.Minute)
	if ok {
		t.Fatal("second acquire should fail while held")
	}

	clock.Advance(2 * time.Minute)
	if l.Held("k") {
		t.Error("key should expire")
	}
	ok, _ = l.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Error("acquire after expiry should succeed")
	}

	_ = l.Release(ctx, "k")
	if l.Held("k") {
		t.Error("key should be released")
	}
}

func TestRedisLedger_Release(t *testing.T) {
	ledger, mr := newRedisLedger(t)
	ctx := context.Background()

	ok, err := ledger.Acquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if err := ledger.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(DefaultKeyPrefix + "k") {
		t.Error("key should be deleted")
	}
	// Повторный release — не ошибка
	if err := ledger.Release(ctx, "k"); err != nil {
		t.Errorf("second release: %v", err)
	}
}
