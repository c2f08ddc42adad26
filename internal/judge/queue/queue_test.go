package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"judgecore/internal/common/mq"
	"judgecore/internal/judge/queue"
	"judgecore/pkg/utils/contextkey"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type recorder struct {
	mu   sync.Mutex
	jobs []queue.Job
	ids  []interface{}
	fail bool
}

func (r *recorder) Judge(ctx context.Context, job queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.ids = append(r.ids, ctx.Value(contextkey.SubmissionID))
	if r.fail {
		return errors.New("database unavailable")
	}
	return nil
}

func (r *recorder) snapshot() []queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Job(nil), r.jobs...)
}

func TestEnqueueDeliversJob(t *testing.T) {
	t.Parallel()
	bus := mq.NewMemoryQueue()
	defer bus.Close()
	jobs := queue.New(bus, queue.Config{Topic: "judge", MaxAttempts: 3})
	rec := &recorder{}
	if err := jobs.Consume(context.Background(), rec, queue.Limits{InFlight: mq.NewTokenLimiter(1)}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := bus.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := jobs.Enqueue(context.Background(), "sub-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })

	got := rec.snapshot()[0]
	if got.SubmissionID != "sub-1" || got.Attempt != 1 || got.MaxAttempts != 3 || got.Final() {
		t.Fatalf("job = %+v", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.ids[0] != "sub-1" {
		t.Fatalf("context submission id = %v", rec.ids[0])
	}
}

func TestFailingJobRetriesUntilFinalAttempt(t *testing.T) {
	t.Parallel()
	bus := mq.NewMemoryQueue()
	defer bus.Close()
	jobs := queue.New(bus, queue.Config{
		Topic:           "judge",
		DeadLetterTopic: "judge.dlq",
		MaxAttempts:     3,
		BackoffBase:     10 * time.Millisecond,
		BackoffMax:      20 * time.Millisecond,
	})
	rec := &recorder{fail: true}
	if err := jobs.Consume(context.Background(), rec, queue.Limits{}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := bus.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := jobs.Enqueue(context.Background(), "sub-2"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return bus.Pending("judge.dlq") == 1 })

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("attempts = %d, want 3", len(got))
	}
	for i, job := range got {
		if job.Attempt != i+1 {
			t.Fatalf("attempt %d = %d", i, job.Attempt)
		}
	}
	if !got[2].Final() {
		t.Fatal("third attempt should be final")
	}
	dead := bus.Drain("judge.dlq")
	if msg, _ := dead[0].GetHeader(mq.HeaderLastError); msg != "database unavailable" {
		t.Fatalf("last error header = %q", msg)
	}
}

func TestSingleAttemptIsFinal(t *testing.T) {
	t.Parallel()
	bus := mq.NewMemoryQueue()
	defer bus.Close()
	jobs := queue.New(bus, queue.Config{Topic: "judge", MaxAttempts: 1, BackoffBase: time.Millisecond})
	rec := &recorder{fail: true}
	if err := jobs.Consume(context.Background(), rec, queue.Limits{}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	_ = bus.Start()
	if err := jobs.Enqueue(context.Background(), "sub-3"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })
	time.Sleep(50 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 || !got[0].Final() {
		t.Fatalf("jobs = %+v, want one final attempt", got)
	}
}

func TestMalformedMessageIsDropped(t *testing.T) {
	t.Parallel()
	bus := mq.NewMemoryQueue()
	defer bus.Close()
	jobs := queue.New(bus, queue.Config{Topic: "judge", BackoffBase: time.Millisecond})
	rec := &recorder{}
	if err := jobs.Consume(context.Background(), rec, queue.Limits{}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	_ = bus.Start()
	if err := bus.Publish(context.Background(), "judge", mq.NewMessage([]byte("{not json"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := jobs.Enqueue(context.Background(), "sub-4"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 })
	if bus.Pending("judge") != 0 {
		t.Fatal("malformed message should be acknowledged")
	}
}

func TestEnqueueRejectsEmptyID(t *testing.T) {
	t.Parallel()
	jobs := queue.New(mq.NewMemoryQueue(), queue.Config{})
	if err := jobs.Enqueue(context.Background(), ""); err == nil {
		t.Fatal("expected validation error")
	}
}
