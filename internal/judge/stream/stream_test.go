package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"judgecore/internal/judge/model"
	"judgecore/internal/judge/repository"
	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/stream"
	"judgecore/internal/judge/verdict"
	appErr "judgecore/pkg/errors"
)

type recordingSink struct {
	mu         sync.Mutex
	events     []stream.Event
	keepalives int
	sent       chan struct{}
}

func newSink() *recordingSink {
	return &recordingSink{sent: make(chan struct{}, 64)}
}

func (s *recordingSink) Send(event stream.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.sent <- struct{}{}
	return nil
}

func (s *recordingSink) Keepalive() error {
	s.mu.Lock()
	s.keepalives++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() ([]stream.Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Event(nil), s.events...), s.keepalives
}

func (s *recordingSink) waitEvents(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func newStore(t *testing.T, cases int) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	tcs := make([]model.TestCase, cases)
	for i := range tcs {
		tcs[i] = model.TestCase{ProblemID: 1, Ordinal: i, Input: "1", ExpectedOutput: "1"}
	}
	store.PutProblem(model.Problem{ID: 1, TimeLimitMs: 1000}, tcs)
	err := store.Create(context.Background(), &model.Submission{
		ID: "s", ProblemID: 1, AuthorID: 7, Language: sandbox.LanguagePython, SourceCode: "print(1)", Verdict: verdict.Pending,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return store
}

func appendPassed(t *testing.T, store *repository.MemoryStore, ordinal int) {
	t.Helper()
	err := store.AppendResult(context.Background(), "s", model.TestCaseResult{Ordinal: ordinal, Passed: true, Verdict: verdict.Accepted})
	if err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
}

func finalize(t *testing.T, store *repository.MemoryStore, v verdict.Verdict) {
	t.Helper()
	if _, err := store.Finalize(context.Background(), "s", repository.Finalization{Verdict: v}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func fastConfig() stream.Config {
	return stream.Config{PollInterval: 5 * time.Millisecond, KeepaliveInterval: time.Hour}
}

func TestRunFollowsProgressUntilSummary(t *testing.T) {
	t.Parallel()
	store := newStore(t, 2)
	sink := newSink()
	streamer := stream.NewStreamer(store, store, fastConfig())

	errCh := make(chan error, 1)
	go func() { errCh <- streamer.Run(context.Background(), "s", sink) }()

	appendPassed(t, store, 0)
	sink.waitEvents(t, 1)
	appendPassed(t, store, 1)
	finalize(t, store, verdict.Accepted)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after terminal verdict")
	}

	events, _ := sink.snapshot()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	for i := 0; i < 2; i++ {
		if events[i].Type != stream.EventResult || events[i].Result.Ordinal != i {
			t.Fatalf("event %d = %+v", i, events[i])
		}
	}
	summary := events[2].Summary
	if events[2].Type != stream.EventSummary || summary == nil {
		t.Fatalf("last event = %+v", events[2])
	}
	if summary.Verdict != verdict.Accepted || summary.Total != 2 || summary.Passed != 2 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunTerminalSnapshotSendsResultsThenSummary(t *testing.T) {
	t.Parallel()
	store := newStore(t, 3)
	err := store.AppendResult(context.Background(), "s", model.TestCaseResult{Ordinal: 0, Verdict: verdict.CompilationError, ActualOutput: "syntax error"})
	if err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
	finalize(t, store, verdict.CompilationError)

	sink := newSink()
	if err := stream.NewStreamer(store, store, fastConfig()).Run(context.Background(), "s", sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events, _ := sink.snapshot()
	if len(events) != 2 || events[0].Type != stream.EventResult || events[1].Type != stream.EventSummary {
		t.Fatalf("events = %+v", events)
	}
	if s := events[1].Summary; s.Verdict != verdict.CompilationError || s.Total != 3 || s.Passed != 0 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestRunUnknownSubmission(t *testing.T) {
	t.Parallel()
	store := newStore(t, 1)
	sink := newSink()
	err := stream.NewStreamer(store, store, fastConfig()).Run(context.Background(), "missing", sink)
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
	if events, _ := sink.snapshot(); len(events) != 1 || events[0].Type != stream.EventError {
		t.Fatalf("events = %+v", events)
	}
}

type unreadableStore struct {
	*repository.MemoryStore
}

func (u unreadableStore) Get(ctx context.Context, id string) (*model.Submission, error) {
	return nil, errors.New("connection refused")
}

func TestRunInitialLoadFailureEmitsError(t *testing.T) {
	t.Parallel()
	mem := newStore(t, 1)
	sink := newSink()
	err := stream.NewStreamer(unreadableStore{mem}, mem, fastConfig()).Run(context.Background(), "s", sink)
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
	events, _ := sink.snapshot()
	if len(events) != 1 || events[0].Type != stream.EventError || events[0].Error == "" {
		t.Fatalf("events = %+v", events)
	}
}

func TestRunStopsWhenClientLeaves(t *testing.T) {
	t.Parallel()
	store := newStore(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- stream.NewStreamer(store, store, fastConfig()).Run(ctx, "s", newSink()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream kept running after cancel")
	}
}

func TestRunSendsKeepalives(t *testing.T) {
	t.Parallel()
	store := newStore(t, 1)
	sink := newSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := stream.Config{PollInterval: time.Hour, KeepaliveInterval: 5 * time.Millisecond}
	go func() { _ = stream.NewStreamer(store, store, cfg).Run(ctx, "s", sink) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, n := sink.snapshot(); n >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no keepalives sent")
}

type vanishingStore struct {
	*repository.MemoryStore
}

func (v vanishingStore) Snapshot(ctx context.Context, id string) (model.Snapshot, error) {
	return model.Snapshot{}, repository.ErrSubmissionNotFound
}

type flakyStore struct {
	*repository.MemoryStore
}

func (f flakyStore) Snapshot(ctx context.Context, id string) (model.Snapshot, error) {
	return model.Snapshot{}, errors.New("connection reset")
}

func TestRunStoreFailureEmitsError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		store func(*repository.MemoryStore) repository.SubmissionRepository
	}{
		{name: "vanished", store: func(m *repository.MemoryStore) repository.SubmissionRepository { return vanishingStore{m} }},
		{name: "unreachable", store: func(m *repository.MemoryStore) repository.SubmissionRepository { return flakyStore{m} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mem := newStore(t, 1)
			sink := newSink()
			if err := stream.NewStreamer(tt.store(mem), mem, fastConfig()).Run(context.Background(), "s", sink); err != nil {
				t.Fatalf("Run: %v", err)
			}
			events, _ := sink.snapshot()
			if len(events) != 1 || events[0].Type != stream.EventError {
				t.Fatalf("events = %+v", events)
			}
		})
	}
}
