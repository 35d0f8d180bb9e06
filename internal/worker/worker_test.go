package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/infrastructure/queue"
	"SelectionBuilder/internal/infrastructure/storage"
)

type stubMaterializer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubMaterializer) Materialize(_ context.Context, builderID, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, builderID+"/"+contentType)
	return s.err
}

type stubPoller struct {
	mu    sync.Mutex
	polls []string
}

func (s *stubPoller) HandlePoll(_ context.Context, taskID string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls = append(s.polls, taskID)
	_ = attempt
	return nil
}

type signalDriver struct {
	started chan struct{}
}

func (d *signalDriver) Start(_ context.Context, job func(time.Time)) error {
	job(time.Now())
	close(d.started)
	return nil
}

func (d *signalDriver) Stop(context.Context) error { return nil }

func newQueue(t *testing.T) *queue.Store {
	t.Helper()
	db, err := storage.Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return queue.New(db)
}

func TestDrainDispatchesByKind(t *testing.T) {
	jobs := newQueue(t)
	ctx := context.Background()
	_ = jobs.EnqueueMaterialize(ctx, "simple", "B1", domain.ContentTypeTSV)
	_ = jobs.EnqueuePollZimStatus(ctx, "T1", 0, 0)

	mat, poll := &stubMaterializer{}, &stubPoller{}
	w, err := New(Deps{
		Jobs:         jobs,
		Materializer: mat,
		Poller:       poll,
		Driver:       &signalDriver{started: make(chan struct{})},
		Config:       config.WorkerConfig{MaxAttempts: 3, StaleAfter: time.Hour},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if n := w.Drain(ctx); n != 2 {
		t.Fatalf("expected 2 jobs processed, got %d", n)
	}
	if len(mat.calls) != 1 || mat.calls[0] != "B1/"+domain.ContentTypeTSV {
		t.Fatalf("unexpected materialize calls: %v", mat.calls)
	}
	if len(poll.polls) != 1 || poll.polls[0] != "T1" {
		t.Fatalf("unexpected polls: %v", poll.polls)
	}

	counts, _ := jobs.Stats(ctx)
	if len(counts) != 0 {
		t.Fatalf("expected queue to be empty, got %+v", counts)
	}
}

func TestDrainReschedulesFailures(t *testing.T) {
	jobs := newQueue(t)
	ctx := context.Background()
	_ = jobs.EnqueueMaterialize(ctx, "simple", "B1", domain.ContentTypeTSV)

	mat := &stubMaterializer{err: errors.New("store offline")}
	w, err := New(Deps{
		Jobs:         jobs,
		Materializer: mat,
		Poller:       &stubPoller{},
		Driver:       &signalDriver{started: make(chan struct{})},
		Config:       config.WorkerConfig{MaxAttempts: 3},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if n := w.Drain(ctx); n != 1 {
		t.Fatalf("expected one attempt before backoff, got %d", n)
	}
	counts, _ := jobs.Stats(ctx)
	if len(counts) != 1 || counts[0].Status != queue.StatusPending || counts[0].Jobs != 1 {
		t.Fatalf("expected job to wait for retry, got %+v", counts)
	}
}

func TestSecondWorkerCannotTakeLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "worker.lock")
	cfg := config.WorkerConfig{LockPath: lockPath, MaxAttempts: 3}

	driver := &signalDriver{started: make(chan struct{})}
	first, err := New(Deps{Jobs: newQueue(t), Materializer: &stubMaterializer{}, Poller: &stubPoller{}, Driver: driver, Config: cfg})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- first.Run(ctx) }()

	select {
	case <-driver.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first worker did not start")
	}

	second, _ := New(Deps{Jobs: newQueue(t), Materializer: &stubMaterializer{}, Poller: &stubPoller{}, Driver: &signalDriver{started: make(chan struct{})}, Config: cfg})
	if err := second.Run(context.Background()); err == nil {
		t.Fatal("expected second worker to be refused")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("first worker Run returned %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := map[int]time.Duration{
		1:  30 * time.Second,
		2:  time.Minute,
		3:  2 * time.Minute,
		20: 30 * time.Minute,
	}
	for attempts, want := range cases {
		if got := retryDelay(attempts); got != want {
			t.Fatalf("retryDelay(%d) = %s, want %s", attempts, got, want)
		}
	}
}
