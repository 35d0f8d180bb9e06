package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerRunsImmediatelyAndRepeats(t *testing.T) {
	var runs atomic.Int32
	fired := make(chan struct{}, 16)

	ticker := NewTicker(10 * time.Millisecond)
	err := ticker.Start(context.Background(), func(time.Time) {
		runs.Add(1)
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for run %d", i+1)
		}
	}

	if err := ticker.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("expected no runs after Stop")
	}
}

func TestTickerStopWithoutStart(t *testing.T) {
	if err := NewTicker(time.Second).Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
