package background

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakePruner struct {
	calls   atomic.Int64
	deleted int64
}

func (f *fakePruner) DeleteExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return f.deleted, nil
}

func TestCleanupManager_RunsImmediatelyAndStops(t *testing.T) {
	pruner := &fakePruner{deleted: 3}
	cm := NewCleanupManager(pruner, slog.Default(), time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	// The startup run happens before the first tick
	deadline := time.After(2 * time.Second)
	for pruner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("cleanup did not run on startup")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cm.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_StopsOnContextCancel(t *testing.T) {
	cm := NewCleanupManager(&fakePruner{}, slog.Default(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup manager did not stop on context cancellation")
	}
}
