package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tannybot/remindd/internal/domain"
)

func newTestFire(jobID string) domain.FireEvent {
	return domain.FireEvent{
		JobID:       jobID,
		EventID:     "evt-1",
		Kind:        domain.KindOneHourBefore,
		TriggerTime: time.Now().UTC(),
		FiredAt:     time.Now().UTC(),
	}
}

func TestFireBus_EmitAndReceive(t *testing.T) {
	bus := NewFireBus(10)
	fire := newTestFire("job-1")

	ctx := context.Background()
	if err := bus.Emit(ctx, fire); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.JobID != fire.JobID {
			t.Errorf("JobID = %v, want %v", got.JobID, fire.JobID)
		}
		if got.Kind != fire.Kind {
			t.Errorf("Kind = %v, want %v", got.Kind, fire.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for fire on channel")
	}
}

func TestFireBus_ContextCancelledOnFullBuffer(t *testing.T) {
	bus := NewFireBus(1)

	ctx := context.Background()

	// Fill the buffer
	if err := bus.Emit(ctx, newTestFire("job-1")); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	// Blocked emit must honour cancellation rather than hang.
	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Emit(cancelledCtx, newTestFire("job-2"))
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestFireBus_ConcurrentEmit(t *testing.T) {
	bus := NewFireBus(1000)
	ctx := context.Background()

	const numGoroutines = 10
	const firesPerGoroutine = 100

	var wg sync.WaitGroup
	var emitErrors atomic.Int64

	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		for range bus.Channel() {
			received.Add(1)
			if received.Load() >= numGoroutines*firesPerGoroutine {
				close(done)
				return
			}
		}
	}()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < firesPerGoroutine; j++ {
				if err := bus.Emit(ctx, newTestFire("job")); err != nil {
					emitErrors.Add(1)
				}
			}
		}()
	}

	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Logf("received %d of %d fires", received.Load(), numGoroutines*firesPerGoroutine)
	}

	if emitErrors.Load() > 0 {
		t.Errorf("had %d emit errors", emitErrors.Load())
	}
}
