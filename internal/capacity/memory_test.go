package capacity

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestReserveRejectsBeyondCeiling(t *testing.T) {
	l := NewMemoryLedger(0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Reserve(ctx, "motion_synth", 2)
		if err != nil || !ok {
			t.Fatalf("reserve %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := l.Reserve(ctx, "motion_synth", 2)
	if err != nil {
		t.Fatalf("reserve over ceiling: %v", err)
	}
	if ok {
		t.Fatal("expected rejection at ceiling")
	}
	if n, _ := l.Load(ctx, "motion_synth"); n != 2 {
		t.Fatalf("load = %d after rejected reserve, want 2", n)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	l := NewMemoryLedger(0)
	ctx := context.Background()
	if n, err := l.Release(ctx, "validator"); err != nil || n != 0 {
		t.Fatalf("release on empty counter: n=%d err=%v", n, err)
	}
}

// No permanent overshoot survives a reserve/release cycle, regardless of
// interleaving.
func TestConcurrentReserveReleaseNeverExceedsCeiling(t *testing.T) {
	l := NewMemoryLedger(0)
	ctx := context.Background()
	const ceiling = 4
	const goroutines = 32

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ok, err := l.Reserve(ctx, "perception", ceiling)
				if err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				if !ok {
					continue
				}
				if n, _ := l.Load(ctx, "perception"); n > ceiling {
					t.Errorf("load %d exceeds ceiling %d", n, ceiling)
				}
				if _, err := l.Release(ctx, "perception"); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if n, _ := l.Load(ctx, "perception"); n != 0 {
		t.Fatalf("counter = %d after all cycles, want 0", n)
	}
}

func TestHoldTTLSelfHeals(t *testing.T) {
	l := NewMemoryLedger(time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }
	ctx := context.Background()

	if ok, _ := l.Reserve(ctx, "prompt_generator", 1); !ok {
		t.Fatal("initial reserve failed")
	}
	if ok, _ := l.Reserve(ctx, "prompt_generator", 1); ok {
		t.Fatal("second reserve should hit ceiling")
	}

	// Simulate a crashed holder: advance past the TTL without a release.
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	if ok, _ := l.Reserve(ctx, "prompt_generator", 1); !ok {
		t.Fatal("expected reserve to succeed after TTL expiry")
	}
}
