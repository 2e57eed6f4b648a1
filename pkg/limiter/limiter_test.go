package limiter

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestNew_DefaultCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		want     int
	}{
		{name: "zero", capacity: 0, want: DefaultCapacity},
		{name: "negative", capacity: -3, want: DefaultCapacity},
		{name: "explicit", capacity: 4, want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.capacity, testLogger())
			if l.Capacity() != tt.want {
				t.Errorf("Capacity() = %d, want %d", l.Capacity(), tt.want)
			}
		})
	}
}

func TestLimiter_BoundsConcurrency(t *testing.T) {
	const capacity = 3
	l := New(capacity, testLogger())
	ctx := context.Background()

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(ctx, func() error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > capacity {
		t.Errorf("peak concurrency = %d, want <= %d", peak.Load(), capacity)
	}
	if l.InFlight() != 0 {
		t.Errorf("InFlight() = %d after all calls returned, want 0", l.InFlight())
	}
}

func TestLimiter_ReleasesOnError(t *testing.T) {
	l := New(1, testLogger())
	ctx := context.Background()
	wantErr := errors.New("boom")

	if err := l.Do(ctx, func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("Do() error = %v, want %v", err, wantErr)
	}

	// The single slot must be free again.
	done := make(chan struct{})
	go func() {
		_ = l.Do(ctx, func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("slot was not released after fn returned an error")
	}
}

func TestLimiter_ReleasesOnPanic(t *testing.T) {
	l := New(1, testLogger())
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = l.Do(ctx, func() error { panic("fetch exploded") })
	}()

	if l.InFlight() != 0 {
		t.Errorf("InFlight() = %d after panic, want 0", l.InFlight())
	}
}

func TestLimiter_AcquireContextCancelled(t *testing.T) {
	l := New(1, testLogger())
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
}
