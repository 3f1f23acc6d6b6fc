package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/netbridge/internal/bridgeerr"
)

func TestNew_DefaultGranularity(t *testing.T) {
	l := New("test", 0)
	if l.Granularity() != DefaultGranularity {
		t.Errorf("Granularity() = %v, want %v", l.Granularity(), DefaultGranularity)
	}
	if l.State() != StateStopped {
		t.Errorf("State() = %v, want %v", l.State(), StateStopped)
	}
}

func TestSetGranularity_ClampsToMinimum(t *testing.T) {
	l := New("test", 10*time.Millisecond)
	l.SetGranularity(0)
	if l.Granularity() != MinGranularity {
		t.Errorf("Granularity() = %v, want %v", l.Granularity(), MinGranularity)
	}
}

func TestLoop_StopIsBoundedByGranularity(t *testing.T) {
	granularity := 20 * time.Millisecond
	l := New("bounded", granularity)

	err := l.Go(func(ctx context.Context) {
		l.Poll(func(timeout time.Duration) {
			time.Sleep(timeout)
		})
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if l.State() != StateRunning {
		t.Errorf("State() = %v, want %v", l.State(), StateRunning)
	}

	start := time.Now()
	l.Stop()
	elapsed := time.Since(start)

	if elapsed > granularity+50*time.Millisecond {
		t.Errorf("Stop() took %v, want at most about one granularity (%v)", elapsed, granularity)
	}
	if l.State() != StateStopped {
		t.Errorf("State() after Stop = %v, want %v", l.State(), StateStopped)
	}
}

func TestLoop_GranularityChangeAppliesNextCycle(t *testing.T) {
	l := New("retune", 200*time.Millisecond)

	var mu sync.Mutex
	var timeouts []time.Duration
	cycled := make(chan struct{}, 100)

	err := l.Go(func(ctx context.Context) {
		l.Poll(func(timeout time.Duration) {
			mu.Lock()
			timeouts = append(timeouts, timeout)
			mu.Unlock()
			select {
			case cycled <- struct{}{}:
			default:
			}
			time.Sleep(time.Millisecond)
		})
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	defer l.Stop()

	<-cycled
	l.SetGranularity(7 * time.Millisecond)

	deadline := time.After(time.Second)
	for {
		select {
		case <-cycled:
		case <-deadline:
			t.Fatal("new granularity never observed by the worker")
		}
		mu.Lock()
		last := timeouts[len(timeouts)-1]
		mu.Unlock()
		if last == 7*time.Millisecond {
			return
		}
	}
}

func TestLoop_GoTwiceFails(t *testing.T) {
	l := New("twice", 5*time.Millisecond)
	body := func(ctx context.Context) {
		l.Poll(func(timeout time.Duration) { time.Sleep(timeout) })
	}

	if err := l.Go(body); err != nil {
		t.Fatalf("first Go() error = %v", err)
	}
	defer l.Stop()

	err := l.Go(body)
	if bridgeerr.TypeOf(err) != bridgeerr.ErrTypeAlreadyRunning {
		t.Errorf("second Go() error = %v, want AlreadyRunning", err)
	}
}

func TestLoop_RestartAfterStop(t *testing.T) {
	l := New("restart", 5*time.Millisecond)
	var runs atomic.Int32
	body := func(ctx context.Context) {
		runs.Add(1)
		l.Poll(func(timeout time.Duration) { time.Sleep(timeout) })
	}

	for i := 0; i < 3; i++ {
		if err := l.Go(body); err != nil {
			t.Fatalf("Go() #%d error = %v", i, err)
		}
		l.Stop()
	}
	if runs.Load() != 3 {
		t.Errorf("body ran %d times, want 3", runs.Load())
	}
}

func TestLoop_StopIdempotentAndConcurrent(t *testing.T) {
	l := New("concurrent", 5*time.Millisecond)
	l.Stop() // never started

	if err := l.Go(func(ctx context.Context) {
		l.Poll(func(timeout time.Duration) { time.Sleep(timeout) })
	}); err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Stop()
		}()
		go func(i int) {
			defer wg.Done()
			l.SetGranularity(time.Duration(i+1) * time.Millisecond)
		}(i)
	}
	wg.Wait()

	if l.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestLoop_PanicInCycleDoesNotKillWorker(t *testing.T) {
	l := New("panicky", time.Millisecond)
	var cycles atomic.Int32

	if err := l.Go(func(ctx context.Context) {
		l.Poll(func(timeout time.Duration) {
			if cycles.Add(1) == 1 {
				panic("collaborator exploded")
			}
			time.Sleep(timeout)
		})
	}); err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for cycles.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	l.Stop()

	if cycles.Load() < 3 {
		t.Errorf("worker ran %d cycles after panic, want at least 3", cycles.Load())
	}
}

func TestLoop_StopCancelsContext(t *testing.T) {
	l := New("ctx", time.Hour)
	blocked := make(chan struct{})

	if err := l.Go(func(ctx context.Context) {
		close(blocked)
		<-ctx.Done()
	}); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	<-blocked

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not cancel the worker context")
	}
}

func TestLoop_Sleep(t *testing.T) {
	l := New("sleep", time.Millisecond)
	result := make(chan bool, 1)

	if err := l.Go(func(ctx context.Context) {
		result <- l.Sleep(ctx, time.Hour)
	}); err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	l.Stop()
	if <-result {
		t.Error("Sleep() = true after Stop, want false")
	}
}
