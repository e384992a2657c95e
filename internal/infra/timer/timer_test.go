package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestIntervalTimer_Fires(t *testing.T) {
	var n atomic.Int32
	tm := Start(context.Background(), "tick", 10*time.Millisecond, func(context.Context) {
		n.Add(1)
	})
	time.Sleep(75 * time.Millisecond)
	tm.Cancel()
	tm.Wait()

	if got := n.Load(); got < 2 {
		t.Errorf("callback fired %d times, want >= 2", got)
	}

	// No ticks after cancel
	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	if n.Load() != after {
		t.Error("callback fired after Cancel()")
	}
}

func TestIntervalTimer_SurvivesPanic(t *testing.T) {
	var n atomic.Int32
	tm := Start(context.Background(), "panicky", 10*time.Millisecond, func(context.Context) {
		if n.Add(1) == 1 {
			panic("first tick")
		}
	})
	defer func() {
		tm.Cancel()
		tm.Wait()
	}()

	deadline := time.Now().Add(time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n.Load() < 3 {
		t.Errorf("timer stopped after panic, fired %d times", n.Load())
	}
}

func TestIntervalTimer_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tm := Start(ctx, "child", time.Hour, func(context.Context) {})
	cancel()

	done := make(chan struct{})
	go func() {
		tm.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not exit after parent context cancel")
	}
}

func TestSet_AddRemove(t *testing.T) {
	s := NewSet()
	ctx := context.Background()
	noop := func(context.Context) {}

	if !s.Add(ctx, "heartbeat", time.Hour, noop) {
		t.Fatal("Add(heartbeat) = false, want true")
	}
	if s.Add(ctx, "heartbeat", time.Hour, noop) {
		t.Error("duplicate Add should return false")
	}
	if !s.Add(ctx, "inference", time.Hour, noop) {
		t.Fatal("Add(inference) = false, want true")
	}

	if diff := cmp.Diff([]string{"heartbeat", "inference"}, s.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	if !s.Remove("heartbeat") {
		t.Error("Remove(heartbeat) = false, want true")
	}
	if s.Remove("heartbeat") {
		t.Error("second Remove should return false")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestSet_CancelAllWaitsForCallback(t *testing.T) {
	s := NewSet()
	started := make(chan struct{})
	var finished atomic.Bool

	s.Add(context.Background(), "slow", 5*time.Millisecond, func(context.Context) {
		select {
		case <-started:
			return
		default:
			close(started)
		}
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	s.CancelAll()

	if !finished.Load() {
		t.Error("CancelAll returned before the running callback finished")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after CancelAll, want 0", s.Len())
	}
}
