package observe

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMultiSinkFansOut(t *testing.T) {
	var first, second []Event
	sink := NewMultiSink(
		nil,
		SinkFunc(func(_ context.Context, ev Event) error {
			first = append(first, ev)
			return nil
		}),
		SinkFunc(func(_ context.Context, ev Event) error {
			second = append(second, ev)
			return nil
		}),
	)

	if err := sink.Emit(context.Background(), Event{Kind: KindTurn, Status: StatusStarted}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("fan-out incomplete: %d and %d events", len(first), len(second))
	}
}

func TestMultiSinkStopsOnError(t *testing.T) {
	var reached bool
	sink := NewMultiSink(
		SinkFunc(func(context.Context, Event) error { return errors.New("down") }),
		SinkFunc(func(context.Context, Event) error { reached = true; return nil }),
	)

	if err := sink.Emit(context.Background(), Event{}); err == nil {
		t.Fatal("expected the downstream error to surface")
	}
	if reached {
		t.Fatal("later sinks must not run after a failure")
	}
}

func TestMultiSinkCollapsesTrivialCases(t *testing.T) {
	if _, ok := NewMultiSink().(NoopSink); !ok {
		t.Fatal("no sinks should collapse to NoopSink")
	}
	single := SinkFunc(func(context.Context, Event) error { return nil })
	if _, ok := NewMultiSink(single).(SinkFunc); !ok {
		t.Fatal("a single sink should be returned unwrapped")
	}
}

func TestAsyncSinkDeliversDownstream(t *testing.T) {
	received := make(chan Event, 1)
	async := NewAsyncSink(SinkFunc(func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	}), 8)
	defer async.Close()

	if err := async.Emit(context.Background(), Event{Kind: KindNode, NodeID: "main"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case ev := <-received:
		if ev.NodeID != "main" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatalf("event must be normalized before queueing: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the downstream sink")
	}
}

func TestAsyncSinkDropsUnderPressure(t *testing.T) {
	block := make(chan struct{})
	async := NewAsyncSink(SinkFunc(func(context.Context, Event) error {
		<-block
		return nil
	}), 1)
	defer func() {
		close(block)
		async.Close()
	}()

	// The first event occupies the worker, the second fills the buffer;
	// everything after must drop without blocking the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 16; i++ {
			if err := async.Emit(context.Background(), Event{Kind: KindCustom}); err != nil {
				t.Errorf("Emit must not fail under pressure: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked instead of dropping")
	}
}

func TestAsyncSinkHonorsCancelledContext(t *testing.T) {
	async := NewAsyncSink(NoopSink{}, 1)
	defer async.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := async.Emit(ctx, Event{}); err == nil {
		t.Fatal("a dead context should be reported")
	}
}
