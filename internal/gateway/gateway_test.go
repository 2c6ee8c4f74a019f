package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/events"
)

func TestExecuteReturnsValue(t *testing.T) {
	g := New(nil, nil)
	got, err := Execute(context.Background(), g, capability.Chat, func(ctx context.Context) (string, error) {
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if g.Busy(capability.Chat) {
		t.Error("capability should be released after completion")
	}
}

func TestExecuteBusy(t *testing.T) {
	g := New(nil, nil)
	release := make(chan struct{})
	running := make(chan struct{})

	go Execute(context.Background(), g, capability.Image, func(ctx context.Context) (string, error) {
		close(running)
		<-release
		return "done", nil
	})
	<-running

	_, err := Execute(context.Background(), g, capability.Image, func(ctx context.Context) (string, error) {
		t.Error("second task should never start")
		return "", nil
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrFailed) {
		t.Error("busy error should not match timeout or failure")
	}
	close(release)
}

func TestExecuteBusyDoesNotBlockOtherCapabilities(t *testing.T) {
	g := New(nil, nil)
	release := make(chan struct{})
	running := make(chan struct{})
	defer close(release)

	go Execute(context.Background(), g, capability.Image, func(ctx context.Context) (string, error) {
		close(running)
		<-release
		return "", nil
	})
	<-running

	got, err := Execute(context.Background(), g, capability.Weather, func(ctx context.Context) (string, error) {
		return "sunny", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sunny" {
		t.Errorf("got %q, want %q", got, "sunny")
	}
}

func TestExecuteTimeout(t *testing.T) {
	g := New(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	finished := make(chan struct{})
	_, err := Execute(ctx, g, capability.Search, func(ctx context.Context) (string, error) {
		defer close(finished)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return "", ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrBusy) || errors.Is(err, ErrFailed) {
		t.Error("timeout error should not match busy or failure")
	}

	// The slot is held until the task actually returns.
	if !g.Busy(capability.Search) {
		t.Error("capability should stay busy while the task winds down")
	}
	<-finished
	deadline := time.Now().Add(time.Second)
	for g.Busy(capability.Search) {
		if time.Now().After(deadline) {
			t.Fatal("capability never released after task completion")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecuteCancellationIsFailureNotTimeout(t *testing.T) {
	g := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	running := make(chan struct{})
	go func() {
		<-running
		cancel()
	}()

	_, err := Execute(ctx, g, capability.Search, func(ctx context.Context) (string, error) {
		close(running)
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("got %v, want ErrFailed", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("caller cancellation should not report as a timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cancellation should unwrap to context.Canceled")
	}
}

func TestExecuteFailure(t *testing.T) {
	g := New(nil, nil)
	cause := errors.New("render exploded")
	_, err := Execute(context.Background(), g, capability.Meme, func(ctx context.Context) (string, error) {
		return "", cause
	})
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("got %v, want ErrFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Error("failure should unwrap to the task error")
	}
	if errors.Is(err, ErrBusy) || errors.Is(err, ErrTimeout) {
		t.Error("failure error should not match busy or timeout")
	}
	if g.Busy(capability.Meme) {
		t.Error("capability should be released after failure")
	}
}

func TestExecutePublishesBusyEvent(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	g := New(nil, bus)
	release := make(chan struct{})
	running := make(chan struct{})
	defer close(release)

	go Execute(context.Background(), g, capability.Sports, func(ctx context.Context) (string, error) {
		close(running)
		<-release
		return "", nil
	})
	<-running

	Execute(context.Background(), g, capability.Sports, func(ctx context.Context) (string, error) {
		return "", nil
	})

	select {
	case ev := <-ch:
		if ev.Kind != events.KindCapabilityBusy {
			t.Errorf("got kind %q, want %q", ev.Kind, events.KindCapabilityBusy)
		}
		if cap, _ := ev.Data["capability"].(string); cap != "sports" {
			t.Errorf("got capability %q, want %q", cap, "sports")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for busy event")
	}
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Capability: capability.Image, kind: ErrFailed, cause: errors.New("boom")}
	want := "image: capability failed: boom"
	if e.Error() != want {
		t.Errorf("got %q, want %q", e.Error(), want)
	}
}
