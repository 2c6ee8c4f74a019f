// Package gateway serializes access to backend capability services.
//
// Each capability admits at most one in-flight execution. A second
// request for a busy capability is rejected immediately rather than
// queued, so callers can tell the requester to try again instead of
// silently stacking work behind a slow image render.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/events"
)

// Sentinel errors for the three distinct failure shapes. Callers use
// errors.Is to branch on them.
var (
	// ErrBusy means the capability already has an execution in flight.
	// The request was never started.
	ErrBusy = errors.New("capability busy")
	// ErrTimeout means the execution started but did not finish within
	// the caller's deadline. The underlying task may still be running;
	// the capability stays busy until it returns.
	ErrTimeout = errors.New("capability timed out")
	// ErrFailed means the execution ran to completion and reported an
	// error of its own.
	ErrFailed = errors.New("capability failed")
)

// Error wraps a capability execution failure with enough context to
// log and to answer the requester.
type Error struct {
	Capability capability.ID
	kind       error
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.Capability, e.kind, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Capability, e.kind)
}

func (e *Error) Is(target error) bool { return e.kind == target }

func (e *Error) Unwrap() error { return e.cause }

// Gateway tracks which capabilities have an execution in flight.
type Gateway struct {
	logger *slog.Logger
	bus    *events.Bus

	mu       sync.Mutex
	inflight map[capability.ID]bool
}

// New creates a gateway. The bus may be nil.
func New(logger *slog.Logger, bus *events.Bus) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		logger:   logger,
		bus:      bus,
		inflight: make(map[capability.ID]bool),
	}
}

// Busy reports whether the capability currently has an execution in
// flight.
func (g *Gateway) Busy(id capability.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight[id]
}

// acquire marks the capability in flight. It fails if an execution is
// already running.
func (g *Gateway) acquire(id capability.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[id] {
		return false
	}
	g.inflight[id] = true
	return true
}

func (g *Gateway) release(id capability.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, id)
}

// Execute runs task under the gateway's single-flight rule for id.
//
// If the capability is busy the task never starts and the error
// matches ErrBusy. If ctx's deadline passes before the task returns,
// Execute returns an ErrTimeout error immediately but the capability
// stays busy until the task actually finishes; the task is expected
// to honor ctx and wind down on its own. Explicit cancellation of ctx
// matches ErrFailed rather than ErrTimeout, as does a task error.
func Execute[T any](ctx context.Context, g *Gateway, id capability.ID, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !g.acquire(id) {
		g.logger.Warn("capability busy, rejecting request", "capability", id)
		g.bus.Publish(events.Event{
			Source: events.SourceGateway,
			Kind:   events.KindCapabilityBusy,
			Data:   map[string]any{"capability": string(id)},
		})
		return zero, &Error{Capability: id, kind: ErrBusy}
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	started := time.Now()

	go func() {
		defer g.release(id)
		v, err := task(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(started)
		g.publishDone(id, out.err == nil, elapsed)
		if out.err != nil {
			g.logger.Error("capability execution failed",
				"capability", id,
				"elapsed", elapsed,
				"error", out.err)
			return zero, &Error{Capability: id, kind: ErrFailed, cause: out.err}
		}
		g.logger.Debug("capability execution finished",
			"capability", id,
			"elapsed", elapsed)
		return out.value, nil
	case <-ctx.Done():
		// A deadline is a timeout; an explicit cancellation by the
		// caller is not, and reports as a failure instead.
		kind := ErrTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = ErrFailed
		}
		g.logger.Warn("capability execution interrupted",
			"capability", id,
			"elapsed", time.Since(started),
			"cause", ctx.Err())
		g.publishDone(id, false, time.Since(started))
		return zero, &Error{Capability: id, kind: kind, cause: ctx.Err()}
	}
}

func (g *Gateway) publishDone(id capability.ID, success bool, elapsed time.Duration) {
	g.bus.Publish(events.Event{
		Source: events.SourceGateway,
		Kind:   events.KindDispatchDone,
		Data: map[string]any{
			"capability": string(id),
			"success":    success,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}
