package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/moxley/arbiter/internal/events"
)

// Stats accumulates routing activity from the operational event bus
// for sensor state publishing. The routed-today counter resets at
// local midnight. Safe for concurrent use.
type Stats struct {
	started time.Time
	loc     *time.Location

	mu             sync.Mutex
	received       int64
	routed         int64
	routedToday    int64
	resetDay       int // day-of-year of last routed-today reset
	busyRejections int64
	byCapability   map[string]int64
	byStage        map[string]int64
}

// NewStats creates an accumulator using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewStats(loc *time.Location) *Stats {
	if loc == nil {
		loc = time.Local
	}
	return &Stats{
		started:      time.Now(),
		loc:          loc,
		resetDay:     time.Now().In(loc).YearDay(),
		byCapability: make(map[string]int64),
		byStage:      make(map[string]int64),
	}
}

// Run consumes bus events until ctx is cancelled or the channel
// closes.
func (s *Stats) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.Observe(ev)
		}
	}
}

// Observe folds a single event into the counters.
func (s *Stats) Observe(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case events.KindMessageReceived:
		s.received++
	case events.KindRouteExplicit, events.KindRouteDirective,
		events.KindRouteHeuristic, events.KindRouteAmbient:
		s.maybeReset()
		s.routed++
		s.routedToday++
		s.byStage[ev.Kind]++
	case events.KindCapabilityBusy:
		s.busyRejections++
	case events.KindDispatchDone:
		if name, ok := ev.Data["capability"].(string); ok {
			s.byCapability[name]++
		}
	}
}

// Uptime returns the time elapsed since the accumulator was created.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.started)
}

// Snapshot holds a point-in-time copy of the counters.
type Snapshot struct {
	Received       int64
	Routed         int64
	RoutedToday    int64
	BusyRejections int64
	ByCapability   map[string]int64
	ByStage        map[string]int64
}

// Snapshot returns the current counters after checking for midnight
// rollover of the daily counter.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeReset()
	snap := Snapshot{
		Received:       s.received,
		Routed:         s.routed,
		RoutedToday:    s.routedToday,
		BusyRejections: s.busyRejections,
		ByCapability:   make(map[string]int64, len(s.byCapability)),
		ByStage:        make(map[string]int64, len(s.byStage)),
	}
	for k, v := range s.byCapability {
		snap.ByCapability[k] = v
	}
	for k, v := range s.byStage {
		snap.ByStage[k] = v
	}
	return snap
}

// maybeReset zeroes the daily counter if the local day-of-year has
// changed. Must be called with s.mu held.
func (s *Stats) maybeReset() {
	today := time.Now().In(s.loc).YearDay()
	if today != s.resetDay {
		s.routedToday = 0
		s.resetDay = today
	}
}
