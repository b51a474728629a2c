// Package initonce runs named setup procedures at most once per process.
//
// Each key moves through a small state machine:
//
//	unstarted → in_progress → succeeded | failed
//	failed    → in_progress (retry on the next call)
//
// Callers that arrive while an attempt is in flight wait for it and share its
// outcome instead of starting a second one. Safe for concurrent use.
package initonce

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/auditdocs/docvault/internal/metrics"
)

// State is the lifecycle position of one key.
type State string

const (
	// StateUnstarted is the state of a key that was never run.
	StateUnstarted State = "unstarted"
	// StateInProgress means an attempt is running; new callers wait for it.
	StateInProgress State = "in_progress"
	// StateSucceeded is terminal; later calls return nil without running setup.
	StateSucceeded State = "succeeded"
	// StateFailed means the last attempt failed; the next call retries.
	StateFailed State = "failed"
)

// validTransitions lists the target states reachable from each state.
var validTransitions = map[State]map[State]bool{
	StateUnstarted:  {StateInProgress: true},
	StateInProgress: {StateSucceeded: true, StateFailed: true},
	StateFailed:     {StateInProgress: true},
	StateSucceeded:  {},
}

// attempt is a single in-flight execution shared by all callers of a key.
type attempt struct {
	done    chan struct{}
	err     error
	waiters int
}

// Guard tracks per-key initialization state.
type Guard struct {
	mu       sync.Mutex
	states   map[string]State
	inflight map[string]*attempt
	log      zerolog.Logger
}

// New creates an empty Guard.
func New(log zerolog.Logger) *Guard {
	return &Guard{
		states:   make(map[string]State),
		inflight: make(map[string]*attempt),
		log:      log.With().Str("component", "initonce").Logger(),
	}
}

// State returns the current state of key.
func (g *Guard) State(key string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(key)
}

func (g *Guard) stateLocked(key string) State {
	if s, ok := g.states[key]; ok {
		return s
	}
	return StateUnstarted
}

// transitionLocked moves key to target. Invalid transitions indicate a bug in Guard itself.
func (g *Guard) transitionLocked(key string, target State) {
	from := g.stateLocked(key)
	if !validTransitions[from][target] {
		panic(fmt.Sprintf("initonce: invalid transition %s → %s for %q", from, target, key))
	}
	g.states[key] = target
}

// Do runs setup for key unless it already succeeded. Concurrent callers during an
// in-flight attempt wait for it and receive the same error. A caller whose ctx ends
// while waiting returns ctx.Err() without affecting the attempt. setup receives the
// ctx of the caller that started the attempt; if that ctx is cancelled the attempt
// fails and the key becomes retryable.
func (g *Guard) Do(ctx context.Context, key string, setup func(context.Context) error) error {
	g.mu.Lock()
	switch g.stateLocked(key) {
	case StateSucceeded:
		g.mu.Unlock()
		return nil
	case StateInProgress:
		a := g.inflight[key]
		a.waiters++
		g.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a := &attempt{done: make(chan struct{})}
	g.inflight[key] = a
	g.transitionLocked(key, StateInProgress)
	g.mu.Unlock()

	a.err = g.run(ctx, key, setup)

	g.mu.Lock()
	if a.err == nil {
		g.transitionLocked(key, StateSucceeded)
	} else {
		g.transitionLocked(key, StateFailed)
	}
	delete(g.inflight, key)
	g.mu.Unlock()
	close(a.done)

	metrics.RecordInitAttempt(key, a.err)
	return a.err
}

func (g *Guard) run(ctx context.Context, key string, setup func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initializer %q panicked: %v", key, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	g.log.Info().Str("key", key).Msg("running initializer")
	return setup(ctx)
}

// Initialize is Do for callers that degrade instead of failing: it logs the
// error and reports whether key is initialized.
func (g *Guard) Initialize(ctx context.Context, key string, setup func(context.Context) error) bool {
	if err := g.Do(ctx, key, setup); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("initializer failed; continuing in degraded mode")
		return false
	}
	return true
}
