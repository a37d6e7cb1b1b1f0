// Package stream runs the per-request streaming lifecycle: forward
// increments as they arrive, accumulate the full text, and finalize exactly
// once on whichever terminal path the request takes.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"modelgate/internal/core"
)

// State is the request lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateErrored   State = "errored"
)

// Result is what the finalizer receives: the accumulated content and the
// terminal state. Err is non-nil only for StateErrored.
type Result struct {
	Content string
	State   State
	Err     *core.ProviderError
}

// Finalizer persists one finished request. It is invoked exactly once per
// orchestrator, on every terminal path.
type Finalizer interface {
	Finalize(ctx context.Context, res Result) error
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc func(ctx context.Context, res Result) error

func (f FinalizerFunc) Finalize(ctx context.Context, res Result) error {
	return f(ctx, res)
}

// Orchestrator drives one streaming request. It is not restartable; create
// a new one per request.
type Orchestrator struct {
	upstream core.TextStream
	finalize Finalizer
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	accumulated strings.Builder
	err         *core.ProviderError

	finalizeOnce sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator over an upstream stream.
func New(upstream core.TextStream, finalize Finalizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		upstream: upstream,
		finalize: finalize,
		logger:   slog.Default(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Content returns the text accumulated so far.
func (o *Orchestrator) Content() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.accumulated.String()
}

// Recv pulls the next increment, appends it to the accumulator, and returns
// it for forwarding. io.EOF means normal completion, already finalized. Any
// other error is a *ProviderError; the accumulated partial has been
// finalized as errored before it is returned.
func (o *Orchestrator) Recv(ctx context.Context) (string, error) {
	o.mu.Lock()
	switch o.state {
	case StateCancelled:
		o.mu.Unlock()
		return "", io.EOF
	case StateCompleted:
		o.mu.Unlock()
		return "", io.EOF
	case StateErrored:
		err := o.err
		o.mu.Unlock()
		return "", err
	}
	o.state = StateStreaming
	o.mu.Unlock()

	chunk, err := o.upstream.Recv()
	if err == io.EOF {
		o.terminate(ctx, StateCompleted, nil)
		return "", io.EOF
	}
	if err != nil {
		// A cancel closes the upstream connection, which surfaces here as
		// a transport error on the blocked Recv. The caller's context
		// cancellation can also win the race and arrive before Cancel
		// does. Neither is a failure.
		if o.State() == StateCancelled || errors.Is(err, context.Canceled) {
			o.terminate(ctx, StateCancelled, nil)
			return "", io.EOF
		}
		perr := core.AsProviderError("", err)
		o.terminate(ctx, StateErrored, perr)
		return "", perr
	}

	o.mu.Lock()
	// A concurrent Cancel may have won while we were blocked in Recv.
	// The increment is dropped: nothing is forwarded after cancellation.
	if o.state == StateCancelled {
		o.mu.Unlock()
		return "", io.EOF
	}
	o.accumulated.WriteString(chunk)
	o.mu.Unlock()

	return chunk, nil
}

// Cancel stops the request: the upstream connection closes, no further
// increments are forwarded, and the accumulated partial is finalized as
// cancelled. Cancelling an already-terminal request is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.terminate(ctx, StateCancelled, nil)
}

// terminate moves to a terminal state and finalizes. Only the first caller
// wins; later calls (and later Recv errors) see the settled state.
func (o *Orchestrator) terminate(ctx context.Context, state State, perr *core.ProviderError) {
	o.finalizeOnce.Do(func() {
		o.mu.Lock()
		o.state = state
		o.err = perr
		content := o.accumulated.String()
		o.mu.Unlock()

		_ = o.upstream.Close()

		res := Result{Content: content, State: state, Err: perr}
		if err := o.finalize.Finalize(ctx, res); err != nil {
			o.logger.Error("failed to finalize stream", "state", state, "error", err)
		}

		o.logger.Info("stream finished",
			"state", state, "chars", len(content), "errored", perr != nil)
	})
}
