// Package executor runs deferred work on a single goroutine.
//
// Interrupt-like sources (timers, GPIO edges) never touch state or hardware.
// They hold a Signal and call Notify. The executor coalesces signals per
// kind, so a kind has at most one pending run no matter how often it is
// notified, and runs handlers one at a time in the order they became ready.
// Only handlers receive the state Writer.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/state"
)

// Kind names a class of deferred work.
type Kind string

const (
	KindSample  Kind = "sample"
	KindReport  Kind = "report"
	KindTrigger Kind = "trigger"
)

// Handler runs on the executor goroutine and is the only code that mutates
// state.
type Handler func(ctx context.Context, w *state.Writer)

// Notifier is the capability handed to interrupt-like contexts.
type Notifier interface {
	Notify()
}

// Signal requests a run of one registered kind.
type Signal struct {
	e    *Executor
	kind Kind
}

// Notify marks the kind pending. It never blocks; repeated calls before the
// handler starts collapse into one run.
func (s Signal) Notify() {
	s.e.signal(s.kind)
}

func (s Signal) Kind() Kind {
	return s.kind
}

type Executor struct {
	writer *state.Writer
	reader *state.Reader
	log    logger.Logger

	mu       sync.Mutex
	handlers map[Kind]Handler
	pending  map[Kind]bool
	ready    []Kind
	running  bool

	wake chan struct{}

	notified  atomic.Uint64
	coalesced atomic.Uint64
	processed atomic.Uint64

	observe func(kind Kind, took time.Duration)
}

type Option func(*Executor)

func WithLogger(log logger.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// WithObserver registers a callback invoked after each handler run.
func WithObserver(fn func(kind Kind, took time.Duration)) Option {
	return func(e *Executor) {
		e.observe = fn
	}
}

// New creates an executor that owns a fresh state with the given history
// capacity.
func New(capacity int, opts ...Option) *Executor {
	reader, writer := state.New(capacity)

	e := &Executor{
		writer:   writer,
		reader:   reader,
		log:      logger.Nop(),
		handlers: make(map[Kind]Handler),
		pending:  make(map[Kind]bool),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// State returns the read-only view of the executor's state.
func (e *Executor) State() *state.Reader {
	return e.reader
}

// Register installs the handler for kind and returns the Signal that
// schedules it. All kinds must be registered before Run.
func (e *Executor) Register(kind Kind, h Handler) (Signal, error) {
	errFactory := errors.New()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return Signal{}, errFactory.WithData(ErrRegisterAfterRun, string(kind))
	}
	if _, ok := e.handlers[kind]; ok {
		return Signal{}, errFactory.WithData(ErrDuplicateKind, string(kind))
	}
	e.handlers[kind] = h

	return Signal{e: e, kind: kind}, nil
}

// Run drains signals until ctx is done. A handler that is running when ctx
// ends is allowed to finish.
func (e *Executor) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New().New(ErrAlreadyRunning)
	}
	e.running = true
	e.mu.Unlock()

	e.log.Debug().Int("kinds", len(e.handlers)).Msg("Executor started")

	for {
		select {
		case <-ctx.Done():
			e.log.Debug().Msg("Executor stopped")
			return nil
		case <-e.wake:
		}

		for {
			if ctx.Err() != nil {
				break
			}
			kind, h, ok := e.next()
			if !ok {
				break
			}
			e.run(ctx, kind, h)
		}
	}
}

// Notified, Coalesced and Processed count signals received, signals merged
// into an already pending run, and handler runs completed.
func (e *Executor) Notified() uint64  { return e.notified.Load() }
func (e *Executor) Coalesced() uint64 { return e.coalesced.Load() }
func (e *Executor) Processed() uint64 { return e.processed.Load() }

// Pending reports whether kind is waiting to run.
func (e *Executor) Pending(kind Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[kind]
}

func (e *Executor) signal(kind Kind) {
	e.notified.Add(1)

	e.mu.Lock()
	if e.pending[kind] {
		e.mu.Unlock()
		e.coalesced.Add(1)
		return
	}
	e.pending[kind] = true
	e.ready = append(e.ready, kind)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest ready kind and clears its pending flag, so a signal
// raised while its handler runs schedules one more run.
func (e *Executor) next() (Kind, Handler, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.ready) == 0 {
		return "", nil, false
	}
	kind := e.ready[0]
	e.ready = e.ready[1:]
	e.pending[kind] = false

	return kind, e.handlers[kind], true
}

func (e *Executor) run(ctx context.Context, kind Kind, h Handler) {
	start := time.Now()
	if h != nil {
		h(ctx, e.writer)
	}
	took := time.Since(start)

	e.processed.Add(1)
	if e.observe != nil {
		e.observe(kind, took)
	}
}
