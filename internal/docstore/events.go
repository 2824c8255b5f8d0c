// Best-effort lifecycle notifications delivered off the operation path.

package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Op names a store operation.
type Op string

// Store operations, as reported in events and errors.
const (
	OpAddAll     Op = "addAll"
	OpAddOne     Op = "addOne"
	OpEditAll    Op = "editAll"
	OpEditOne    Op = "editOne"
	OpDeleteAll  Op = "deleteAll"
	OpDeleteOne  Op = "deleteOne"
	OpViewAll    Op = "viewAll"
	OpViewOne    Op = "viewOne"
	OpViewMany   Op = "viewMany"
	OpFind       Op = "find"
	OpReindex    Op = "reindex"
	OpGetRelated Op = "getRelated"
	OpVerify     Op = "verifyRelations"
	// OpWrite is a durable replace of one file.
	OpWrite Op = "write"
)

// Phase is the lifecycle point an event reports.
type Phase string

// Event phases.
const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
	PhaseError  Phase = "error"
)

// Event describes one lifecycle notification.
type Event struct {
	Phase      Phase
	Op         Op
	Collection string
	ID         string
	// Path is set for OpWrite.
	Path     string
	Err      error
	Duration time.Duration
	Time     time.Time
}

// Name returns "<phase>:<op>", or "write" for file writes.
func (e *Event) Name() string {
	if e.Op == OpWrite {
		return string(OpWrite)
	}
	return string(e.Phase) + ":" + string(e.Op)
}

// Listener receives events. Handlers run on the dispatcher goroutine and must
// not block for long; their failures never affect the operation.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to [Listener].
type ListenerFunc func(ctx context.Context, ev Event)

// HandleEvent implements [Listener].
func (f ListenerFunc) HandleEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

const defaultEventBuffer = 256

// emitter queues events on a buffered channel drained by one goroutine.
type emitter struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
	closed    bool
	ch        chan Event
	done      chan struct{}
}

func newEmitter(logger *slog.Logger, buffer int) *emitter {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	e := &emitter{
		logger: logger,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *emitter) subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// emit queues ev. When the queue is full or the emitter closed the event is
// dropped.
func (e *emitter) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed || len(e.listeners) == 0 {
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.logger.Warn("event queue full, dropping event", "event", ev.Name(), "collection", ev.Collection)
	}
}

func (e *emitter) run() {
	defer close(e.done)
	ctx := context.Background()
	for ev := range e.ch {
		e.mu.RLock()
		listeners := e.listeners
		e.mu.RUnlock()
		for _, l := range listeners {
			e.deliver(ctx, l, ev)
		}
	}
}

func (e *emitter) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked", "event", ev.Name(), "err", fmt.Sprint(r))
		}
	}()
	l.HandleEvent(ctx, ev)
}

// close stops accepting events and waits for queued ones to be delivered.
func (e *emitter) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()
	<-e.done
}
