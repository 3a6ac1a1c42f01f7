// Package worker runs execution hosts behind a message-passing boundary.
//
// A [Worker] accepts requests with Post and delivers the host's events on
// Events. Faults reports failures of the worker itself, as opposed to a
// failing script, which the host reports as an error event. Three transports
// are provided:
//
//   - [Spawn] runs the host on a goroutine in this process.
//   - [Exec] runs it in a child process speaking JSON lines on stdio.
//   - [Dial] connects to a host served over WebSocket by [Handler].
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/gorupad/protocol"
)

var ErrTerminated = errors.New("worker terminated")

// Worker is a running execution host.
type Worker interface {
	// Post queues req for the host. It never blocks on the host.
	Post(req protocol.Request) error

	// Events delivers host events in emission order. It is closed once the
	// worker stops.
	Events() <-chan protocol.Event

	// Faults delivers at most one error describing why the worker stopped
	// unexpectedly, before Events is closed. A *StartupError fault means the
	// host never became ready. Terminate never produces a fault.
	Faults() <-chan error

	// Terminate stops the worker. Queued and running requests are abandoned.
	Terminate() error
}

// Spawner starts a new worker.
type Spawner func(ctx context.Context) (Worker, error)

// StartupError reports an interpreter that failed to start.
type StartupError struct {
	Reason string
}

func (e *StartupError) Error() string {
	return "interpreter failed to start: " + e.Reason
}

// Process exit code and WebSocket close status used to signal StartupError
// across a transport boundary.
const (
	ExitStartupFailed   = 3
	StatusStartupFailed = 4001
)

// mailbox is an unbounded request queue, so Post never waits on a busy host.
type mailbox struct {
	mu     sync.Mutex
	queue  []protocol.Request
	signal chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) put(req protocol.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTerminated
	}
	m.queue = append(m.queue, req)
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}

// pump hands queued requests to deliver in order until ctx is done or deliver
// fails.
func (m *mailbox) pump(ctx context.Context, deliver func(protocol.Request) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.signal:
		}

		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			req := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			if err := deliver(req); err != nil {
				return err
			}
		}
	}
}

// outlet is the event and fault side shared by every transport.
type outlet struct {
	events chan protocol.Event
	faults chan error
	done   chan struct{}
	once   sync.Once
}

func newOutlet() *outlet {
	return &outlet{
		events: make(chan protocol.Event, 256),
		faults: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// emit delivers ev unless the worker has stopped.
func (o *outlet) emit(ev protocol.Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// fault records the first fault; later ones are dropped.
func (o *outlet) fault(err error) {
	select {
	case o.faults <- err:
	default:
	}
}

// stop unblocks pending emits. Safe to call more than once.
func (o *outlet) stop() {
	o.once.Do(func() { close(o.done) })
}

func (o *outlet) Events() <-chan protocol.Event { return o.events }
func (o *outlet) Faults() <-chan error          { return o.faults }

func panicError(r any) error {
	return fmt.Errorf("worker panic: %v", r)
}
