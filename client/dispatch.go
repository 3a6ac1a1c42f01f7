package client

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/gorupad/protocol"
	"github.com/caffeineduck/gorupad/worker"
	"go.uber.org/zap"
)

// handlers is the dispatch table for host events. Handlers run with the lock
// held.
var handlers = map[protocol.EventType]func(c *Client, ev protocol.Event){
	protocol.EventReady: func(c *Client, ev protocol.Event) {
		c.ready = true
		c.notifyLocked()
	},
	protocol.EventStdout: func(c *Client, ev protocol.Event) {
		c.appendLocked(KindOutput, ev.Text)
	},
	protocol.EventStderr: func(c *Client, ev protocol.Event) {
		c.appendLocked(KindError, ev.Text)
	},
	protocol.EventDone: func(c *Client, ev protocol.Event) {
		if c.finishRunLocked(ev.ID) {
			c.appendLocked(KindSuccess, runSucceededText)
		}
		c.resolveLocked(ev.ID, nil)
	},
	protocol.EventInstallDone: func(c *Client, ev protocol.Event) {
		c.resolveLocked(ev.ID, nil)
	},
	protocol.EventError: func(c *Client, ev protocol.Event) {
		c.finishRunLocked(ev.ID)
		c.appendLocked(KindError, ev.Text)
		c.resolveLocked(ev.ID, &RequestError{ID: ev.ID, Text: ev.Text})
	},
}

// pump feeds w's events to the dispatch table until the worker stops.
func (c *Client) pump(w worker.Worker) {
	for ev := range w.Events() {
		c.handle(w, ev)
	}
	select {
	case err := <-w.Faults():
		c.faulted(w, err)
	default:
		c.faulted(w, errors.New("worker stopped"))
	}
}

func (c *Client) handle(w worker.Worker, ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w != w {
		return
	}
	handler, ok := handlers[ev.Type]
	if !ok {
		c.log.Warn("ignoring unknown event", zap.String("type", string(ev.Type)))
		return
	}
	handler(c, ev)
}

// finishRunLocked ends the in-flight run if id is its request.
func (c *Client) finishRunLocked(id int64) bool {
	if !c.running || c.runID != id {
		return false
	}
	c.running = false
	return true
}

func (c *Client) resolveLocked(id int64, err error) {
	done, ok := c.pending[id]
	if !ok {
		c.log.Debug("terminal event for unknown request", zap.Int64("id", id))
		return
	}
	delete(c.pending, id)
	done <- err
}

// faulted reports a transport fault once, rejects everything outstanding and
// drops the dead worker so Start can spawn a new one. Faults from a worker that
// was already replaced or terminated are ignored.
func (c *Client) faulted(w worker.Worker, err error) {
	c.mu.Lock()
	if c.w != w {
		c.mu.Unlock()
		return
	}
	c.w = nil

	var startup *worker.StartupError
	if errors.As(err, &startup) {
		c.appendLocked(KindError, "Interpreter failed to start: "+startup.Reason)
	} else {
		c.appendLocked(KindError, "Worker error: "+err.Error())
	}
	c.log.Error("worker fault", zap.Error(err))

	c.ready = false
	c.running = false
	c.fault = err
	c.rejectAllLocked(fmt.Errorf("%w: %w", ErrTransport, err))
	c.notifyLocked()
	c.mu.Unlock()

	w.Terminate()
}
