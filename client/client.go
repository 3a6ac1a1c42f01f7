// Package client coordinates a worker-hosted interpreter for a user interface.
//
// A [Client] owns one worker at a time. It correlates requests with their
// terminal events, converts the host's event stream into an append-only log,
// and allows at most one run in flight. The zero value is not usable; create
// clients with [New].
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/gorupad/protocol"
	"github.com/caffeineduck/gorupad/worker"
	"go.uber.org/zap"
)

var (
	ErrNotReady   = errors.New("interpreter not ready")
	ErrBusy       = errors.New("a run is already in progress")
	ErrTransport  = errors.New("transport fault")
	ErrTerminated = errors.New("worker terminated")
	ErrClosed     = errors.New("client closed")
)

// RequestError is a failure the host reported for one request.
type RequestError struct {
	ID   int64
	Text string
}

func (e *RequestError) Error() string {
	return e.Text
}

// Kind classifies a log line.
type Kind string

const (
	KindOutput  Kind = "output"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
)

// LogLine is one console entry.
type LogLine struct {
	ID   int64
	Kind Kind
	Text string
	Time time.Time
}

const (
	runStartedText   = "▶ Running..."
	runSucceededText = "✓ Completed successfully"
)

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSink calls fn with every appended line, in order. fn runs with the
// client's lock held and must not call back into the client.
func WithSink(fn func(LogLine)) Option {
	return func(c *Client) {
		c.sink = fn
	}
}

// WithClearHook calls fn whenever the log is cleared, under the same
// constraints as WithSink.
func WithClearHook(fn func()) Option {
	return func(c *Client) {
		c.onClear = fn
	}
}

// Client is safe for concurrent use.
type Client struct {
	spawn   worker.Spawner
	log     *zap.Logger
	sink    func(LogLine)
	onClear func()

	mu       sync.Mutex
	w        worker.Worker
	ready    bool
	running  bool
	runID    int64
	fault    error
	changed  chan struct{}
	nextReq  int64
	nextLine int64
	pending  map[int64]chan error
	logs     []LogLine
	closed   bool
}

// New returns a client that starts workers with spawn. Call Start to spawn the
// first one.
func New(spawn worker.Spawner, opts ...Option) *Client {
	c := &Client{
		spawn:   spawn,
		log:     zap.NewNop(),
		changed: make(chan struct{}),
		pending: make(map[int64]chan error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start spawns the worker. A spawn failure is logged like a transport fault
// and returned. After a fault, Start may be called again to spawn a
// replacement.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.w != nil {
		c.mu.Unlock()
		return errors.New("client already started")
	}
	c.mu.Unlock()

	w, err := c.spawn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.fault = err
		c.appendLocked(KindError, "Worker error: "+err.Error())
		c.notifyLocked()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if c.closed {
		w.Terminate()
		return ErrClosed
	}
	c.w = w
	c.fault = nil
	go c.pump(w)
	c.log.Debug("worker started")
	return nil
}

// Close terminates the worker and rejects outstanding requests.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	w := c.detachLocked(ErrClosed)
	c.mu.Unlock()

	if w != nil {
		return w.Terminate()
	}
	return nil
}

// Restart terminates the worker, rejecting outstanding requests with
// ErrTerminated, and spawns a fresh one. Installed packages and interpreter
// state are lost. It is the only way to stop a running script.
func (c *Client) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	w := c.detachLocked(ErrTerminated)
	c.mu.Unlock()

	if w != nil {
		if err := w.Terminate(); err != nil {
			c.log.Warn("terminate worker", zap.Error(err))
		}
	}
	return c.Start(ctx)
}

// detachLocked forgets the current worker and returns it for termination.
func (c *Client) detachLocked(reason error) worker.Worker {
	w := c.w
	c.w = nil
	c.ready = false
	c.running = false
	c.rejectAllLocked(reason)
	c.notifyLocked()
	return w
}

// Ready reports whether the host has emitted ready.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Running reports whether a run is in flight.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// WaitReady blocks until the host is ready, the worker faults, or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch {
		case c.ready:
			c.mu.Unlock()
			return nil
		case c.closed:
			c.mu.Unlock()
			return ErrClosed
		case c.fault != nil:
			err := c.fault
			c.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run executes code and waits for it to finish. It returns ErrNotReady or
// ErrBusy without logging or sending anything unless the host is ready and no
// other run is in flight. A failure the host reported is returned as a
// *RequestError; its log line has already been appended.
//
// If ctx is done first Run returns ctx.Err(), but the run stays in flight
// until the host reports its terminal event or the worker is restarted.
func (c *Client) Run(ctx context.Context, code string) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.running {
		c.mu.Unlock()
		return ErrBusy
	}

	c.clearLocked()
	c.appendLocked(KindInfo, runStartedText)
	id, done, err := c.dispatchLocked(protocol.Request{Type: protocol.RequestRun, Code: code})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.running = true
	c.runID = id
	c.mu.Unlock()

	return await(ctx, done)
}

// Install installs the packages code imports plus packages, and waits.
func (c *Client) Install(ctx context.Context, code string, packages []string) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	_, done, err := c.dispatchLocked(protocol.Request{
		Type:     protocol.RequestInstall,
		Code:     code,
		Packages: packages,
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return await(ctx, done)
}

// dispatchLocked assigns the next id, registers the pending request and posts
// it.
func (c *Client) dispatchLocked(req protocol.Request) (int64, chan error, error) {
	c.nextReq++
	req.ID = c.nextReq
	done := make(chan error, 1)
	c.pending[req.ID] = done

	if err := c.w.Post(req); err != nil {
		delete(c.pending, req.ID)
		c.appendLocked(KindError, "Worker error: "+err.Error())
		return 0, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.log.Debug("request dispatched", zap.Int64("id", req.ID), zap.String("type", string(req.Type)))
	return req.ID, done, nil
}

// await gives up on done when ctx ends. The request stays pending; its
// terminal event still resolves it.
func await(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logs returns a snapshot of the log.
func (c *Client) Logs() []LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogLine(nil), c.logs...)
}

// ClearLogs empties the log. Line ids keep increasing across clears.
func (c *Client) ClearLogs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Client) clearLocked() {
	c.logs = nil
	if c.onClear != nil {
		c.onClear()
	}
}

func (c *Client) appendLocked(kind Kind, text string) {
	c.nextLine++
	line := LogLine{ID: c.nextLine, Kind: kind, Text: text, Time: time.Now()}
	c.logs = append(c.logs, line)
	if c.sink != nil {
		c.sink(line)
	}
}

func (c *Client) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Client) rejectAllLocked(err error) {
	for id, done := range c.pending {
		done <- err
		delete(c.pending, id)
	}
}
