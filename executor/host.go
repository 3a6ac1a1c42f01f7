package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/gorupad/protocol"
	"go.uber.org/zap"
)

// ErrStartup wraps interpreter construction failures. A host that fails to
// start never emits ready.
var ErrStartup = errors.New("interpreter startup failed")

// Host owns one interpreter and services install and run requests against it,
// one at a time, in arrival order.
type Host struct {
	lang Language
	cfg  hostConfig
	log  *zap.Logger

	mu     sync.Mutex
	loaded map[string]struct{}
}

// NewHost creates a host for lang. The interpreter is constructed by Serve.
func NewHost(lang Language, opts ...HostOption) *Host {
	cfg := defaultHostConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Host{
		lang:   lang,
		cfg:    cfg,
		log:    cfg.logger.With(zap.String("lang", lang.Name())),
		loaded: make(map[string]struct{}),
	}
}

// Serve constructs the interpreter, emits ready, and then handles requests
// until the channel is closed or ctx is done. Every event, including streamed
// script output, is passed to emit from the calling goroutine or from the
// interpreter while a request is being handled; emit is never called
// concurrently.
//
// Serve returns nil when requests is closed, ctx.Err() when ctx is done, and an
// error wrapping ErrStartup when the interpreter cannot be constructed.
func (h *Host) Serve(ctx context.Context, requests <-chan protocol.Request, emit func(protocol.Event)) error {
	h.mu.Lock()
	h.loaded = make(map[string]struct{})
	h.mu.Unlock()

	out := newEventStream(emit)

	interp, err := h.lang.New(ctx, Stdio{Stdout: out.Stdout(), Stderr: out.Stderr()})
	if err != nil {
		h.log.Error("interpreter construction failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrStartup, h.lang.Name(), err)
	}
	defer interp.Close()

	h.log.Info("interpreter ready")
	out.Emit(protocol.Ready())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			h.handle(ctx, interp, out, req)
		}
	}
}

// Loaded returns the packages installed so far, sorted.
func (h *Host) Loaded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.loaded))
	for name := range h.loaded {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (h *Host) handle(ctx context.Context, interp Interpreter, out *eventStream, req protocol.Request) {
	if err := req.Validate(); err != nil {
		h.log.Warn("dropping invalid request", zap.Int64("id", req.ID), zap.Error(err))
		if req.ID > 0 {
			out.Emit(protocol.Failure(req.ID, err.Error()))
		}
		return
	}

	log := h.log.With(zap.Int64("id", req.ID), zap.String("type", string(req.Type)))
	log.Debug("request started")
	h.cfg.observer.RequestStarted(req.Type)
	start := time.Now()

	var err error
	switch req.Type {
	case protocol.RequestInstall:
		err = h.install(ctx, interp, out, req)
	case protocol.RequestRun:
		err = h.run(ctx, interp, out, req)
	}

	elapsed := time.Since(start)
	h.cfg.observer.RequestFinished(req.Type, elapsed, err)

	if err != nil {
		log.Debug("request failed", zap.Duration("duration", elapsed), zap.Error(err))
		out.Emit(protocol.Failure(req.ID, err.Error()))
		return
	}

	log.Debug("request done", zap.Duration("duration", elapsed))
	if req.Type == protocol.RequestRun {
		out.Emit(protocol.Done(req.ID))
	} else {
		out.Emit(protocol.InstallDone(req.ID))
	}
}

func (h *Host) install(ctx context.Context, interp Interpreter, out *eventStream, req protocol.Request) error {
	names := append(interp.Imports(req.Code), req.Packages...)
	return h.ensure(ctx, interp, out, names)
}

func (h *Host) run(ctx context.Context, interp Interpreter, out *eventStream, req protocol.Request) error {
	if err := h.ensure(ctx, interp, out, interp.Imports(req.Code)); err != nil {
		return err
	}

	if h.cfg.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.runTimeout)
		defer cancel()
	}

	value, ok, err := safeExec(ctx, interp, req.Code)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timeout after %v", h.cfg.runTimeout)
		}
		return err
	}
	if ok {
		out.Print(value)
	}
	return nil
}

// ensure installs every name not yet loaded. Packages installed before a
// failure stay loaded.
func (h *Host) ensure(ctx context.Context, interp Interpreter, out *eventStream, names []string) error {
	missing := h.missing(names)
	if len(missing) == 0 {
		return nil
	}

	list := strings.Join(missing, ", ")
	out.Emit(protocol.Stdout("Installing packages: " + list + "..."))

	for _, name := range missing {
		if err := interp.Install(ctx, name); err != nil {
			h.log.Warn("package install failed", zap.String("package", name), zap.Error(err))
			return fmt.Errorf("install %s: %w", name, err)
		}
		h.mu.Lock()
		h.loaded[name] = struct{}{}
		h.mu.Unlock()
		h.cfg.observer.PackageInstalled(name)
		h.log.Info("package installed", zap.String("package", name))
	}

	out.Emit(protocol.Stdout("Packages installed: " + list + "."))
	return nil
}

// missing de-duplicates names, keeping first-appearance order, and drops
// empty and already-loaded names.
func (h *Host) missing(names []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := h.loaded[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}

// safeExec turns an interpreter panic into an execution fault so the host
// survives it.
func safeExec(ctx context.Context, interp Interpreter, code string) (value string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, ok = "", false
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	return interp.Exec(ctx, code)
}
