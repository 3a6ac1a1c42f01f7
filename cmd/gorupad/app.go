package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/caffeineduck/gorupad/client"
	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/hostfunc"
	"github.com/caffeineduck/gorupad/internal/config"
	"github.com/caffeineduck/gorupad/language/javascript"
	"github.com/caffeineduck/gorupad/language/python"
	"github.com/caffeineduck/gorupad/packages"
	"github.com/caffeineduck/gorupad/worker"
	"go.uber.org/zap"
)

func newRegistry(c config.Config, log *zap.Logger) *packages.Registry {
	rc := packages.DefaultRegistryConfig()
	rc.Dir = c.Packages.Dir
	rc.BaseURL = c.Packages.Registry
	rc.Policy.Allowed = c.Packages.Allow
	rc.Logger = log
	return packages.NewRegistry(rc)
}

func newPyPI(c config.Config, log *zap.Logger) *packages.PyPI {
	pc := packages.DefaultPyPIConfig()
	pc.Dir = c.Packages.PyDir
	pc.IndexURL = c.Packages.PyPI
	pc.Policy.Allowed = c.Packages.Allow
	pc.Logger = log
	return packages.NewPyPI(pc)
}

// newHostFuncs returns the functions scripts reach through goru.call, backed
// by a fresh KV store.
func newHostFuncs(c config.Config) *hostfunc.Registry {
	funcs := hostfunc.NewDefaultRegistry(hostfunc.NewKV(hostfunc.DefaultKVConfig()))
	if len(c.Net.Allow) > 0 {
		funcs.Register("http_request", hostfunc.NewHTTP(hostfunc.HTTPConfig{
			AllowedHosts: c.Net.Allow,
			RetryMax:     hostfunc.DefaultHTTPRetryMax,
		}).Request)
	}
	return funcs
}

func newLanguage(c config.Config, log *zap.Logger) executor.Language {
	funcs := newHostFuncs(c)
	if c.Lang == "python" {
		opts := []python.Option{
			python.WithPyPI(newPyPI(c, log)),
			python.WithHostFuncs(funcs),
			python.WithLogger(log),
		}
		if c.Cache.Dir != "" {
			opts = append(opts, python.WithCacheDir(c.Cache.Dir))
		}
		if c.Python.MemoryPages > 0 {
			opts = append(opts, python.WithMemoryLimitPages(c.Python.MemoryPages))
		}
		return python.New(c.Python.WASM, opts...)
	}
	return javascript.New(
		javascript.WithRegistry(newRegistry(c, log)),
		javascript.WithHostFuncs(funcs),
	)
}

func hostOptions(c config.Config, log *zap.Logger) []executor.HostOption {
	return []executor.HostOption{
		executor.WithRunTimeout(c.Run.Timeout),
		executor.WithLogger(log),
	}
}

// hostArgs are the arguments for a `gorupad host` child that reproduces c.
func hostArgs(c config.Config) []string {
	args := []string{
		"host",
		"--lang", c.Lang,
		"--timeout", c.Run.Timeout.String(),
		"--python-wasm", c.Python.WASM,
		"--python-memory-pages", strconv.FormatUint(uint64(c.Python.MemoryPages), 10),
		"--cache-dir", c.Cache.Dir,
		"--packages", c.Packages.Dir,
		"--py-packages", c.Packages.PyDir,
		"--registry", c.Packages.Registry,
		"--pypi", c.Packages.PyPI,
		"--log-level", c.Log.Level,
	}
	for _, p := range c.Packages.Allow {
		args = append(args, "--allow-pkg", p)
	}
	for _, h := range c.Net.Allow {
		args = append(args, "--allow-host", h)
	}
	return args
}

func newSpawner(c config.Config, log *zap.Logger) (worker.Spawner, error) {
	switch c.Worker.Mode {
	case config.ModeProcess:
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate gorupad binary: %w", err)
		}
		return worker.Exec(exe, hostArgs(c), log), nil
	case config.ModeRemote:
		return worker.Dial(c.Worker.URL, log), nil
	default:
		return worker.Spawn(newLanguage(c, log), hostOptions(c, log)...), nil
	}
}

// exitError ends the process with code. A nil err means the failure has
// already been shown on the console.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}

// runFailed maps client errors whose log line is already on the console to a
// silent exit.
func runFailed(err error) error {
	var reqErr *client.RequestError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &reqErr), errors.Is(err, client.ErrTransport):
		return &exitError{code: 1}
	case errors.Is(err, context.Canceled):
		return &exitError{code: 130}
	}
	return err
}
