// Package python provides the Python language adapter for gorupad. It runs a
// WASI build of the Python interpreter (python.wasm) under wazero; each
// execution is a fresh instance of the compiled module, with installed
// packages mounted read-only at /packages.
package python

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/hostfunc"
	"github.com/caffeineduck/gorupad/packages"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

//go:embed prelude.py
var prelude string

const packagesMount = "/packages"

// Python implements executor.Language.
type Python struct {
	wasmPath         string
	cacheDir         string
	memoryLimitPages uint32
	pypi             *packages.PyPI
	funcs            *hostfunc.Registry
	log              *zap.Logger
}

type Option func(*Python)

// WithCacheDir persists compiled machine code across processes.
func WithCacheDir(dir string) Option {
	return func(p *Python) {
		p.cacheDir = dir
	}
}

// WithMemoryLimitPages caps guest memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(p *Python) {
		p.memoryLimitPages = pages
	}
}

// WithPyPI sets the installer used for install requests.
func WithPyPI(pypi *packages.PyPI) Option {
	return func(p *Python) {
		p.pypi = pypi
	}
}

// WithHostFuncs exposes funcs to scripts through goru.call.
func WithHostFuncs(funcs *hostfunc.Registry) Option {
	return func(p *Python) {
		if funcs != nil {
			p.funcs = funcs
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Python) {
		if l != nil {
			p.log = l
		}
	}
}

// New returns a Python adapter that loads the interpreter from wasmPath.
func New(wasmPath string, opts ...Option) *Python {
	p := &Python{
		wasmPath: wasmPath,
		funcs:    hostfunc.NewRegistry(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "python".
func (p *Python) Name() string {
	return "python"
}

// New compiles the interpreter module. A missing or invalid python.wasm is a
// startup failure.
func (p *Python) New(ctx context.Context, stdio executor.Stdio) (executor.Interpreter, error) {
	if p.wasmPath == "" {
		return nil, errors.New("no python.wasm configured")
	}
	wasm, err := os.ReadFile(p.wasmPath)
	if err != nil {
		return nil, fmt.Errorf("read interpreter: %w", err)
	}

	var cache wazero.CompilationCache
	if p.cacheDir != "" {
		cache, err = wazero.NewCompilationCacheWithDir(p.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if p.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(p.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	in := &interpreter{lang: p, rt: rt, cache: cache, stdio: stdio}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		in.Close()
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	in.compiled, err = rt.CompileModule(ctx, wasm)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("compile %s: %w", filepath.Base(p.wasmPath), err)
	}

	if stdio.Stdout == nil {
		in.stdio.Stdout = io.Discard
	}
	if stdio.Stderr == nil {
		in.stdio.Stderr = io.Discard
	}
	return in, nil
}

type interpreter struct {
	lang     *Python
	rt       wazero.Runtime
	cache    wazero.CompilationCache
	compiled wazero.CompiledModule
	stdio    executor.Stdio
}

func (in *interpreter) Exec(ctx context.Context, code string) (string, bool, error) {
	quoted, err := json.Marshal(code)
	if err != nil {
		return "", false, err
	}
	script := prelude + "\n_goru_run(" + string(quoted) + ")\n"

	stdinReader, stdinWriter := io.Pipe()
	b := newBridge(ctx, in.lang.funcs, stdinWriter, in.stdio.Stderr)

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(in.stdio.Stdout).
		WithStderr(b).
		WithStdin(stdinReader).
		WithArgs("python", "-c", script).
		WithName("")

	if dir := in.packagesDir(); dir != "" {
		moduleConfig = moduleConfig.
			WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(dir, packagesMount)).
			WithEnv("PYTHONPATH", packagesMount)
	}

	_, err = in.rt.InstantiateModule(ctx, in.compiled, moduleConfig)
	stdinWriter.Close()
	b.flush()

	value, failure, lastLine := b.result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		var exit *sys.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() != 0 {
			switch {
			case failure != nil:
				return "", false, errors.New(*failure)
			case lastLine != "":
				return "", false, fmt.Errorf("execution failed: %s", lastLine)
			default:
				return "", false, fmt.Errorf("execution failed: %w", err)
			}
		}
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func (in *interpreter) packagesDir() string {
	if in.lang.pypi == nil {
		return ""
	}
	dir, err := filepath.Abs(in.lang.pypi.Dir())
	if err != nil {
		return ""
	}
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return dir
}

func (in *interpreter) Imports(code string) []string {
	return parseImports(code)
}

// Install fetches the distribution providing import name. Modules already
// present in the package directory are not downloaded again.
func (in *interpreter) Install(ctx context.Context, name string) error {
	if in.lang.pypi == nil {
		return errors.New("no package index configured")
	}
	if dir := in.packagesDir(); dir != "" && installed(dir, name) {
		return nil
	}
	got, err := in.lang.pypi.Install(ctx, distribution(name))
	if err != nil {
		return err
	}
	in.lang.log.Info("wheel installed", zap.String("package", got.Name), zap.String("version", got.Version))
	return nil
}

func (in *interpreter) Close() error {
	ctx := context.Background()
	var errs []error
	if err := in.rt.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if in.cache != nil {
		if err := in.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func installed(dir, module string) bool {
	for _, path := range []string{filepath.Join(dir, module), filepath.Join(dir, module+".py")} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
