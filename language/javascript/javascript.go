// Package javascript provides the JavaScript language adapter for gorupad,
// running scripts on the goja engine.
package javascript

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/hostfunc"
	"github.com/caffeineduck/gorupad/packages"
	"github.com/dop251/goja"
)

//go:embed prelude.js
var preludeSource string

var prelude = goja.MustCompile("prelude.js", preludeSource, false)

const defaultMaxCallStackSize = 1024

// JavaScript implements executor.Language on goja.
type JavaScript struct {
	registry     *packages.Registry
	funcs        *hostfunc.Registry
	maxCallStack int
}

// Option configures a JavaScript language.
type Option func(*JavaScript)

// WithRegistry sets where install requests fetch modules from. Without one,
// every install fails.
func WithRegistry(r *packages.Registry) Option {
	return func(j *JavaScript) {
		j.registry = r
	}
}

// WithHostFuncs exposes funcs to scripts through goru.call.
func WithHostFuncs(funcs *hostfunc.Registry) Option {
	return func(j *JavaScript) {
		if funcs != nil {
			j.funcs = funcs
		}
	}
}

// WithMaxCallStackSize bounds recursion depth.
func WithMaxCallStackSize(n int) Option {
	return func(j *JavaScript) {
		j.maxCallStack = n
	}
}

// New returns a JavaScript language adapter.
func New(opts ...Option) *JavaScript {
	j := &JavaScript{
		funcs:        hostfunc.NewRegistry(),
		maxCallStack: defaultMaxCallStackSize,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Name returns "javascript".
func (j *JavaScript) Name() string {
	return "javascript"
}

// New constructs an interpreter. Each Exec runs in a fresh realm; installed
// modules persist across executions and are evaluated on first require.
func (j *JavaScript) New(ctx context.Context, stdio executor.Stdio) (executor.Interpreter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if stdio.Stdout == nil {
		stdio.Stdout = io.Discard
	}
	if stdio.Stderr == nil {
		stdio.Stderr = io.Discard
	}
	return &interpreter{
		lang:    j,
		stdio:   stdio,
		modules: make(map[string]*goja.Program),
	}, nil
}

type interpreter struct {
	lang    *JavaScript
	stdio   executor.Stdio
	modules map[string]*goja.Program
}

func (in *interpreter) Exec(ctx context.Context, code string) (string, bool, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(in.lang.maxCallStack)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	r := &realm{in: in, vm: vm, ctx: ctx}
	if err := r.setupGlobals(); err != nil {
		return "", false, err
	}
	if _, err := vm.RunProgram(prelude); err != nil {
		return "", false, fmt.Errorf("prelude: %w", err)
	}

	val, err := vm.RunScript("main.js", code)
	if err != nil {
		return "", false, scriptError(ctx, err)
	}
	text, ok := formatValue(val)
	return text, ok, nil
}

// requirePattern finds CommonJS requires. Scripts run as classic scripts, so
// ES import declarations are a syntax error and are not worth installing for.
var requirePattern = regexp.MustCompile(`\brequire\s*\(\s*["']([^"'\s]+)["']\s*\)`)

// nodeBuiltins are never fetched from the registry.
var nodeBuiltins = map[string]bool{
	"assert": true, "buffer": true, "child_process": true, "crypto": true,
	"events": true, "fs": true, "http": true, "https": true, "net": true,
	"os": true, "path": true, "process": true, "stream": true, "url": true,
	"util": true, "zlib": true, "goru": true,
}

func (in *interpreter) Imports(code string) []string {
	var names []string
	for _, m := range requirePattern.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if nodeBuiltins[name] || packages.ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (in *interpreter) Install(ctx context.Context, name string) error {
	if in.lang.registry == nil {
		return errors.New("no package registry configured")
	}
	if _, ok := in.modules[name]; ok {
		return nil
	}
	src, err := in.lang.registry.Fetch(ctx, name)
	if err != nil {
		return err
	}
	prog, err := goja.Compile(name, wrapModule(string(src)), false)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	in.modules[name] = prog
	return nil
}

func (in *interpreter) Close() error {
	in.modules = nil
	return nil
}

func wrapModule(src string) string {
	return "(function (exports, require, module) {\n" + src + "\n})"
}

// realm is the per-execution global environment.
type realm struct {
	in  *interpreter
	vm  *goja.Runtime
	ctx context.Context
}

func (r *realm) setupGlobals() error {
	console := r.vm.NewObject()
	for name, w := range map[string]io.Writer{
		"log":   r.in.stdio.Stdout,
		"info":  r.in.stdio.Stdout,
		"debug": r.in.stdio.Stdout,
		"warn":  r.in.stdio.Stderr,
		"error": r.in.stdio.Stderr,
	} {
		if err := console.Set(name, r.writer(w)); err != nil {
			return err
		}
	}

	for name, v := range map[string]any{
		"console":      console,
		"print":        r.writer(r.in.stdio.Stdout),
		"_goru_call":   r.call,
		"_goru_module": r.module,
	} {
		if err := r.vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *realm) writer(w io.Writer) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = display(arg)
		}
		io.WriteString(w, strings.Join(parts, " ")+"\n")
		return goja.Undefined()
	}
}

// module returns the factory of an installed module.
func (r *realm) module(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	prog, ok := r.in.modules[name]
	if !ok {
		r.throw("Cannot find module '%s'", name)
	}
	factory, err := r.vm.RunProgram(prog)
	if err != nil {
		r.throw("load %s: %v", name, err)
	}
	return factory
}

func (r *realm) call(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	args, _ := call.Argument(1).Export().(map[string]any)

	result, err := r.in.lang.funcs.Call(r.ctx, name, args)
	if err != nil {
		r.throw("%s", err.Error())
	}
	return r.vm.ToValue(result)
}

// throw raises a JavaScript Error from a native function.
func (r *realm) throw(format string, args ...any) {
	obj, err := r.vm.New(r.vm.Get("Error"), r.vm.ToValue(fmt.Sprintf(format, args...)))
	if err != nil {
		panic(r.vm.NewGoError(err))
	}
	panic(obj)
}

func display(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	text, _ := formatValue(v)
	return text
}

// formatValue renders a completion value. Undefined and null have no value.
func formatValue(v goja.Value) (string, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	if obj, ok := v.(*goja.Object); ok {
		switch obj.ClassName() {
		case "Function", "Error":
		default:
			if b, err := obj.MarshalJSON(); err == nil {
				return string(b), true
			}
		}
	}
	return v.String(), true
}

func scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.New("interrupted")
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			return errors.New(v.String())
		}
	}
	return err
}
