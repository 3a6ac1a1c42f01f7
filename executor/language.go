// Package executor provides a language-agnostic execution host.
package executor

import (
	"context"
	"io"
)

// Stdio are the streams an interpreter writes script output to.
type Stdio struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Language defines the interface for an interpreter runtime.
// Implement this interface to add support for new languages (JavaScript, Python, etc.)
type Language interface {
	// Name returns a unique identifier for this language (e.g., "python", "javascript").
	Name() string

	// New constructs an interpreter whose output streams are stdio.
	// ctx bounds the lifetime of the interpreter, not a single execution.
	New(ctx context.Context, stdio Stdio) (Interpreter, error)
}

// Interpreter is a constructed interpreter instance. The host calls it from a
// single goroutine; implementations need no locking of their own.
type Interpreter interface {
	// Exec runs code. Output is written to the streams given at construction
	// as it is produced. If the code produces a final expression value, it is
	// returned with ok set.
	Exec(ctx context.Context, code string) (value string, ok bool, err error)

	// Imports returns the installable packages code refers to, in order of
	// first appearance. Best effort: false negatives are fine.
	Imports(code string) []string

	// Install makes package name available to subsequent executions.
	Install(ctx context.Context, name string) error

	// Close releases the interpreter.
	Close() error
}
