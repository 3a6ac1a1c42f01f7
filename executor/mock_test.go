package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// mockLanguage implements Language for testing host logic without a real
// interpreter. Scripts are line-oriented:
//
//	print X    write X and a newline to stdout
//	write X    write X to stdout without a newline
//	warn X     write X and a newline to stderr
//	value X    finish with final expression value X
//	fail X     fail with error X
//	import X   declare an import of package X
//	panic      panic
//	block      wait for cancellation
type mockLanguage struct {
	startErr error

	mu       sync.Mutex
	installs []string
	closed   bool
}

func newMockLanguage() *mockLanguage {
	return &mockLanguage{}
}

func (m *mockLanguage) Name() string {
	return "mock"
}

func (m *mockLanguage) New(ctx context.Context, stdio Stdio) (Interpreter, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &mockInterpreter{lang: m, stdio: stdio}, nil
}

func (m *mockLanguage) Installs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.installs...)
}

type mockInterpreter struct {
	lang  *mockLanguage
	stdio Stdio
}

func (i *mockInterpreter) Exec(ctx context.Context, code string) (string, bool, error) {
	var (
		value    string
		hasValue bool
	)
	for _, line := range strings.Split(code, "\n") {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch cmd {
		case "print":
			fmt.Fprintln(i.stdio.Stdout, arg)
		case "write":
			fmt.Fprint(i.stdio.Stdout, arg)
		case "warn":
			fmt.Fprintln(i.stdio.Stderr, arg)
		case "value":
			value, hasValue = arg, true
		case "fail":
			return "", false, errors.New(arg)
		case "panic":
			panic("mock panic")
		case "block":
			<-ctx.Done()
			return "", false, ctx.Err()
		}
	}
	return value, hasValue, nil
}

func (i *mockInterpreter) Imports(code string) []string {
	var names []string
	for _, line := range strings.Split(code, "\n") {
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "import "); ok {
			names = append(names, name)
		}
	}
	return names
}

func (i *mockInterpreter) Install(ctx context.Context, name string) error {
	if strings.HasPrefix(name, "bad") {
		return fmt.Errorf("no such package %q", name)
	}
	i.lang.mu.Lock()
	i.lang.installs = append(i.lang.installs, name)
	i.lang.mu.Unlock()
	return nil
}

func (i *mockInterpreter) Close() error {
	i.lang.mu.Lock()
	i.lang.closed = true
	i.lang.mu.Unlock()
	return nil
}
