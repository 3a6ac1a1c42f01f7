package python

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/hostfunc"
)

func TestPreludeContents(t *testing.T) {
	checks := []string{
		"_goru_call",
		"_goru_run",
		"__value__",
		"__error__",
	}
	for _, check := range checks {
		if !strings.Contains(prelude, check) {
			t.Errorf("prelude missing %q", check)
		}
	}
}

func TestParseImports(t *testing.T) {
	code := `
import os, sys
import yaml
import requests as r
from bs4 import BeautifulSoup
from collections import deque
from . import sibling
import attr.validators  # comment: import ignored
# import commented
from dateutil.parser import parse
`
	got := parseImports(code)
	want := []string{"yaml", "requests", "bs4", "attr", "dateutil"}
	if !slices.Equal(got, want) {
		t.Errorf("parseImports() = %v, want %v", got, want)
	}
}

func TestDistribution(t *testing.T) {
	if distribution("yaml") != "PyYAML" {
		t.Errorf("yaml -> %q", distribution("yaml"))
	}
	if distribution("tinylib") != "tinylib" {
		t.Errorf("tinylib -> %q", distribution("tinylib"))
	}
}

func TestNewWithoutWASM(t *testing.T) {
	if _, err := New("").New(context.Background(), executor.Stdio{}); err == nil {
		t.Error("expected error without python.wasm")
	}
	if _, err := New("/does/not/exist.wasm").New(context.Background(), executor.Stdio{}); err == nil {
		t.Error("expected error for missing python.wasm")
	}
}

// =============================================================================
// Bridge
// =============================================================================

func TestBridgePassThrough(t *testing.T) {
	var stderr bytes.Buffer
	_, w := io.Pipe()
	b := newBridge(context.Background(), hostfunc.NewRegistry(), w, &stderr)

	b.Write([]byte("warning: x\n"))
	b.Write([]byte("partial \x00GO"))
	b.Write([]byte("RU:{\"fn\":\"__value__\",\"args\":{\"text\":\"42\"}}\x00tail\n"))
	b.flush()

	if stderr.String() != "warning: x\npartial tail\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
	value, failure, last := b.result()
	if value == nil || *value != "42" {
		t.Errorf("value = %v", value)
	}
	if failure != nil {
		t.Errorf("failure = %v", *failure)
	}
	if last != "tail" {
		t.Errorf("lastLine = %q", last)
	}
}

func TestBridgeHostCall(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["msg"], nil
	})

	r, w := io.Pipe()
	defer r.Close()
	b := newBridge(context.Background(), registry, w, io.Discard)

	b.Write([]byte("\x00GORU:{\"fn\":\"echo\",\"args\":{\"msg\":\"hi\"}}\x00"))

	line, err := readLine(t, r)
	if err != nil {
		t.Fatal(err)
	}
	var resp callResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data != "hi" || resp.Error != "" {
		t.Errorf("response = %+v", resp)
	}

	b.Write([]byte("\x00GORU:{\"fn\":\"nope\",\"args\":{}}\x00"))
	line, err = readLine(t, r)
	if err != nil {
		t.Fatal(err)
	}
	json.Unmarshal(line, &resp)
	if resp.Error != "unknown function: nope" {
		t.Errorf("response = %+v", resp)
	}
}

func TestBridgeFailure(t *testing.T) {
	_, w := io.Pipe()
	b := newBridge(context.Background(), hostfunc.NewRegistry(), w, io.Discard)

	b.Write([]byte("\x00GORU:{\"fn\":\"__error__\",\"args\":{\"text\":\"Traceback...\\nValueError: bad\"}}\x00"))

	_, failure, _ := b.result()
	if failure == nil || !strings.HasSuffix(*failure, "ValueError: bad") {
		t.Errorf("failure = %v", failure)
	}
}

func readLine(t *testing.T, r io.Reader) ([]byte, error) {
	t.Helper()
	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadBytes('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		return res.line, res.err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for response")
		return nil, nil
	}
}

// =============================================================================
// Interpreter (requires GORUPAD_PYTHON_WASM)
// =============================================================================

func newTestInterp(t *testing.T) (executor.Interpreter, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	wasm := os.Getenv("GORUPAD_PYTHON_WASM")
	if wasm == "" {
		t.Skip("GORUPAD_PYTHON_WASM not set")
	}
	var stdout, stderr bytes.Buffer
	kv := hostfunc.NewKV(hostfunc.DefaultKVConfig())
	in, err := New(wasm, WithHostFuncs(hostfunc.NewDefaultRegistry(kv))).
		New(context.Background(), executor.Stdio{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { in.Close() })
	return in, &stdout, &stderr
}

func TestPythonPrint(t *testing.T) {
	in, stdout, _ := newTestInterp(t)

	_, ok, err := in.Exec(context.Background(), `print(1+1)`)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("print returns None, expected no value")
	}
	if stdout.String() != "2\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestPythonFinalValue(t *testing.T) {
	in, _, _ := newTestInterp(t)

	value, ok, err := in.Exec(context.Background(), "x = 20\nx * 2 + 2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || value != "42" {
		t.Errorf("value = %q, %v", value, ok)
	}
}

func TestPythonException(t *testing.T) {
	in, stdout, _ := newTestInterp(t)

	_, _, err := in.Exec(context.Background(), "print('before')\nraise ValueError('bad')")
	if err == nil || !strings.Contains(err.Error(), "ValueError: bad") {
		t.Errorf("expected ValueError, got %v", err)
	}
	if stdout.String() != "before\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestPythonHostCall(t *testing.T) {
	in, stdout, _ := newTestInterp(t)

	_, _, err := in.Exec(context.Background(), "goru.kv.set('a', 1)\nprint(goru.kv.get('a'))")
	if err != nil {
		t.Fatal(err)
	}
	if stdout.String() != "1\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestPythonTimeout(t *testing.T) {
	in, _, _ := newTestInterp(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, _, err := in.Exec(ctx, "while True: pass"); err == nil {
		t.Error("expected timeout")
	}
}
