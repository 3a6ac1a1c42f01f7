package python

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/caffeineduck/gorupad/hostfunc"
)

// Host calls travel over the guest's stderr as \x00GORU:{json}\x00; replies
// are written to its stdin as one JSON line.
const (
	protocolPrefix = "\x00GORU:"
	protocolSuffix = "\x00"
)

// Calls the bridge answers itself instead of the registry.
const (
	fnValue = "__value__"
	fnError = "__error__"
)

type callRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// bridge intercepts the guest's stderr. Ordinary output passes straight
// through to stderr; protocol messages become host calls or results.
type bridge struct {
	ctx    context.Context
	funcs  *hostfunc.Registry
	stdin  *io.PipeWriter
	stderr io.Writer

	mu       sync.Mutex
	buf      bytes.Buffer
	lastLine string
	value    *string
	failure  *string
}

func newBridge(ctx context.Context, funcs *hostfunc.Registry, stdin *io.PipeWriter, stderr io.Writer) *bridge {
	return &bridge{ctx: ctx, funcs: funcs, stdin: stdin, stderr: stderr}
}

func (b *bridge) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(data)

	for {
		content := b.buf.String()
		startIdx := strings.Index(content, protocolPrefix)
		if startIdx == -1 {
			// Hold back a tail that may be the start of a split prefix.
			keep := partialPrefix(content)
			b.passThrough(content[:len(content)-keep])
			b.buf.Reset()
			b.buf.WriteString(content[len(content)-keep:])
			break
		}

		b.passThrough(content[:startIdx])

		body := content[startIdx+len(protocolPrefix):]
		endIdx := strings.Index(body, protocolSuffix)
		if endIdx == -1 {
			b.buf.Reset()
			b.buf.WriteString(content[startIdx:])
			break
		}

		msg := body[:endIdx]
		b.buf.Reset()
		b.buf.WriteString(body[endIdx+len(protocolSuffix):])

		var req callRequest
		if err := json.Unmarshal([]byte(msg), &req); err != nil {
			b.respond(callResponse{Error: "invalid call format"})
			continue
		}
		b.handle(req)
	}

	return len(data), nil
}

func (b *bridge) handle(req callRequest) {
	text, _ := req.Args["text"].(string)
	switch req.Fn {
	case fnValue:
		b.value = &text
	case fnError:
		b.failure = &text
	default:
		b.respond(b.call(req))
	}
}

func (b *bridge) call(req callRequest) callResponse {
	result, err := b.funcs.Call(b.ctx, req.Fn, req.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

func (b *bridge) respond(resp callResponse) {
	data, _ := json.Marshal(resp)
	// The guest is blocked inside this Write until it reads the reply.
	go b.stdin.Write(append(data, '\n'))
}

func (b *bridge) passThrough(s string) {
	if s == "" {
		return
	}
	if line := strings.TrimSpace(s); line != "" {
		lines := strings.Split(line, "\n")
		b.lastLine = strings.TrimSpace(lines[len(lines)-1])
	}
	io.WriteString(b.stderr, s)
}

// flush writes any held-back bytes once the guest has exited.
func (b *bridge) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.passThrough(b.buf.String())
	b.buf.Reset()
}

// result returns the completion value and the reported failure, if any.
func (b *bridge) result() (value *string, failure *string, lastLine string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.failure, b.lastLine
}

func partialPrefix(s string) int {
	for n := min(len(s), len(protocolPrefix)-1); n > 0; n-- {
		if strings.HasSuffix(s, protocolPrefix[:n]) {
			return n
		}
	}
	return 0
}
