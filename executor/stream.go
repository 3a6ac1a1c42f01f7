package executor

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/caffeineduck/gorupad/protocol"
)

const (
	streamStdout = iota
	streamStderr
)

// MaxEventText bounds the text of one event. Longer output lines are split
// into several events and longer failure messages are truncated, so every
// encoded event stays well below protocol.MaxLineSize.
const MaxEventText = 1 << 20

// eventStream turns interpreter output into line-framed stdout/stderr events
// and serializes them with every other event the host emits.
//
// A partial line on one stream is flushed before anything else is emitted, so
// events reach the client in the order the script produced them.
type eventStream struct {
	mu      sync.Mutex
	emit    func(protocol.Event)
	partial [2]bytes.Buffer
}

func newEventStream(emit func(protocol.Event)) *eventStream {
	return &eventStream{emit: emit}
}

func (s *eventStream) Stdout() io.Writer { return streamWriter{s: s, kind: streamStdout} }
func (s *eventStream) Stderr() io.Writer { return streamWriter{s: s, kind: streamStderr} }

// Emit flushes pending partial lines and then emits ev.
func (s *eventStream) Emit(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked(streamStdout)
	s.flushLocked(streamStderr)
	if len(ev.Text) > MaxEventText {
		ev.Text = ev.Text[:runeCut(ev.Text, MaxEventText)]
	}
	s.emit(ev)
}

// Print emits text as stdout after pending partial lines.
func (s *eventStream) Print(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked(streamStdout)
	s.flushLocked(streamStderr)
	for len(text) > MaxEventText {
		cut := runeCut(text, MaxEventText)
		s.emit(protocol.Stdout(text[:cut]))
		text = text[cut:]
	}
	s.emit(protocol.Stdout(text))
}

func (s *eventStream) write(kind int, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushLocked(1 - kind)

	buf := &s.partial[kind]
	buf.Write(p)
	for {
		data := buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		switch {
		case i >= 0 && i <= MaxEventText:
			line := string(buf.Next(i + 1))
			s.emit(lineEvent(kind, strings.TrimRight(line, "\r\n")))
		case len(data) > MaxEventText:
			s.emit(lineEvent(kind, string(buf.Next(runeCut(data, MaxEventText)))))
		default:
			return len(p), nil
		}
	}
}

// runeCut returns the largest n' <= n that does not split a UTF-8 sequence,
// or n if the first n bytes hold no rune start.
func runeCut[T string | []byte](text T, n int) int {
	for cut := n; cut > n-utf8.UTFMax && cut > 0; cut-- {
		if utf8.RuneStart(text[cut]) {
			return cut
		}
	}
	return n
}

func (s *eventStream) flushLocked(kind int) {
	buf := &s.partial[kind]
	if buf.Len() == 0 {
		return
	}
	line := buf.String()
	buf.Reset()
	s.emit(lineEvent(kind, line))
}

func lineEvent(kind int, text string) protocol.Event {
	if kind == streamStderr {
		return protocol.Stderr(text)
	}
	return protocol.Stdout(text)
}

type streamWriter struct {
	s    *eventStream
	kind int
}

func (w streamWriter) Write(p []byte) (int, error) {
	return w.s.write(w.kind, p)
}
