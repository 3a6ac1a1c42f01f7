package executor

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/gorupad/protocol"
)

type hostHarness struct {
	host     *Host
	requests chan protocol.Request
	events   chan protocol.Event
	errCh    chan error
	cancel   context.CancelFunc
}

func startHost(t *testing.T, lang Language, opts ...HostOption) *hostHarness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := &hostHarness{
		host:     NewHost(lang, opts...),
		requests: make(chan protocol.Request, 16),
		events:   make(chan protocol.Event, 256),
		errCh:    make(chan error, 1),
		cancel:   cancel,
	}
	go func() {
		h.errCh <- h.host.Serve(ctx, h.requests, func(ev protocol.Event) {
			h.events <- ev
		})
	}()
	t.Cleanup(cancel)
	return h
}

func (h *hostHarness) next(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return protocol.Event{}
	}
}

func (h *hostHarness) ready(t *testing.T) {
	t.Helper()
	if ev := h.next(t); ev.Type != protocol.EventReady {
		t.Fatalf("first event = %+v, want ready", ev)
	}
}

// until collects events up to and including the terminal event for id.
func (h *hostHarness) until(t *testing.T, id int64) []protocol.Event {
	t.Helper()
	var got []protocol.Event
	for {
		ev := h.next(t)
		got = append(got, ev)
		if ev.Terminal() && ev.ID == id {
			return got
		}
	}
}

func (h *hostHarness) run(id int64, code string) {
	h.requests <- protocol.Request{ID: id, Type: protocol.RequestRun, Code: code}
}

func (h *hostHarness) install(id int64, code string, packages ...string) {
	h.requests <- protocol.Request{ID: id, Type: protocol.RequestInstall, Code: code, Packages: packages}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestHostEmitsReadyOnce(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "print hi")
	for _, ev := range h.until(t, 1) {
		if ev.Type == protocol.EventReady {
			t.Error("ready emitted more than once")
		}
	}
}

func TestHostStartupFailure(t *testing.T) {
	lang := newMockLanguage()
	lang.startErr = errors.New("wasm missing")
	h := startHost(t, lang)

	select {
	case err := <-h.errCh:
		if !errors.Is(err, ErrStartup) {
			t.Errorf("expected ErrStartup, got %v", err)
		}
		if !strings.Contains(err.Error(), "wasm missing") {
			t.Errorf("error should carry the cause, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	select {
	case ev := <-h.events:
		t.Errorf("no event expected after startup failure, got %+v", ev)
	default:
	}
}

func TestHostStopsWhenRequestsClosed(t *testing.T) {
	lang := newMockLanguage()
	h := startHost(t, lang)
	h.ready(t)

	close(h.requests)
	select {
	case err := <-h.errCh:
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	lang.mu.Lock()
	defer lang.mu.Unlock()
	if !lang.closed {
		t.Error("interpreter was not closed")
	}
}

// =============================================================================
// RUN
// =============================================================================

func TestHostRunStreamsOutputThenDone(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "print 2")
	got := h.until(t, 1)

	want := []protocol.Event{protocol.Stdout("2"), protocol.Done(1)}
	if !slices.Equal(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestHostRunFinalValue(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "print side effect\nvalue 42")
	got := h.until(t, 1)

	want := []protocol.Event{protocol.Stdout("side effect"), protocol.Stdout("42"), protocol.Done(1)}
	if !slices.Equal(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestHostRunFaultKeepsPartialOutputAndHostUsable(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "print before\nfail ValueError: x\nprint after")
	got := h.until(t, 1)

	if len(got) != 2 || got[0] != protocol.Stdout("before") {
		t.Fatalf("events = %+v", got)
	}
	last := got[len(got)-1]
	if last.Type != protocol.EventError || !strings.Contains(last.Text, "ValueError") {
		t.Errorf("terminal = %+v, want error containing ValueError", last)
	}

	h.run(2, "print still alive")
	got = h.until(t, 2)
	if got[len(got)-1] != protocol.Done(2) {
		t.Errorf("host unusable after fault: %+v", got)
	}
}

func TestHostRunInterleavesStreamsInProgramOrder(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "print a\nwarn b\nwrite c\nwarn d\nwrite e")
	got := h.until(t, 1)

	want := []protocol.Event{
		protocol.Stdout("a"),
		protocol.Stderr("b"),
		protocol.Stdout("c"),
		protocol.Stderr("d"),
		protocol.Stdout("e"),
		protocol.Done(1),
	}
	if !slices.Equal(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestHostRecoversInterpreterPanic(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "panic")
	got := h.until(t, 1)
	last := got[len(got)-1]
	if last.Type != protocol.EventError || !strings.Contains(last.Text, "panic") {
		t.Errorf("terminal = %+v", last)
	}
}

func TestHostRunTimeout(t *testing.T) {
	h := startHost(t, newMockLanguage(), WithRunTimeout(50*time.Millisecond))
	h.ready(t)

	h.run(1, "block")
	got := h.until(t, 1)
	last := got[len(got)-1]
	if last.Type != protocol.EventError || !strings.Contains(last.Text, "timeout") {
		t.Errorf("terminal = %+v, want timeout error", last)
	}
}

func TestHostSerializesRequests(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "print first-a\nprint first-b")
	h.run(2, "print second")

	got := append(h.until(t, 1), h.until(t, 2)...)
	want := []protocol.Event{
		protocol.Stdout("first-a"),
		protocol.Stdout("first-b"),
		protocol.Done(1),
		protocol.Stdout("second"),
		protocol.Done(2),
	}
	if !slices.Equal(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestHostRejectsInvalidRequest(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.requests <- protocol.Request{ID: 5, Type: "eval"}
	got := h.until(t, 5)
	if got[0].Type != protocol.EventError {
		t.Errorf("expected error event, got %+v", got[0])
	}
}

// =============================================================================
// PACKAGES
// =============================================================================

func TestHostInstallIsIdempotent(t *testing.T) {
	lang := newMockLanguage()
	h := startHost(t, lang)
	h.ready(t)

	h.install(1, "", "foo")
	first := h.until(t, 1)
	want := []protocol.Event{
		protocol.Stdout("Installing packages: foo..."),
		protocol.Stdout("Packages installed: foo."),
		protocol.InstallDone(1),
	}
	if !slices.Equal(first, want) {
		t.Errorf("first install events = %+v", first)
	}

	h.install(2, "", "foo")
	second := h.until(t, 2)
	if !slices.Equal(second, []protocol.Event{protocol.InstallDone(2)}) {
		t.Errorf("second install events = %+v", second)
	}

	if got := lang.Installs(); !slices.Equal(got, []string{"foo"}) {
		t.Errorf("installs = %v, want [foo]", got)
	}
	if got := h.host.Loaded(); !slices.Equal(got, []string{"foo"}) {
		t.Errorf("Loaded() = %v", got)
	}
}

func TestHostInstallFromImportsAndExplicitList(t *testing.T) {
	lang := newMockLanguage()
	h := startHost(t, lang)
	h.ready(t)

	h.install(1, "import alpha\nimport beta", "beta", "gamma")
	h.until(t, 1)

	if got := lang.Installs(); !slices.Equal(got, []string{"alpha", "beta", "gamma"}) {
		t.Errorf("installs = %v", got)
	}
}

func TestHostInstallFailureRetainsProgress(t *testing.T) {
	lang := newMockLanguage()
	h := startHost(t, lang)
	h.ready(t)

	h.install(1, "", "one", "bad-two", "three")
	got := h.until(t, 1)
	last := got[len(got)-1]
	if last.Type != protocol.EventError || !strings.Contains(last.Text, "bad-two") {
		t.Fatalf("terminal = %+v", last)
	}

	if loaded := h.host.Loaded(); !slices.Equal(loaded, []string{"one"}) {
		t.Errorf("Loaded() = %v, want [one]", loaded)
	}

	h.install(2, "", "one", "three")
	h.until(t, 2)
	if got := lang.Installs(); !slices.Equal(got, []string{"one", "three"}) {
		t.Errorf("installs = %v", got)
	}
}

func TestHostRunAutoInstallsImports(t *testing.T) {
	lang := newMockLanguage()
	h := startHost(t, lang)
	h.ready(t)

	h.run(1, "import numpy\nprint ok")
	got := h.until(t, 1)
	want := []protocol.Event{
		protocol.Stdout("Installing packages: numpy..."),
		protocol.Stdout("Packages installed: numpy."),
		protocol.Stdout("ok"),
		protocol.Done(1),
	}
	if !slices.Equal(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestHostRunFailsWhenImportCannotInstall(t *testing.T) {
	h := startHost(t, newMockLanguage())
	h.ready(t)

	h.run(1, "import bad-pkg\nprint never")
	got := h.until(t, 1)
	for _, ev := range got {
		if ev == protocol.Stdout("never") {
			t.Error("code ran despite failed install")
		}
	}
	if last := got[len(got)-1]; last.Type != protocol.EventError {
		t.Errorf("terminal = %+v", last)
	}
}

// =============================================================================
// OBSERVER
// =============================================================================

type recordingObserver struct {
	started  []protocol.RequestType
	failed   int
	packages []string
}

func (o *recordingObserver) RequestStarted(kind protocol.RequestType) {
	o.started = append(o.started, kind)
}

func (o *recordingObserver) RequestFinished(kind protocol.RequestType, d time.Duration, err error) {
	if err != nil {
		o.failed++
	}
}

func (o *recordingObserver) PackageInstalled(name string) {
	o.packages = append(o.packages, name)
}

func TestHostReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	h := startHost(t, newMockLanguage(), WithObserver(obs))
	h.ready(t)

	h.install(1, "", "foo")
	h.until(t, 1)
	h.run(2, "fail boom")
	h.until(t, 2)

	if !slices.Equal(obs.started, []protocol.RequestType{protocol.RequestInstall, protocol.RequestRun}) {
		t.Errorf("started = %v", obs.started)
	}
	if obs.failed != 1 {
		t.Errorf("failed = %d, want 1", obs.failed)
	}
	if !slices.Equal(obs.packages, []string{"foo"}) {
		t.Errorf("packages = %v", obs.packages)
	}
}
