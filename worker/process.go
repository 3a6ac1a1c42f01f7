package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/protocol"
	"go.uber.org/zap"
)

type process struct {
	*outlet
	mail       *mailbox
	cancel     context.CancelFunc
	stdin      io.Closer
	terminated atomic.Bool
}

// Exec returns a Spawner that starts path with args as a child process
// serving a host over stdio (see ServeStdio). The child's stderr is logged.
func Exec(path string, args []string, log *zap.Logger) Spawner {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) (Worker, error) {
		ctx, cancel := context.WithCancel(ctx)
		cmd := exec.CommandContext(ctx, path, args...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			cancel()
			return nil, err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			cancel()
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("start host process: %w", err)
		}

		w := &process{
			outlet: newOutlet(),
			mail:   newMailbox(),
			cancel: cancel,
			stdin:  stdin,
		}
		log := log.With(zap.Int("pid", cmd.Process.Pid))
		log.Debug("host process started")

		enc := protocol.NewEncoder(stdin)
		go w.mail.pump(ctx, func(req protocol.Request) error {
			return enc.Encode(req)
		})

		var (
			wg       sync.WaitGroup
			lastLine atomic.Value
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			dec := protocol.NewDecoder(stdout)
			for {
				ev, err := dec.Event()
				if errors.Is(err, protocol.ErrInvalidMessage) {
					log.Warn("dropping malformed event", zap.Error(err))
					continue
				}
				if err != nil {
					if !errors.Is(err, io.EOF) && !w.terminated.Load() {
						w.fault(fmt.Errorf("read host events: %w", err))
					}
					io.Copy(io.Discard, stdout)
					return
				}
				w.emit(ev)
			}
		}()
		go func() {
			defer wg.Done()
			sc := bufio.NewScanner(stderr)
			for sc.Scan() {
				lastLine.Store(sc.Text())
				log.Info("host", zap.String("stderr", sc.Text()))
			}
		}()

		go func() {
			defer close(w.events)
			wg.Wait()
			err := cmd.Wait()
			log.Debug("host process exited", zap.Error(err))
			if w.terminated.Load() {
				return
			}

			reason, _ := lastLine.Load().(string)
			var exit *exec.ExitError
			switch {
			case errors.As(err, &exit) && exit.ExitCode() == ExitStartupFailed:
				w.fault(&StartupError{Reason: reason})
			case err != nil:
				w.fault(fmt.Errorf("host process exited: %w", err))
			default:
				w.fault(errors.New("host process exited unexpectedly"))
			}
		}()

		return w, nil
	}
}

func (w *process) Post(req protocol.Request) error {
	return w.mail.put(req)
}

func (w *process) Terminate() error {
	if w.terminated.Swap(true) {
		return nil
	}
	w.mail.close()
	w.stop()
	w.stdin.Close()
	w.cancel()
	return nil
}

// ServeStdio serves host over a line-delimited JSON stream: requests are read
// from r and events written to w. It returns when r is exhausted or ctx is
// done. Startup failures are returned without writing anything.
func ServeStdio(ctx context.Context, host *executor.Host, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := protocol.NewEncoder(w)
	requests := make(chan protocol.Request)

	readErr := make(chan error, 1)
	go func() {
		defer close(requests)
		dec := protocol.NewDecoder(r)
		for {
			req, err := dec.Request()
			if errors.Is(err, protocol.ErrInvalidMessage) {
				continue
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := host.Serve(ctx, requests, func(ev protocol.Event) {
		if err := enc.Encode(ev); err != nil {
			cancel()
		}
	})
	if err != nil {
		return err
	}
	select {
	case err := <-readErr:
		return fmt.Errorf("read requests: %w", err)
	default:
		return nil
	}
}
