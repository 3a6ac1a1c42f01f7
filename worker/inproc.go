package worker

import (
	"context"
	"errors"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/protocol"
)

type local struct {
	*outlet
	mail   *mailbox
	cancel context.CancelFunc
}

// Spawn returns a Spawner that runs a fresh host for lang on a goroutine.
// Every spawn starts with an empty loaded package set.
func Spawn(lang executor.Language, opts ...executor.HostOption) Spawner {
	return func(ctx context.Context) (Worker, error) {
		ctx, cancel := context.WithCancel(ctx)
		w := &local{
			outlet: newOutlet(),
			mail:   newMailbox(),
			cancel: cancel,
		}

		requests := make(chan protocol.Request)
		go w.mail.pump(ctx, func(req protocol.Request) error {
			select {
			case requests <- req:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		go w.run(ctx, executor.NewHost(lang, opts...), requests)
		return w, nil
	}
}

func (w *local) run(ctx context.Context, host *executor.Host, requests <-chan protocol.Request) {
	defer close(w.events)
	defer func() {
		if r := recover(); r != nil {
			w.fault(panicError(r))
		}
	}()

	err := host.Serve(ctx, requests, w.emit)
	switch {
	case errors.Is(err, executor.ErrStartup):
		w.fault(&StartupError{Reason: err.Error()})
	case err != nil && ctx.Err() == nil:
		w.fault(err)
	}
}

func (w *local) Post(req protocol.Request) error {
	return w.mail.put(req)
}

func (w *local) Terminate() error {
	w.mail.close()
	w.stop()
	w.cancel()
	return nil
}
