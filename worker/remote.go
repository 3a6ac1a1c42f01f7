package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"unicode/utf8"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/protocol"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// maxReasonLen is the longest close reason a control frame can carry.
const maxReasonLen = 123

type remote struct {
	*outlet
	mail       *mailbox
	conn       *websocket.Conn
	cancel     context.CancelFunc
	terminated atomic.Bool
}

// Dial returns a Spawner that connects to a host served by Handler at url.
func Dial(url string, log *zap.Logger) Spawner {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) (Worker, error) {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		conn.SetReadLimit(protocol.MaxLineSize)

		ctx, cancel := context.WithCancel(context.Background())
		w := &remote{
			outlet: newOutlet(),
			mail:   newMailbox(),
			conn:   conn,
			cancel: cancel,
		}

		go w.mail.pump(ctx, func(req protocol.Request) error {
			data, err := json.Marshal(req)
			if err != nil {
				return err
			}
			return conn.Write(ctx, websocket.MessageText, data)
		})
		go w.read(ctx, log.With(zap.String("url", url)))
		return w, nil
	}
}

func (w *remote) read(ctx context.Context, log *zap.Logger) {
	defer close(w.events)
	for {
		_, data, err := w.conn.Read(ctx)
		if err != nil {
			if w.terminated.Load() {
				return
			}
			switch status := websocket.CloseStatus(err); status {
			case StatusStartupFailed:
				var ce websocket.CloseError
				errors.As(err, &ce)
				w.fault(&StartupError{Reason: ce.Reason})
			case websocket.StatusNormalClosure:
				w.fault(errors.New("host closed the connection"))
			default:
				w.fault(fmt.Errorf("host connection lost: %w", err))
			}
			return
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			log.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		w.emit(ev)
	}
}

func (w *remote) Post(req protocol.Request) error {
	return w.mail.put(req)
}

func (w *remote) Terminate() error {
	if w.terminated.Swap(true) {
		return nil
	}
	w.mail.close()
	w.stop()
	w.cancel()
	return w.conn.Close(websocket.StatusNormalClosure, "terminated")
}

// Handler serves one fresh host per WebSocket connection. newHost is called
// for every accepted connection.
func Handler(newHost func() *executor.Host, origins []string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
			OriginPatterns: origins,
		})
		if err != nil {
			log.Warn("websocket accept failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(protocol.MaxLineSize)

		log := log.With(zap.String("remote", r.RemoteAddr))
		log.Info("worker connection opened")
		err = ServeConn(r.Context(), newHost(), conn)
		log.Info("worker connection closed", zap.Error(err))
	})
}

// ServeConn serves host over conn until the peer disconnects. The connection
// is closed on return; a startup failure closes it with StatusStartupFailed.
func ServeConn(ctx context.Context, host *executor.Host, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan protocol.Request)
	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			req, err := protocol.DecodeRequest(data)
			if err != nil {
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	err := host.Serve(ctx, requests, func(ev protocol.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			cancel()
		}
	})

	if errors.Is(err, executor.ErrStartup) {
		conn.Close(StatusStartupFailed, closeReason(err.Error()))
		return err
	}
	conn.Close(websocket.StatusNormalClosure, "")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// closeReason cuts reason to fit a close frame without splitting a rune.
func closeReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	cut := maxReasonLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
