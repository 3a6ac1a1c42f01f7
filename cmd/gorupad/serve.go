package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/internal/config"
	"github.com/caffeineduck/gorupad/internal/metrics"
	"github.com/caffeineduck/gorupad/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve interpreter hosts over WebSocket",
	Long: `Start an HTTP server that runs one fresh interpreter host per WebSocket
connection. Point a client at it with --worker remote --worker-url.

Endpoints:
  GET /ws        Interpreter host (JSON messages, one per frame)
  GET /health    Health check
  GET /metrics   Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8080)")
	serveCmd.Flags().StringSlice("origin", nil, "Allowed browser origin pattern (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(c config.Config, m *metrics.Metrics, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(requestLogger(log))

	hosts := worker.Handler(func() *executor.Host {
		opts := append(hostOptions(c, log), executor.WithObserver(m))
		return executor.NewHost(newLanguage(c, log), opts...)
	}, c.Serve.Origins, log)

	r.Handle("/ws", countConnections(m, hosts))
	r.Handle("/metrics", m.Handler())
	return r
}

// countConnections tracks live hosts. The wrapped handler returns when its
// connection closes.
func countConnections(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HostConnected()
		defer m.HostDisconnected()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           newRouter(cfg, metrics.New(), logger),
		ReadHeaderTimeout: 10 * time.Second,
		// Host connections end with ctx rather than with Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(cmd.ErrOrStderr(), "gorupad serving %s hosts on %s\n", cfg.Lang, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
