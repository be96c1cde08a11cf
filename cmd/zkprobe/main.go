// zkprobe is a long-running health probe: it holds one zk.Session open
// against an ensemble and exposes its connection state over HTTP, for
// use as a Kubernetes readiness/liveness check or a Prometheus scrape
// target. Unlike zkctl it never exits on its own.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lbrennan-zk/zkcore/internal/zk"
	zkmetrics "github.com/lbrennan-zk/zkcore/internal/metrics"
)

func main() {
	hosts := flag.String("hosts", "127.0.0.1:2181", "comma-separated ensemble host list")
	timeout := flag.Duration("session-timeout", 10*time.Second, "requested session timeout")
	addr := flag.String("addr", ":9101", "address to serve /healthz and /metrics on")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(
		slog.String("component", "zkprobe"),
		slog.String("run_id", uuid.NewString()),
	)

	if err := run(*hosts, *timeout, *addr, logger); err != nil {
		logger.Error("exiting", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(hostsFlag string, timeout time.Duration, addr string, logger *slog.Logger) error {
	hosts := strings.Split(hostsFlag, ",")
	for i, h := range hosts {
		hosts[i] = strings.TrimSpace(h)
	}

	reg := prometheus.NewRegistry()
	collector := zkmetrics.NewCollector(reg)

	sess, err := zk.NewSession(hosts, nil, timeout, nil,
		zk.WithLogger(logger), zk.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(sess))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait() //nolint:wrapcheck // errgroup errors already carry context from the goroutines above
}

// healthzHandler reports 200 while the session holds StateConnected and
// 503 otherwise, so an orchestrator can gate traffic on real ensemble
// reachability rather than process liveness alone.
func healthzHandler(sess *zk.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := sess.State()
		if state != zk.StateConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "state: %s\n", state)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "state: %s\n", state)
	}
}
