package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Handler serves /metrics from the configured gatherer (the default
// registry when none is set).
func (d *Daemon) Handler() http.Handler {
	gatherer := d.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func (d *Daemon) serveMetrics(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.opts.MetricsAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}()

	d.logger.Info("serving metrics", slog.String("addr", d.opts.MetricsAddr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("daemon: metrics server: %w", err)
	}

	return nil
}
