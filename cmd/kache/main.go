// Spins up the kache server, compatible w/ the Redis protocol.

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
	"syscall"

	"github.com/nobletooth/kache/pkg/config"
	"github.com/nobletooth/kache/pkg/port"
	"github.com/nobletooth/kache/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var (
	printVersion   = flag.Bool("print_version", false, "Print the version and exit.")
	metricsAddress = flag.String("metrics_address", "", "The ip:port serving Prometheus metrics; empty disables it.")
)

// serveMetrics exposes the Prometheus registry until `ctx` is cancelled.
func serveMetrics(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: address, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	slog.Info("Serving metrics.", "address", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server stopped: %w", err)
	}
	return nil
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Kache build info.", utils.BuildInfo()...)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := port.NewKacheStorage()
	if err != nil {
		slog.Error("Failed to open kache storage.", "err", err)
		os.Exit(1)
	}

	// Either server failing takes the other one down with it.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return port.RunRedisServer(groupCtx, store) })
	if *metricsAddress != "" {
		group.Go(func() error { return serveMetrics(groupCtx, *metricsAddress) })
	}
	if err := group.Wait(); err != nil {
		slog.Error("Kache server stopped.", "err", err)
		os.Exit(1)
	}
	slog.Info("Kache server stopped gracefully.")
}
