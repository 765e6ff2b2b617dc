package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"postkeeper/internal/app"
	"postkeeper/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault("POSTKEEPER_CONFIG", "postkeeper.json"), "path to a JSON config file")
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		glog.Exitf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		glog.Errorf("server failed: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			glog.Errorf("shutdown: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("starting server on %s (remote %s)", cfg.HTTPAddr, cfg.RemoteURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		glog.Infof("shutting down")
		// websocket subscribers are hijacked and not tracked by Shutdown
		a.Feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
