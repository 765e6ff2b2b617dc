// Package app assembles the server from a Config: store, remote client,
// repositories, services, change feed and HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"postkeeper/internal/api"
	"postkeeper/internal/config"
	"postkeeper/internal/engine"
	"postkeeper/internal/feed"
	"postkeeper/internal/kv"
	"postkeeper/internal/overlay"
	"postkeeper/internal/remote"
	"postkeeper/internal/repository"
	"postkeeper/internal/service"
)

const (
	commitLogFile = "overlay.log"
	boltFile      = "overlay.db"
)

type App struct {
	Config  config.Config
	Posts   *service.PostService
	Users   *service.UserService
	Feed    *feed.Hub
	handler http.Handler
	store   kv.Store
}

// OpenStore opens the key-value backend named by cfg.Store.
func OpenStore(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return kv.NewMemory(), nil
	case config.StoreLog:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		// the commit log outlives request contexts; Close stops it
		return engine.OpenLogStore(context.Background(), engine.CommitLogCfg{
			Path: filepath.Join(cfg.DataDir, commitLogFile),
		})
	case config.StoreBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return kv.OpenBolt(filepath.Join(cfg.DataDir, boltFile))
	case config.StoreRedis:
		return kv.NewRedis(ctx, cfg.RedisAddr)
	case config.StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres store needs DATABASE_URL")
		}
		return kv.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	cfg.Normalize()

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	glog.Infof("overlay store: %s", cfg.Store)

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.RemoteURL,
		Timeout: cfg.Timeout(),
		Retries: uint64(cfg.RemoteRetries),
	})
	hub := feed.NewHub(cfg.FeedBuffer)
	logs := overlay.NewLogStore(kv.NewNamespace(store, cfg.KeyPrefix))

	posts := service.NewPostService(repository.NewPostRepository(client, logs, repository.Options{
		LocalIDThreshold: cfg.LocalIDThreshold,
		Collation:        cfg.Language(),
		Notifier:         hub,
	}))
	users := service.NewUserService(repository.NewUserRepository(client, cfg.Language()))

	return &App{
		Config: cfg,
		Posts:  posts,
		Users:  users,
		Feed:   hub,
		handler: api.NewServer(api.Deps{
			Posts:  posts,
			Users:  users,
			Events: hub,
		}),
		store: store,
	}, nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Close disconnects feed subscribers and flushes the store.
func (a *App) Close() error {
	a.Feed.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close %s store: %w", a.Config.Store, err)
	}
	return nil
}
