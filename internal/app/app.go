// Package app wires storage, metadata, caches, the thumbnail queue and the
// HTTP servers into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/api"
	"github.com/ClippyCDN/clippy/internal/cache"
	"github.com/ClippyCDN/clippy/internal/config"
	"github.com/ClippyCDN/clippy/internal/files"
	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/metadata/postgres"
	"github.com/ClippyCDN/clippy/internal/metrics"
	"github.com/ClippyCDN/clippy/internal/queue"
	"github.com/ClippyCDN/clippy/internal/storage"
	"github.com/ClippyCDN/clippy/internal/thumbnail"
)

const connectionMetricsInterval = 15 * time.Second

// MetadataStore is the file metadata the process depends on.
type MetadataStore interface {
	thumbnail.Store
	api.FileStore
	UpdateConnectionMetrics()
	Close() error
}

// App owns every long-running component.
type App struct {
	cfg     *config.Config
	store   MetadataStore
	objects *storage.Storage

	fileCache *cache.Cache[*files.File]
	thumbs    *queue.Queue[files.File]
	server    *api.Server

	httpServer    *http.Server
	metricsServer *http.Server
	listener      net.Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to the database, runs migrations, opens the storage backend
// and builds the app.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url is required")
	}

	logging.Info("connecting to PostgreSQL...")
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	objects, err := storage.New(ctx, cfg.Storage())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	return Assemble(cfg, store, objects), nil
}

// Assemble builds an app from already opened dependencies.
func Assemble(cfg *config.Config, store MetadataStore, objects *storage.Storage) *App {
	a := &App{
		cfg:     cfg,
		store:   store,
		objects: objects,
	}

	dbg := cfg.CacheDebug
	a.fileCache = cache.New[*files.File](cache.Options{
		Name:          "files",
		TTL:           cfg.CacheTTL,
		CheckInterval: cfg.CacheCheckInterval,
		Live:          cfg.IsProduction(),
		Debug:         cache.DebugOptions{Added: dbg, Removed: dbg, Fetched: dbg, Expired: dbg, Missed: dbg},
	})

	deps := api.Deps{
		Files:     store,
		Objects:   objects,
		FileCache: a.fileCache,
		Caches:    []api.CacheStats{a.fileCache},
	}

	if cfg.ThumbnailEnabled {
		worker := thumbnail.NewWorker(store, objects, thumbnail.NewMediaCodec(cfg.ThumbnailFFmpegPath))
		a.thumbs = thumbnail.NewQueue(worker, queue.Options{
			PollInterval:   cfg.ThumbnailPollInterval,
			ReloadInterval: cfg.ThumbnailReloadInterval,
			Concurrency:    cfg.ThumbnailConcurrency,
			ProcessTimeout: cfg.ThumbnailTimeout,
		})
		deps.Queues = []api.QueueStats{a.thumbs}
	}

	a.server = api.NewServer(deps)
	return a
}

// Handler returns the API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Addr returns the API listen address once Start has returned.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Start loads pending work, starts the queue and begins serving.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.thumbs != nil {
		a.thumbs.Reload(ctx)
		if err := a.thumbs.Start(ctx); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.ListenAddr, err)
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logging.Info("api server listening", zap.String("addr", ln.Addr().String()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("api server error", zap.Error(err))
		}
	}()

	if a.cfg.MetricsAddr != "" {
		a.metricsServer = &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			logging.Info("metrics server listening", zap.String("addr", a.cfg.MetricsAddr))
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(connectionMetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.store.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("clippy started",
		zap.String("storage", a.objects.Type()),
		zap.Bool("thumbnails", a.thumbs != nil),
		zap.Bool("live_cache", a.fileCache.Live()))
	return nil
}

// Stop shuts the servers down, drains the queue and releases every resource.
// Errors are collected so that one failing component does not leak the rest.
func (a *App) Stop(ctx context.Context) error {
	var errs []error

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown api server: %w", err))
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	if a.thumbs != nil {
		if err := a.thumbs.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.fileCache.Close()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close metadata store: %w", err))
	}
	if err := a.objects.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	logging.Info("clippy stopped")
	return errors.Join(errs...)
}
