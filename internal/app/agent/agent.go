package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"possync/internal/app/agent/api"
	mwlogger "possync/internal/app/agent/api/middleware/logger"
	"possync/internal/app/agent/bus"
	"possync/internal/app/agent/config"
	"possync/internal/app/agent/gateway"
	"possync/internal/app/agent/trigger"
	"possync/internal/app/agent/upstream"
	"possync/internal/domain/mirror"
	"possync/internal/domain/queue"
	"possync/internal/domain/syncer"
	"possync/internal/infrastructure/migration"
	"possync/internal/infrastructure/storage/sqlite"
)

// App assembles the offline agent: local mirror, mutation queue, caching
// gateway, foreground bus and the sync orchestrator behind one process.
type App struct {
	cfg *config.Config
	log *slog.Logger

	storage  *sqlite.Storage
	Mirror   *mirror.Service
	Queue    *queue.Service
	Upstream *upstream.Client
	Syncer   *syncer.Service
	Hub      *bus.Hub
	Gateway  *gateway.Gateway
	Monitor  *trigger.ProbeMonitor

	registrar *trigger.TagRegistrar
	trigger   *trigger.Trigger
	mux       *chi.Mux
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := sqlite.New(cfg.DataPath, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	// Версионированные миграции; если каталог миграций недоступен,
	// поднимаем схему напрямую.
	mg := migration.NewMigration(cfg, migration.DefaultEngine)
	if err := mg.Up(); err != nil {
		log.Warn("миграции не применились, используем встроенную схему", "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := storage.Bootstrap(ctx); err != nil {
			storage.Close()
			return nil, fmt.Errorf("ошибка инициализации схемы: %w", err)
		}
	}

	up := upstream.NewClient(cfg.UpstreamURL, log)

	mirrorRepo := sqlite.NewMirrorRepository(storage, log)
	metaRepo := sqlite.NewMetaRepository(storage, log)
	mirrorSvc := mirror.NewService(mirrorRepo, metaRepo, log)

	queueRepo := sqlite.NewQueueRepository(storage, log)
	queueSvc := queue.NewService(queueRepo, up, log)

	hub := bus.NewHub(log)

	cacheRepo := sqlite.NewCacheRepository(storage, log)
	gw := gateway.New(up, cacheRepo, queueSvc, hub,
		log, gateway.DefaultConfig(cfg.CacheVersion, cfg.OfflinePagePath))
	gw.Mirror = mirrorSvc
	hub.Assets = gw.Assets
	hub.OnCacheURLs = gw.CacheURLs
	hub.OnSkipWaiting = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Activate(ctx); err != nil {
			log.Warn("активация по SKIP_WAITING не удалась", "error", err)
		}
	}

	conflictRepo := sqlite.NewConflictRepository(storage, log)
	syncSvc := syncer.NewService(mirrorSvc, queueSvc, up, conflictRepo, hub, log, syncer.DefaultConfig())

	monitor := trigger.NewProbeMonitor(up.HealthCheck, log)
	registrar := trigger.NewTagRegistrar(log)
	trig := trigger.New(syncSvc, monitor, queueSvc, hub, registrar, log,
		trigger.DefaultConfig(time.Duration(cfg.SyncInterval)*time.Minute))

	app := &App{
		cfg:       cfg,
		log:       log,
		storage:   storage,
		Mirror:    mirrorSvc,
		Queue:     queueSvc,
		Upstream:  up,
		Syncer:    syncSvc,
		Hub:       hub,
		Gateway:   gw,
		Monitor:   monitor,
		registrar: registrar,
		trigger:   trig,
	}
	app.mux = app.router()
	return app, nil
}

// router mounts the admin API, the foreground bus and the interception
// gateway on one mux. Registration order matters: the catch-all gateway
// mount goes last.
func (a *App) router() *chi.Mux {
	mux := chi.NewMux()

	humaConfig := huma.DefaultConfig("POS Sync Agent API", "1.0.0")
	adminAPI := humachi.New(mux, humaConfig)

	mw := huma.Middlewares{mwlogger.New(a.log).Middleware()}
	handler := api.NewHandler(a.Syncer, a.Queue, a.Mirror, a.Monitor, a.log, mw)
	handler.SetupRoutes(adminAPI)

	mux.Handle("/ws", a.Hub)
	mux.Mount("/", a.Gateway.Router())
	return mux
}

// Handler exposes the assembled mux, mostly for tests.
func (a *App) Handler() http.Handler {
	return a.mux
}

// Run serves until the context is canceled: HTTP on the configured address,
// precache install in the background, the sync trigger alongside.
func (a *App) Run(ctx context.Context) error {
	go func() {
		installCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		report := a.Gateway.Install(installCtx)
		a.log.Info("precache install finished",
			"pages", report.PagesCached,
			"total", report.TotalPages,
			"api", report.APICached,
			"ready", report.Ready,
		)
		if err := a.Gateway.Activate(installCtx); err != nil {
			a.log.Warn("старые поколения кэша не удалены", "error", err)
		}
	}()

	go a.trigger.Run(ctx)

	server := &http.Server{
		Addr:         a.cfg.ListenAddress,
		Handler:      a.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming websocket lives on this server
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("agent listening", "address", a.cfg.ListenAddress, "upstream", a.cfg.UpstreamURL)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("graceful shutdown failed", "error", err)
		}
		return a.Close()
	case err := <-errCh:
		a.Close()
		return err
	}
}

// Close releases the storage.
func (a *App) Close() error {
	return a.storage.Close()
}
