package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"imgshrink/internal/app/services"
	"imgshrink/internal/app/watcher"
	"imgshrink/internal/app/worker"
	"imgshrink/internal/domain/eventbus"
	"imgshrink/internal/domain/eventbus/infrastructure"
	"imgshrink/internal/domain/eventbus/repository"
	"imgshrink/internal/domain/image"
	"imgshrink/internal/domain/store"
	platformconfig "imgshrink/internal/platform/config"
	platformerrors "imgshrink/internal/platform/errors"
	platformlogging "imgshrink/internal/platform/logging"
	platformobservability "imgshrink/internal/platform/observability"
	platformstorage "imgshrink/internal/platform/storage"
	httptransport "imgshrink/internal/transport/http"
	"imgshrink/internal/transport/ws"
	"imgshrink/internal/utils"
)

// Version is stamped at build time.
var Version = "dev"

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	logProvider           *platformlogging.Logger
	logger                *utils.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc

	db         *gorm.DB
	store      store.Store
	bus        *eventbus.Bus
	eventRepo  repository.EventRepository
	workerOpts worker.Options
	handle     worker.Handle

	compressor *services.Compressor
	router     *httptransport.Router
	wsServer   *ws.Server
	watcher    *watcher.Watcher
}

// Run starts the service and blocks until SIGINT/SIGTERM or a fatal error.
func Run(ctx context.Context) error {
	state := &appState{}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	logger := state.logger
	if state.config == nil || logger == nil || state.compressor == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger/shell not initialised",
		)
	}

	logBootstrapGraph(logger, steps)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	// A service failing on its own also ends the wait.
	waitCtx, waitCancel := context.WithCancel(signalCtx)
	defer waitCancel()
	go func() {
		<-groupCtx.Done()
		waitCancel()
	}()

	return waitForShutdown(waitCtx, cancel, logger, group)
}

// close releases everything the init steps acquired, newest first.
func (s *appState) close() {
	if s.wsServer != nil {
		_ = s.wsServer.Stop()
	}
	if s.handle != nil {
		s.handle.Terminate()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.store != nil {
		if err := s.store.Close(context.Background()); err != nil {
			s.logger.WarnTag("Bootstrap", "result store did not close cleanly: %v", err)
		}
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			s.logger.WarnTag("Bootstrap", "database did not close cleanly: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(shutdownCtx); err != nil {
			s.logger.WarnTag("Bootstrap", "observability did not shut down cleanly: %v", err)
		}
		cancel()
	}
	if s.logProvider != nil {
		_ = s.logProvider.Close()
	}
}

func logBootstrapGraph(logger *utils.Logger, steps []initStep) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "init graph overview")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("Bootstrap", "  %s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("Bootstrap", "  %s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Open database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "store:init",
			Title:     "Initialise result store",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   initStoreStep,
		},
		{
			ID:        "pipeline:init-worker",
			Title:     "Start background worker",
			DependsOn: []string{"observability:setup-hooks", "storage:init-database"},
			Kind:      platformerrors.KindPipeline,
			Execute:   initWorkerStep,
		},
		{
			ID:        "shell:init",
			Title:     "Assemble shell and transports",
			DependsOn: []string{"store:init", "pipeline:init-worker"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initShellStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logProvider, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logProvider = logProvider
	state.logger = logProvider.Legacy()
	state.slogger = logProvider.Slog()
	state.logger.InfoTag("Bootstrap", "logging ready [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.logger == nil || state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "observability:setup-hooks", "config/logger not initialised")
	}

	cfg := platformobservability.Config{
		Enabled: state.config.Observability.Enabled || strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

// initDatabaseStep opens the sqlite database backing the event journal and,
// optionally, the result store.
func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(platformstorage.Config{Path: state.config.Database.Path})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to open database", err)
	}
	state.db = db
	state.logger.InfoTag("Storage", "database ready at %s", state.config.Database.Path)
	return nil
}

func initStoreStep(_ context.Context, state *appState) error {
	sc := state.config.Store
	cfg := store.Config{
		Driver: strings.ToLower(strings.TrimSpace(sc.Type)),
		TTL:    sc.TTL,
	}
	switch cfg.Driver {
	case store.DriverRedis:
		cfg.Redis = &store.RedisConfig{
			Addr:     sc.Redis.Addr,
			Username: sc.Redis.Username,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		}
	case store.DriverSQLite:
		cfg.SQLite = &store.SQLiteConfig{Path: state.config.Database.Path}
	}

	st, err := store.New(cfg, store.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "store:init", "failed to create result store", err)
	}
	state.store = st
	driver := cfg.Driver
	if driver == "" {
		driver = store.DriverMemory
	}
	state.logger.InfoTag("Storage", "result store driver: %s", driver)
	return nil
}

func initWorkerStep(_ context.Context, state *appState) error {
	pc := state.config.Pipeline

	state.bus = eventbus.New(pc.EventWorkers)
	if err := eventbus.NewLoggingHandler(state.logger).Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindPipeline, "pipeline:init-worker", "failed to attach log handler", err)
	}

	state.eventRepo = infrastructure.NewEventRepository(state.db)
	if err := infrastructure.NewRecorder(state.eventRepo, state.logger).Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindPipeline, "pipeline:init-worker", "failed to attach event recorder", err)
	}

	processor := image.NewProcessor(image.ProcessorOptions{
		MaxFileSize:      pc.MaxFileSize,
		LargeImagePixels: pc.LargeImagePixels,
		Smoothing:        image.ParseSmoothing(pc.Smoothing),
		Preview:          pc.PreviewOptions(),
		Logger:           state.logger,
	})
	state.workerOpts = worker.Options{
		Processor: processor,
		Bus:       state.bus,
		Logger:    state.logger,
	}
	state.handle = worker.Start(state.workerOpts)
	state.logger.InfoTag("Pipeline", "worker %s started, smoothing %s", state.handle.ID(), image.ParseSmoothing(pc.Smoothing))
	return nil
}

func initShellStep(_ context.Context, state *appState) error {
	cfg := state.config

	compressor, err := services.NewCompressor(services.CompressorConfig{
		Worker: state.handle,
		Store:  state.store,
		Validator: image.NewValidator(image.ValidatorOptions{
			MaxFileSize: cfg.Pipeline.MaxFileSize,
			DeepScan:    cfg.Pipeline.DeepScan,
			Logger:      state.logger,
		}),
		Bus:      state.bus,
		Logger:   state.logger,
		Defaults: cfg.Pipeline.Defaults,
	})
	if err != nil {
		return err
	}
	state.compressor = compressor

	router, err := httptransport.Build(httptransport.Options{
		Debug:          cfg.Server.Debug,
		Logger:         state.logger,
		StaticRoot:     cfg.Server.StaticDir,
		AllowOrigins:   cfg.Server.AllowOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "shell:init", "failed to build router", err)
	}
	state.router = router

	images, err := httptransport.NewImagesHandler(compressor, state.logger)
	if err != nil {
		return err
	}
	images.RegisterRoutes(router)
	httptransport.NewEventsHandler(state.eventRepo, state.logger).RegisterRoutes(router)

	var sessions httptransport.SessionCounter
	if wsCfg := cfg.Transport.WebSocket; wsCfg.Enabled {
		state.wsServer = ws.NewServer(ws.ServerConfig{
			PipelinePath:     wsCfg.PipelinePath,
			EventsPath:       wsCfg.EventsPath,
			HandshakeTimeout: wsCfg.HandshakeTimeout,
			MaxMessageBytes:  wsCfg.MaxMessageBytes,
		}, worker.Factory(state.workerOpts), compressor, state.logger)
		state.wsServer.Mount(router.Engine)
		sessions = state.wsServer
	}
	httptransport.NewHealthHandler(Version, compressor, sessions).RegisterRoutes(router)

	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "not found", nil)
	})

	if cfg.Watch.Enabled {
		w, err := watcher.New(watcher.Config{
			Inbox:        cfg.Watch.Inbox,
			Outbox:       cfg.Watch.Outbox,
			Debounce:     cfg.Watch.Debounce,
			RemoveSource: cfg.Watch.RemoveSource,
		}, compressor, state.bus, state.logger)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindBootstrap, "shell:init", "failed to start inbox watcher", err)
		}
		state.watcher = w
	}
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	logger := state.logger

	g.Go(func() error {
		err := state.compressor.Run(groupCtx)
		if err != nil && groupCtx.Err() == nil {
			logger.ErrorTag("Pipeline", "shell pump stopped: %v", err)
			return err
		}
		return nil
	})

	if state.watcher != nil {
		g.Go(func() error {
			return state.watcher.Run(groupCtx)
		})
	}

	if err := startHTTPServer(state, g, groupCtx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	cfg := state.config.Server
	logger := state.logger

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)),
		Handler:           state.router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			timeout := cfg.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if state.wsServer != nil {
				_ = state.wsServer.Stop()
			}
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server closed")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return err
		}
		return nil
	})
	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("Bootstrap", "shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}
