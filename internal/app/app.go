package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neurovision/internal/auth"
	"neurovision/internal/config"
	"neurovision/internal/logger"
	"neurovision/internal/repository/sqlite"
	"neurovision/internal/route"
	"neurovision/internal/service/ai"
	"neurovision/internal/service/analysis"
	"neurovision/internal/service/pipeline"
	"neurovision/internal/service/publish"
	"neurovision/internal/service/storage"
	"neurovision/internal/service/user"
	"neurovision/internal/service/websocket"
)

type detector interface {
	pipeline.Detector
	Close() error
}

type App struct {
	config       *config.Config
	logger       *logger.Logger
	db           *sqlite.DB
	detector     detector
	ready        func() bool
	hubService   *websocket.HubService
	orchestrator *pipeline.Orchestrator
	handler      http.Handler
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	labels := ai.DefaultLabels()
	if cfg.LabelsPath != "" {
		labels, err = ai.LoadLabels(cfg.LabelsPath)
		if err != nil {
			db.Close()
			log.Close()
			return nil, fmt.Errorf("failed to load labels: %w", err)
		}
	}

	a := &App{config: cfg, logger: log, db: db}

	switch cfg.Detector {
	case "remote":
		remote := ai.NewRemoteDetector(cfg, labels, log)
		a.detector = remote
		a.ready = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return remote.IsHealthy(ctx)
		}
	default:
		dnn := ai.NewDNNDetector(cfg, labels, log)
		a.detector = dnn
		a.ready = dnn.Loaded
	}

	var publisher pipeline.Publisher = publish.Disabled{}
	if imgur, err := publish.NewImgurPublisher(cfg, log); err == nil {
		publisher = imgur
	} else {
		log.Warning("Image publishing disabled (%v); analyses are stored under %s", err, cfg.PublicDir())
	}

	fallback := storage.NewFallbackStore(cfg, log)
	images := sqlite.NewImageRepository(db)
	recognitions := sqlite.NewRecognitionRepository(db)

	a.orchestrator = pipeline.NewOrchestrator(cfg, log, a.detector, analysis.NewAggregator(cfg.ModelVersion),
		publisher, fallback, sqlite.NewGateway(db))

	a.hubService = websocket.NewHubService(log)
	a.orchestrator.SetNotifier(a.hubService)

	jwtManager := auth.NewJWTManager(cfg)
	if cfg.JWTSecret == "" {
		log.Warning("JWT_SECRET is not set; tokens will not survive a restart")
	}

	a.handler = route.SetupRoutes(route.Deps{
		Config:          cfg,
		Logger:          log,
		Analyzer:        a.orchestrator,
		Images:          images,
		Recognitions:    recognitions,
		Fallback:        fallback,
		Hub:             a.hubService,
		Users:           user.NewService(sqlite.NewUserRepository(db), jwtManager, log),
		JWT:             jwtManager,
		DetectorHealthy: a.ready,
	})

	return a, nil
}

// Run serves HTTP until SIGINT or SIGTERM, then drains in-flight requests.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.close()

	go a.hubService.Run(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("🚀 NeuroVision Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🗄️  Database: %s (%s)\n", a.config.DBPath, a.config.DBDriver)
	fmt.Printf("📁 Local images: %s\n", a.config.PublicDir())
	fmt.Printf("🤖 Detector: %s (%s)\n", a.config.Detector, a.config.ModelVersion)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.DetectTimeout+a.config.PublishTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (a *App) close() {
	if err := a.detector.Close(); err != nil {
		a.logger.Error("Error closing detector: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database: %v", err)
	}
	a.logger.Close()
}
