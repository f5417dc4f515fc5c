package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/clients/fooddb"
	"github.com/mealforge/mealforge-backend/internal/clients/openai"
	"github.com/mealforge/mealforge-backend/internal/clients/redis"
	"github.com/mealforge/mealforge-backend/internal/db"
	"github.com/mealforge/mealforge-backend/internal/handlers"
	"github.com/mealforge/mealforge-backend/internal/jobs"
	jobhandlers "github.com/mealforge/mealforge-backend/internal/jobs/handlers"
	"github.com/mealforge/mealforge-backend/internal/jobs/deadletter"
	"github.com/mealforge/mealforge-backend/internal/jobs/worker"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/repos"
	"github.com/mealforge/mealforge-backend/internal/server"
	"github.com/mealforge/mealforge-backend/internal/services"
	"github.com/mealforge/mealforge-backend/internal/sse"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config
	Hub    *sse.Hub

	bus    redis.ProgressBus
	pool   *worker.Pool
	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logger.Options{
		Mode:      logMode,
		Redaction: logMode == "production",
		HashSalt:  os.Getenv("LOG_HASH_SALT"),
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	dbService, err := db.NewService(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	theDB := dbService.DB()

	hub := sse.NewHub(log)
	var bus redis.ProgressBus
	if cfg.Redis.Addr != "" {
		bus, err = redis.NewProgressBus(log, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, progress stays in-process", "error", err.Error())
			bus = nil
		}
	}

	var llm openai.Client
	if cfg.OpenAI.APIKey != "" {
		llm, err = openai.NewClient(log, cfg.OpenAI)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init openai client: %w", err)
		}
	} else {
		log.Warn("No OpenAI key configured, curator runs the local generator only")
	}

	var foodDB fooddb.Client
	if cfg.FoodDB.APIKey != "" && cfg.FoodDB.BaseURL != "" {
		foodDB, err = fooddb.NewClient(log, cfg.FoodDB)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init food database client: %w", err)
		}
	} else {
		log.Warn("Food database unconfigured, all meals will be ai_estimated")
		foodDB = fooddb.NewDisabled()
	}

	jobRepo := repos.NewPlanJobRepo(theDB, log)
	dlqRepo := repos.NewDeadLetterRepo(theDB, log)

	notifier := services.NewJobNotifier(log, hub, bus)
	planJobs := services.NewPlanJobService(log, theDB, jobRepo, notifier)

	curator := agents.NewRecipeCurator(log, llm)
	compiler := agents.NewNutritionCompiler(log, foodDB, cfg.CompileConcurrency)
	qa := agents.NewQAValidator(log, cfg.QA)
	orchestrator := agents.NewOrchestrator(log, curator, compiler, qa)

	registry := jobs.NewRegistry()
	registry.Register(jobhandlers.NewPlanGenerate(log, orchestrator))

	dlq := deadletter.NewConsumer(log, dlqRepo, jobRepo, notifier, cfg.DLQ)
	pool := worker.NewPool(log, cfg.Worker, jobRepo, registry, notifier, dlq)

	plansHandler := handlers.NewPlansHandler(planJobs)
	streamHandler := handlers.NewStreamHandler(log, hub, planJobs, cfg.StreamPollInterval, cfg.StreamMaxLease)

	router := server.NewRouter(server.RouterConfig{
		Log:            log,
		AllowedOrigins: cfg.AllowedOrigins,
		PlansHandler:   plansHandler,
		StreamHandler:  streamHandler,
	})

	return &App{
		Log:    log,
		DB:     theDB,
		Router: router,
		Cfg:    cfg,
		Hub:    hub,
		bus:    bus,
		pool:   pool,
	}, nil
}

// Start launches the worker pool and, when Redis is configured, the
// forwarder that feeds bus messages into the local hub.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.bus != nil {
		if err := a.bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			a.Log.Warn("Progress forwarder failed to start", "error", err.Error())
		}
	}
	a.pool.Start(ctx)
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
