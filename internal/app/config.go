package app

import (
	"strings"
	"time"

	"github.com/mealforge/mealforge-backend/internal/agents"
	"github.com/mealforge/mealforge-backend/internal/clients/fooddb"
	"github.com/mealforge/mealforge-backend/internal/clients/openai"
	"github.com/mealforge/mealforge-backend/internal/clients/redis"
	"github.com/mealforge/mealforge-backend/internal/db"
	"github.com/mealforge/mealforge-backend/internal/jobs/deadletter"
	"github.com/mealforge/mealforge-backend/internal/jobs/worker"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/utils"
)

type Config struct {
	Port           string
	AllowedOrigins []string

	DB      db.Config
	Redis   redis.Config
	OpenAI  openai.Config
	FoodDB  fooddb.Config
	Worker  worker.Config
	DLQ     deadletter.Config
	QA      agents.QAConfig

	CompileConcurrency int
	StreamPollInterval time.Duration
	StreamMaxLease     time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:           utils.GetEnv("PORT", "8080", log),
		AllowedOrigins: splitCSV(utils.GetEnv("CORS_ALLOWED_ORIGINS", "", log)),
		DB: db.Config{
			Driver:     utils.GetEnv("DB_DRIVER", "postgres", log),
			Host:       utils.GetEnv("DB_HOST", "localhost", log),
			Port:       utils.GetEnv("DB_PORT", "5432", log),
			User:       utils.GetEnv("DB_USER", "mealforge", log),
			Password:   utils.GetEnv("DB_PASSWORD", "", log),
			Name:       utils.GetEnv("DB_NAME", "mealforge", log),
			SQLitePath: utils.GetEnv("DB_SQLITE_PATH", "mealforge.db", log),
		},
		Redis: redis.Config{
			Addr:    utils.GetEnv("REDIS_ADDR", "", log),
			Channel: utils.GetEnv("REDIS_PROGRESS_CHANNEL", "plan-progress", log),
		},
		OpenAI: openai.Config{
			APIKey:     utils.GetEnv("OPENAI_API_KEY", "", log),
			BaseURL:    utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log),
			Model:      utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log),
			Timeout:    time.Duration(utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 90, log)) * time.Second,
			MaxRetries: utils.GetEnvAsInt("OPENAI_MAX_RETRIES", 2, log),
		},
		FoodDB: fooddb.Config{
			APIKey:     utils.GetEnv("FOODDB_API_KEY", "", log),
			BaseURL:    utils.GetEnv("FOODDB_BASE_URL", "", log),
			MaxResults: utils.GetEnvAsInt("FOODDB_MAX_RESULTS", 5, log),
			Timeout:    time.Duration(utils.GetEnvAsInt("FOODDB_TIMEOUT_SECONDS", 30, log)) * time.Second,
			MaxRetries: utils.GetEnvAsInt("FOODDB_MAX_RETRIES", 2, log),
		},
		Worker: worker.Config{
			Workers:            utils.GetEnvAsInt("WORKER_COUNT", 4, log),
			PollInterval:       time.Duration(utils.GetEnvAsInt("WORKER_POLL_MS", 1000, log)) * time.Millisecond,
			MaxAttempts:        utils.GetEnvAsInt("JOB_MAX_ATTEMPTS", 3, log),
			RetryBackoffBase:   time.Duration(utils.GetEnvAsInt("JOB_RETRY_BACKOFF_SECONDS", 30, log)) * time.Second,
			StaleRunning:       time.Duration(utils.GetEnvAsInt("JOB_STALE_RUNNING_MINUTES", 5, log)) * time.Minute,
			HeartbeatInterval:  time.Duration(utils.GetEnvAsInt("JOB_HEARTBEAT_SECONDS", 30, log)) * time.Second,
			JanitorInterval:    time.Duration(utils.GetEnvAsInt("JOB_JANITOR_MINUTES", 10, log)) * time.Minute,
			CompletedRetention: time.Duration(utils.GetEnvAsInt("JOB_COMPLETED_RETENTION_HOURS", 6, log)) * time.Hour,
			FailedRetention:    time.Duration(utils.GetEnvAsInt("JOB_FAILED_RETENTION_HOURS", 168, log)) * time.Hour,
		},
		DLQ: deadletter.Config{
			WebhookURL:    utils.GetEnv("DEADLETTER_WEBHOOK_URL", "", log),
			WebhookSecret: utils.GetEnv("DEADLETTER_WEBHOOK_SECRET", "", log),
		},
		QA: agents.QAConfig{
			TolerancePercent: utils.GetEnvAsFloat("QA_TOLERANCE_PERCENT", 3.0, log),
			MaxIterations:    utils.GetEnvAsInt("QA_MAX_ITERATIONS", 5, log),
			NudgeStep:        utils.GetEnvAsFloat("QA_NUDGE_STEP", 0.05, log),
		},
		CompileConcurrency: utils.GetEnvAsInt("COMPILE_CONCURRENCY", 4, log),
		StreamPollInterval: time.Duration(utils.GetEnvAsInt("STREAM_POLL_MS", 2000, log)) * time.Millisecond,
		StreamMaxLease:     time.Duration(utils.GetEnvAsInt("STREAM_MAX_LEASE_MINUTES", 10, log)) * time.Minute,
	}
	return cfg
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
