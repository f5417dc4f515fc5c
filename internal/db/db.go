package db

import (
	"fmt"
	stdlog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

type Config struct {
	Driver     string // "postgres" or "sqlite"
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string
}

// Service owns the gorm handle. The driver is resolved exactly once here from
// the config struct; nothing downstream branches on it.
type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewService(baseLog *logger.Logger, cfg Config) (*Service, error) {
	serviceLog := baseLog.With("service", "DatabaseService")

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "mealforge.db"
		}
		dialector = sqlite.Open(path)
	default:
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name,
		)
		dialector = postgres.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Service{db: gdb, log: serviceLog}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) AutoMigrateAll() error {
	if err := s.db.AutoMigrate(
		&types.PlanJob{},
		&types.DeadLetterRecord{},
	); err != nil {
		return err
	}
	// One in-flight generation per user. The service layer checks before
	// creating, the index closes the race between two concurrent submits.
	if s.db.Dialector.Name() == "postgres" {
		if err := s.db.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_plan_job_active_user
			 ON plan_job (user_id) WHERE status IN ('pending', 'running')`,
		).Error; err != nil {
			return fmt.Errorf("failed to create active-job index: %w", err)
		}
	}
	return nil
}
