package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/comments"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/plans"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/presence"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/reminders"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/sharing"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	postgresMaxOpenConns    = 25
	postgresMaxIdleConns    = 5
	postgresConnMaxLifetime = time.Hour
)

// Config selects and locates the database.
type Config struct {
	Driver string
	// Path is the sqlite file; ":memory:" style DSNs are accepted as-is.
	Path string
	// DSN is the postgres connection string.
	DSN string
}

// Models lists every table the service owns, in migration order.
func Models() []any {
	models := []any{
		&notes.Note{},
		&notes.NoteVersion{},
		&sharing.Grant{},
		&users.Identity{},
		&comments.Comment{},
		&progress.LogEntry{},
		&reminders.Reminder{},
		&migrationRecord{},
	}
	models = append(models, presence.Models()...)
	models = append(models, study.Models()...)
	return append(models, plans.Models()...)
}

// Open connects to the configured database and brings the schema up to date.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db       *gorm.DB
		err      error
		location string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		location = cfg.Path
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(postgresMaxOpenConns)
		sqlDB.SetMaxIdleConns(postgresMaxIdleConns)
		sqlDB.SetConnMaxLifetime(postgresConnMaxLifetime)
		location = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", db.Dialector.Name()), zap.String("location", location))
	return db, nil
}
