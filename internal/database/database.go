package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"people-counter-go/config"
	"people-counter-go/internal/detection"

	"github.com/glebarez/sqlite" // Pure Go
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// --- Struct Definitions ---

// CrossingEvent is one counted line crossing.
type CrossingEvent struct {
	gorm.Model
	EventID   string    `gorm:"uniqueIndex"` // uuid from the worker
	TrackID   int       `gorm:"index"`
	PersonID  string    `gorm:"index"` // empty when Re-ID is disabled or had no crop
	Direction string    `gorm:"index"` // IN or OUT
	Camera    string    `gorm:"index"`
	Timestamp time.Time `gorm:"index"`
	BBox      datatypes.JSONType[detection.BBox]
}

// IdentitySighting records that a track was matched to a person.
type IdentitySighting struct {
	gorm.Model
	PersonID   string `gorm:"index"`
	TrackID    int
	Similarity float64
	New        bool
	Camera     string
	Timestamp  time.Time `gorm:"index"`
}

// CameraSettings holds the counting line that was last set for a camera.
// A row only exists once the line has been moved at runtime.
type CameraSettings struct {
	gorm.Model
	Camera      string `gorm:"uniqueIndex"`
	LineX       float64
	DirectionIn string
}

// Open connects to the sqlite file and runs the migrations.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	// Ensure the directory for the database file exists
	dbDir := filepath.Dir(cfg.File)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory '%s': %w", dbDir, err)
	}

	gormLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", cfg.File)
	db, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database '%s': %w", cfg.File, err)
	}

	log.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&CrossingEvent{},
		&IdentitySighting{},
		&CameraSettings{},
	); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("Database migrations completed.")

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
