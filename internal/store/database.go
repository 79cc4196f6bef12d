package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const databaseFile = "scan-worker.db"

// Store is the durable home of profiles, tweets and task audit rows. The
// underlying *gorm.DB is exported so the task queue can share the same
// database file, which is what makes task deferral durable.
type Store struct {
	DB *gorm.DB
}

// Open opens (or creates) the database under dataDir and migrates the schema.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, databaseFile)

	if err := integrityCheck(dbPath); err != nil {
		return nil, fmt.Errorf("database integrity check failed: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Profile{}, &Tweet{}, &TaskAudit{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.Infof("Store opened at %s", dbPath)
	return &Store{DB: db}, nil
}

// integrityCheck runs a quick_check on an existing database file before gorm
// touches it, so a corrupted file fails loudly at startup instead of mid-scan.
func integrityCheck(dbPath string) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var result string
	if err := sqlDB.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check reported: %s", result)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
