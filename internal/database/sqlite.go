package database

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/Acceso-dev/Acceso-x402/internal/utils"
	_ "modernc.org/sqlite"
)

// SQLiteManager handles all database operations
type SQLiteManager struct {
	dir    string
	cm     *utils.ConfigManager
	db     *sql.DB
	logger *utils.LogsManager

	// Specialized managers
	Settlements *SettlementDB
}

// NewSQLiteManager creates a new SQLite manager backed by the app data dir
func NewSQLiteManager(cm *utils.ConfigManager) (*SQLiteManager, error) {
	paths := utils.GetAppPaths("")
	sqlm := &SQLiteManager{
		dir:    paths.DataDir,
		cm:     cm,
		logger: utils.NewLogsManager(cm),
	}

	db, err := sqlm.CreateConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %v", err)
	}
	sqlm.db = db

	sqlm.Settlements, err = NewSettlementDB(db, sqlm.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settlements table: %v", err)
	}

	return sqlm, nil
}

// NewSQLiteManagerWithDSN opens an explicit data source, used by tests with
// an in-memory database
func NewSQLiteManagerWithDSN(cm *utils.ConfigManager, dsn string) (*SQLiteManager, error) {
	sqlm := &SQLiteManager{
		cm:     cm,
		logger: utils.NewLogsManager(cm),
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	sqlm.db = db

	sqlm.Settlements, err = NewSettlementDB(db, sqlm.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settlements table: %v", err)
	}

	return sqlm, nil
}

// CreateConnection creates and configures the database connection
func (sqlm *SQLiteManager) CreateConnection() (*sql.DB, error) {
	dbFileName := sqlm.cm.GetConfigWithDefault("database_file", "acceso-x402.db")
	path := filepath.Join(sqlm.dir, dbFileName)

	// WAL and busy timeout for concurrent settlement writers
	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path))
	if err != nil {
		sqlm.logger.Error(fmt.Sprintf("Can not create database connection. (%s)", err.Error()), "database")
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		sqlm.logger.Warn(fmt.Sprintf("Failed to enable WAL mode: %s", err.Error()), "database")
	}

	return db, nil
}

// GetDB returns the database connection for direct access if needed
func (sqlm *SQLiteManager) GetDB() *sql.DB {
	return sqlm.db
}

// Close closes the database connection
func (sqlm *SQLiteManager) Close() error {
	if sqlm.logger != nil {
		sqlm.logger.Close()
	}
	if sqlm.db != nil {
		return sqlm.db.Close()
	}
	return nil
}
