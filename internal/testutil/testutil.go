package testutil

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TestDatabase holds the in-memory SQLite connection used by integration
// tests. No Docker required.
type TestDatabase struct {
	DB *gorm.DB
}

// TestRedis holds the miniredis mock and a connected client.
type TestRedis struct {
	Server *miniredis.Miniredis
	Client *redis.Client
	URL    string
}

// SetupTestDatabase creates an in-memory SQLite database and migrates the
// production models. The JSON columns are plain text, so the same models run
// unchanged here and on Postgres.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Thread{},
		&models.Message{},
		&models.BulkOperation{},
	)
	if err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &TestDatabase{DB: db}
}

// Teardown closes the test database connection.
func (td *TestDatabase) Teardown(t *testing.T) {
	t.Helper()
	sqlDB, err := td.DB.DB()
	if err != nil {
		t.Logf("Warning: Failed to get underlying DB: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		t.Logf("Warning: Failed to close database: %v", err)
	}
}

// CleanDatabase deletes all rows for test isolation (SQLite has no TRUNCATE).
func CleanDatabase(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, table := range []string{"bulk_operations", "messages", "threads", "users"} {
		if err := db.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			t.Logf("Warning: Failed to clean table %s: %v", table, err)
		}
	}
}

// SetupTestRedis starts a miniredis instance with a connected client.
func SetupTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	return &TestRedis{
		Server: server,
		Client: client,
		URL:    fmt.Sprintf("redis://%s", server.Addr()),
	}
}

// Teardown stops miniredis and closes the client.
func (tr *TestRedis) Teardown(t *testing.T) {
	t.Helper()
	_ = tr.Client.Close()
	tr.Server.Close()
}
