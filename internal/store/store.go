// Package store persists zone settings and cached forecasts as keyed JSON documents
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a key has no document
var ErrNotFound = errors.New("document not found")

// Store is a keyed document store
type Store interface {
	GetDocument(ctx context.Context, key string) ([]byte, error)
	PutDocument(ctx context.Context, key string, doc []byte) error
	ListDocuments(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config selects and configures a driver.
//
// Driver values:
//   - "sqlite": one SQLite database file at Path (default)
//   - "file": one JSON file per key below the directory Path
type Config struct {
	Driver string
	Path   string
}

// Open initializes the configured store
func Open(cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return NewSQLite(cfg.Path)
	case "file":
		return NewFile(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// ZoneKey returns the document key for a zone
func ZoneKey(id int) string {
	return fmt.Sprintf("zone/%d", id)
}

// ForecastKey is the document key of the cached forecast
const ForecastKey = "forecast/open-meteo"
