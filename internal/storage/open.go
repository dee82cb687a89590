package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "factbot/pkg/logx"
)

// Store is the minimal persistence API used by the app and services.
type Store interface {
	SetUserLanguage(ctx context.Context, userID int64, lang string) error
	GetUserLanguage(ctx context.Context, userID int64) (lang string, ok bool, err error)

	AppendFact(ctx context.Context, e FactEntry) error
	PruneFacts(ctx context.Context, olderThan time.Time) (removed int64, err error)
	CountFacts(ctx context.Context, since time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
