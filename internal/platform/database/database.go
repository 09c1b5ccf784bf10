package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	core "github.com/Shoalstone/MASH/internal/app/core/service"
	_ "github.com/lib/pq"
)

// openRetryPolicy tolerates postgres still coming up behind mashd in a fresh
// compose/k8s rollout: 5 attempts, 500ms initial backoff doubling to 4s.
var openRetryPolicy = core.RetryPolicy{
	Attempts:       5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     4 * time.Second,
	Multiplier:     2,
}

// Open establishes a PostgreSQL connection using the provided DSN and verifies
// connectivity with a ping, retrying transient failures. The returned *sql.DB
// must be closed by the caller.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	err = core.Retry(ctx, openRetryPolicy, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
