package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
)

// CanonicalLockKey is the lock key guarding a canonical id within a type.
func CanonicalLockKey(entityType model.EntityType, canonicalID string) string {
	return fmt.Sprintf("%s:%s", entityType, canonicalID)
}

// AdvisoryKey hashes a string lock key to the bigint PostgreSQL advisory locks use.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// lockerNamespace keeps session locks apart from the transaction locks the store takes
// on the same keys, so a locker holder can still run store writes on another connection.
const lockerNamespace = "locker:"

// PostgresLocker implements a cross-process keyed lock on PostgreSQL session advisory locks.
// Every held lock pins one pooled connection until it is released.
type PostgresLocker struct {
	db           *helper.Database
	pollInterval time.Duration
}

// NewPostgresLocker creates a locker polling pg_try_advisory_lock every pollInterval.
func NewPostgresLocker(db *helper.Database, pollInterval time.Duration) (*PostgresLocker, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if pollInterval <= 0 {
		pollInterval = 25 * time.Millisecond
	}
	return &PostgresLocker{db: db, pollInterval: pollInterval}, nil
}

// Lock blocks until the advisory lock for key is held or ctx is done.
func (l *PostgresLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.Instance.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("acquire connection", err)
	}

	lockID := AdvisoryKey(lockerNamespace + key)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		var acquired bool
		err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil, helper.NewError("wait for advisory lock "+key, ctx.Err())
			}
			return nil, helper.NewError("pg_try_advisory_lock", err)
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, helper.NewError("wait for advisory lock "+key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(releaseCtx, `SELECT pg_advisory_unlock($1)`, lockID); err != nil {
			l.db.Logger.Warn("Failed to release advisory lock", "key", key, "error", err)
		}
		_ = conn.Close()
	}, nil
}
