package db

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

// ReconcileLockKey elects one instance to run the startup reconciliation.
const ReconcileLockKey = int64(0x4641424c)

// TryAdvisoryLock takes a session-level Postgres advisory lock on a dedicated
// connection. The lock goes away with the connection, so a crashed holder
// never blocks the next election. release is nil when ok is false.
func TryAdvisoryLock(ctx context.Context, gdb *gorm.DB, key int64) (release func(), ok bool, err error) {
	conn, err := pinConn(ctx, gdb)
	if err != nil {
		return nil, false, err
	}
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}
	return unlocker(conn, key), true, nil
}

// AdvisoryLock waits for the advisory lock until ctx is done.
func AdvisoryLock(ctx context.Context, gdb *gorm.DB, key int64) (release func(), err error) {
	conn, err := pinConn(ctx, gdb)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock wait: %w", err)
	}
	return unlocker(conn, key), nil
}

func pinConn(ctx context.Context, gdb *gorm.DB) (*sql.Conn, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("advisory lock pool: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock conn: %w", err)
	}
	return conn, nil
}

func unlocker(conn *sql.Conn, key int64) func() {
	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
}
