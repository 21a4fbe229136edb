package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbMaxConns    = 4
	dbPingTimeout = 3 * time.Second
)

// NewDBPool opens the session storage pool. One connection is held for
// LISTEN by storage.Postgres; the rest serve reads and writes.
func NewDBPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("app: parse storage dsn: %w", err)
	}
	if pcfg.MaxConns > dbMaxConns {
		pcfg.MaxConns = dbMaxConns
	}
	if pcfg.MaxConns < 2 {
		pcfg.MaxConns = 2
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "backoffice"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("app: open storage pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: ping storage: %w", err)
	}
	return pool, nil
}
