package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fsa-maps/internal/resilience"
)

// Open connects to the store selected by driver ("sqlite" or "postgres").
// Postgres connections are retried while the server is unreachable or still
// starting up.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		retry := resilience.DefaultRetryConfig()
		retry.OnRetry = resilience.RetryLogger("store", "postgres connect")
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (Store, error) {
			st, err := NewPostgres(ctx, dsn, poolCfg)
			if err != nil {
				return nil, err
			}
			return st, nil
		})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}
