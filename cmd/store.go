package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fsa-maps/internal/config"
	"github.com/sells-group/fsa-maps/internal/store"
)

// openStore validates the config for mode, connects to the configured store
// and applies the schema.
func openStore(ctx context.Context, c *config.Config, mode string) (store.Store, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
