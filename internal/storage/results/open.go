package results

import (
	"context"

	"github.com/newthinker/tpsl/internal/core"
)

// Open returns the store selected by driver: "sqlite", "postgres" or "memory".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "tpsl.db"
		}
		return NewSQLiteStore(dsn)
	case "postgres":
		if dsn == "" {
			return nil, core.Errorf(core.ErrConfigMissing, "postgres results store needs a dsn")
		}
		return NewPostgresStore(ctx, dsn)
	case "memory":
		return NewMemoryStore(1000), nil
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown results driver %q", driver)
	}
}
