package migrations

import (
	"context"

	"go.uber.org/zap"

	"anchor-flow-lab/internal/storage/postgres"
)

// RunPostgresMigrations creates the checkpoint schema on pool. Each file is
// sent as one multi-statement text.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, log *zap.SugaredLogger) error {
	r := &runner{
		fsys: postgresFS,
		dir:  "postgres",
		exec: func(ctx context.Context, sql string) error {
			_, err := pool.Exec(ctx, sql)
			return err
		},
		log: log,
	}
	return r.apply(ctx)
}
