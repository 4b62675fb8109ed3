package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools, connections and
// transactions. Repositories run against whichever Querier the context
// carries.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type contextKey string

const connKey contextKey = "db_conn"

// WithConn returns a context carrying q for repositories to pick up.
func WithConn(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, connKey, q)
}

// ConnFromContext retrieves the context-scoped Querier, or nil when the
// caller should fall back to its own pool.
func ConnFromContext(ctx context.Context) Querier {
	q, _ := ctx.Value(connKey).(Querier)
	return q
}

// InTx runs fn inside a transaction. The transaction is placed in the
// context so every repository call inside fn joins it; any error rolls the
// whole unit back.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(WithConn(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
