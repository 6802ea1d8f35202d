package postgres

import (
	"context"
	"database/sql"
)

// DBTX abstracts over *sqlx.DB and *sqlx.Tx so repositories can run on a
// live pool or inside a transaction, which tests roll back for isolation.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
