package db

import (
	"context"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// MustOpen connects to DATABASE_URL or panics. The pool is sized for the
// short advisory-lock transactions the stores run; idle connections recycle
// so long-lived workers do not pin them.
func MustOpen() *sqlx.DB {
	dsn := os.Getenv("DATABASE_URL")
	db := sqlx.MustConnect("pgx", dsn)
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db
}

// WithTx runs fn in a transaction, rolling back on error. Advisory locks
// taken inside fn release with the commit or rollback.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
