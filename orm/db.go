package orm

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the common interface for DB and Tx.
// Every query issued for one logical operation, nested eager fetches
// included, goes through the same Querier, so passing a *Tx threads the
// transaction through the whole operation.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	dialect() Dialect
}

// Logger is the interface for query logging.
type Logger interface {
	Log(ctx context.Context, query string, args ...any)
}

// DB wraps *sql.DB with a Dialect and satisfies Querier.
type DB struct {
	raw    *sql.DB
	d      Dialect
	logger Logger
}

// New wraps a *sql.DB with the given Dialect.
func New(db *sql.DB, d Dialect) *DB {
	return &DB{raw: db, d: d}
}

// Open opens a database for the named dialect using the conventional
// database/sql driver name for it ("mysql", "pgx", "sqlite"). The driver
// package must be imported by the caller.
func Open(dialectName, dsn string) (*DB, error) {
	d, err := DialectByName(dialectName)
	if err != nil {
		return nil, err
	}
	raw, err := sql.Open(DriverName(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("orm: open %s: %w", d.Name(), err)
	}
	return New(raw, d), nil
}

// DriverName returns the database/sql driver name conventionally registered
// for d: go-sql-driver/mysql, pgx/v5/stdlib and modernc.org/sqlite.
func DriverName(d Dialect) string {
	switch d.Name() {
	case "postgres":
		return "pgx"
	case "sqlite":
		return "sqlite"
	}
	return "mysql"
}

// Debug returns a new *DB that logs every query using the given Logger.
// The original DB is not modified.
func (db *DB) Debug(l Logger) *DB {
	return &DB{raw: db.raw, d: db.d, logger: l}
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if db.logger != nil {
		db.logger.Log(ctx, query, args...)
	}
	return db.raw.QueryContext(ctx, query, args...) //nolint:wrapcheck // thin wrapper
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if db.logger != nil {
		db.logger.Log(ctx, query, args...)
	}
	return db.raw.ExecContext(ctx, query, args...) //nolint:wrapcheck // thin wrapper
}

// Begin starts a transaction.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, nil)
	if err != nil {
		return nil, err //nolint:wrapcheck // thin wrapper
	}
	return &Tx{raw: tx, d: db.d, logger: db.logger}, nil
}

// Transaction executes fn within a transaction.
// If fn returns nil the transaction is committed.
// If fn returns an error or panics the transaction is rolled back.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	err = fn(tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Raw returns the wrapped *sql.DB.
func (db *DB) Raw() *sql.DB { return db.raw }

// Dialect returns the dialect the DB was opened with.
func (db *DB) Dialect() Dialect { return db.d }

// Close closes the underlying *sql.DB.
func (db *DB) Close() error { return db.raw.Close() } //nolint:wrapcheck // thin wrapper

func (db *DB) dialect() Dialect { return db.d }

// Tx wraps *sql.Tx with a Dialect and satisfies Querier.
type Tx struct {
	raw    *sql.Tx
	d      Dialect
	logger Logger
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx.logger != nil {
		tx.logger.Log(ctx, query, args...)
	}
	return tx.raw.QueryContext(ctx, query, args...) //nolint:wrapcheck // thin wrapper
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx.logger != nil {
		tx.logger.Log(ctx, query, args...)
	}
	return tx.raw.ExecContext(ctx, query, args...) //nolint:wrapcheck // thin wrapper
}

// Commit commits the transaction.
func (tx *Tx) Commit() error { return tx.raw.Commit() } //nolint:wrapcheck // thin wrapper

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error { return tx.raw.Rollback() } //nolint:wrapcheck // thin wrapper

func (tx *Tx) dialect() Dialect { return tx.d }
