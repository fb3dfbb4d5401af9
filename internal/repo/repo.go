package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Repo is the SQL access layer. Methods that take a *sqlx.Tx run on the
// pool when tx is nil.
type Repo struct {
	DB *sqlx.DB
}

var ErrNotFound = errors.New("not found")

// Querier is implemented by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
}

func (r Repo) q(tx *sqlx.Tx) Querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func get(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func selectAll(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

func exec(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

// execAffected runs query and returns the number of rows it touched.
func execAffected(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// in expands slice arguments and rebinds for the driver.
func in(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return selectAll(ctx, q, dest, expanded, expandedArgs...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
