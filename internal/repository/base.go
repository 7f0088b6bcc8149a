package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/payroll-engine/pkg/database"
)

// LockMode selects the row lock taken by a read.
type LockMode string

const (
	LockNone      LockMode = ""
	LockForUpdate LockMode = " FOR UPDATE"
	LockForShare  LockMode = " FOR SHARE"
)

// baseRepository resolves the querier from the context so repositories join
// any transaction opened by the caller.
type baseRepository struct {
	db *sqlx.DB
}

func (b baseRepository) q(ctx context.Context) database.Querier {
	return database.QuerierFrom(ctx, b.db)
}

func expectRows(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
