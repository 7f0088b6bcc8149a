package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
)

// txRunner runs fn inside one database transaction carried by the context.
type txRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// directTx runs fn without a transaction. Used when no transactor is wired.
type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func ensureTx(tx txRunner) txRunner {
	if tx == nil {
		return directTx{}
	}
	return tx
}

func ensureValidator(v *validator.Validate) *validator.Validate {
	if v == nil {
		return validator.New()
	}
	return v
}

func validationError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}

// notFoundOr maps sql.ErrNoRows to a NOT_FOUND clone and anything else to an
// internal error.
func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Internal(err, internal)
}
