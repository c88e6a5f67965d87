package registry

import (
	"context"
	"fmt"

	"github.com/remora-db/remora/pkg/driver"
)

// RunInTransaction executes fn inside a transaction scope on the connection
// registered under alias. The opened session is bound into the context
// passed to fn, so every query, update, delete and cascade sub-operation
// issued through that context joins the transaction without the caller ever
// passing it explicitly.
//
// The scope commits exactly once when fn returns nil, and aborts exactly
// once when fn returns an error, panics, or the context is cancelled — a
// cancelled scope never commits. Opening a second scope for the same alias
// inside fn fails with ErrNestedTransaction; scopes for different aliases
// nest independently.
func (r *Registry) RunInTransaction(ctx context.Context, alias string, fn func(ctx context.Context) error) (err error) {
	if alias == "" {
		alias = DefaultAlias
	}
	if CurrentSession(ctx, alias) != nil {
		return fmt.Errorf("registry: alias %q: %w", alias, ErrNestedTransaction)
	}

	conn, err := r.Resolve(alias)
	if err != nil {
		return err
	}

	sess, err := conn.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("registry: alias %q: start session: %w", alias, driver.TranslateError(err))
	}
	if r.metrics != nil {
		r.metrics.SessionStarted()
	}
	defer func() {
		sess.EndSession(ctx)
		if r.metrics != nil {
			r.metrics.SessionEnded()
		}
	}()

	if err := sess.StartTransaction(); err != nil {
		return fmt.Errorf("registry: alias %q: start transaction: %w", alias, driver.TranslateError(err))
	}

	txCtx := WithSession(ctx, alias, sess)

	defer func() {
		if p := recover(); p != nil {
			if abortErr := sess.AbortTransaction(ctx); abortErr != nil && r.logger != nil {
				r.logger.Error("abort after panic failed", abortErr, map[string]interface{}{"alias": alias})
			}
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if abortErr := sess.AbortTransaction(ctx); abortErr != nil && r.logger != nil {
			r.logger.Error("transaction abort failed", abortErr, map[string]interface{}{"alias": alias})
		}
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if abortErr := sess.AbortTransaction(ctx); abortErr != nil && r.logger != nil {
			r.logger.Error("transaction abort failed", abortErr, map[string]interface{}{"alias": alias})
		}
		return driver.TranslateError(ctxErr)
	}

	if err := sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("registry: alias %q: commit: %w", alias, driver.TranslateError(err))
	}
	if r.logger != nil {
		r.logger.Debug("transaction committed", nil, map[string]interface{}{"alias": alias})
	}
	return nil
}
