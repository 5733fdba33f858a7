package sessionx

import (
	"context"

	"github.com/isabella232/pg-db-session/pkg/errorx"
)

// Func - a unit of database work run under a bound session.
type Func func(ctx context.Context) error

// Transaction - wrap fn so that every invocation runs inside its own
// database transaction.
//
// On entry the wrapper creates a transaction subsession with a concurrency
// limit of one, binds it to the context, leases a single connection from the
// enclosing session and issues BEGIN. Every GetConnection call made by fn or
// its descendants resolves to that subsession and therefore serializes onto
// the one connection. A nil return from fn commits; an error rolls back and
// is re-raised, unless the rollback itself fails, in which case the rollback
// failure takes precedence.
func Transaction(fn Func) Func {
	return func(ctx context.Context) error {
		return WithTransaction(ctx, fn)
	}
}

// WithTransaction - run fn inside a transaction on the session bound to ctx.
func WithTransaction(ctx context.Context, fn Func) error {
	s, ok := FromContext(ctx)
	if !ok {
		return errorx.ErrNoSession
	}

	return s.runTransaction(ctx, fn)
}

func (s *Session) runTransaction(ctx context.Context, fn Func) (result error) {
	baton := newBaton()
	s.fireTransactionRequest(baton)
	defer func() { s.fireTransactionFinish(baton, result) }()

	bound := newOwnedBoundSupplier(s)
	child := newSubsession(s, bound, kindTransaction)
	defer child.finish()

	txCtx := WithSession(ctx, child)

	// Control statements run on a context detached from the caller's
	// cancellation: once BEGIN succeeded the transaction must be closed
	// out even if fn failed because ctx was cancelled.
	ctrlCtx := context.WithoutCancel(ctx)
	defer bound.Close(ctrlCtx)

	pair, err := child.GetConnection(txCtx)
	if err != nil {
		// No connection, no BEGIN, nothing to roll back.
		result = err
		return result
	}

	s.fireTransactionStart(baton)

	if err := pair.Exec(txCtx, "BEGIN"); err != nil {
		_ = pair.Release(ctrlCtx, err)
		result = errorx.NewDatabaseErrorWrapper(err, "error starting transaction on %s", child.name)
		return result
	}

	// Hand the connection over to the subsession so descendant requests
	// can take turns on it while fn runs.
	if err := pair.Release(txCtx, nil); err != nil {
		result = err
		return result
	}

	fnErr := fn(txCtx)

	// Reacquiring the lone connection also waits out any release still in
	// flight from a descendant.
	ctrl, err := child.GetConnection(ctrlCtx)
	if err != nil {
		// The connection failed mid-transaction and was already
		// discarded; the database has aborted the transaction for us.
		if fnErr != nil {
			result = fnErr
			return result
		}
		result = err
		return result
	}

	if fnErr == nil {
		if err := ctrl.Exec(ctrlCtx, "COMMIT"); err != nil {
			_ = ctrl.Release(ctrlCtx, err)
			result = errorx.NewDatabaseErrorWrapper(err, "error during transaction commit on %s", child.name)
			return result
		}
		_ = ctrl.Release(ctrlCtx, nil)
		return nil
	}

	if err := ctrl.Exec(ctrlCtx, "ROLLBACK"); err != nil {
		_ = ctrl.Release(ctrlCtx, err)
		result = errorx.NewDatabaseErrorWrapper(err, "error rolling back transaction on %s", child.name)
		return result
	}
	_ = ctrl.Release(ctrlCtx, nil)

	result = fnErr
	return result
}
