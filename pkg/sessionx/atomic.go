package sessionx

import (
	"context"

	"github.com/isabella232/pg-db-session/pkg/errorx"
)

// Atomic - wrap fn so that every invocation runs inside a savepoint-scoped
// unit of work on the enclosing session's connection.
//
// The wrapper acquires the enclosing session's single connection (waiting
// its turn behind sibling operations), issues SAVEPOINT under a name derived
// from the nesting depth and a per-session counter, and binds a limit-1
// subsession that borrows the connection for fn and its descendants. A nil
// return releases the savepoint; an error rolls back to it and is re-raised,
// with the same secondary-failure precedence as Transaction. Atomics nest by
// stacking savepoints; rolling an outer one back discards the inner ones
// through the database's own savepoint semantics.
//
// Atomic is normally used inside a transaction. Directly under a root
// session it first acquires one connection itself and runs as a depth-1
// scope; whether a bare SAVEPOINT is meaningful there is the database's
// business, not the scheduler's.
func Atomic(fn Func) Func {
	return func(ctx context.Context) error {
		return WithAtomic(ctx, fn)
	}
}

// WithAtomic - run fn inside a savepoint scope on the session bound to ctx.
func WithAtomic(ctx context.Context, fn Func) error {
	s, ok := FromContext(ctx)
	if !ok {
		return errorx.ErrNoSession
	}

	return s.runAtomic(ctx, fn)
}

func (s *Session) runAtomic(ctx context.Context, fn Func) (result error) {
	baton := newBaton()
	s.fireAtomicRequest(baton)
	defer func() { s.fireAtomicFinish(baton, result) }()

	pair, err := s.GetConnection(ctx)
	if err != nil {
		result = err
		return result
	}

	name := s.nextSavepointName()
	ctrlCtx := context.WithoutCancel(ctx)

	if err := pair.Exec(ctx, "SAVEPOINT "+name); err != nil {
		_ = pair.Release(ctrlCtx, err)
		result = errorx.NewDatabaseErrorWrapper(err, "error creating savepoint %s", name)
		return result
	}

	s.fireAtomicStart(baton)

	bound := newBorrowedBoundSupplier(pair)
	child := newSubsession(s, bound, kindAtomic)
	defer child.finish()

	fnErr := fn(WithSession(ctx, child))

	if brokenErr := bound.BrokenErr(); brokenErr != nil {
		// A descendant reported the connection broken; the savepoint
		// died with it. Propagate the discard to the enclosing session.
		_ = pair.Release(ctrlCtx, brokenErr)
		if fnErr != nil {
			result = fnErr
			return result
		}
		result = brokenErr
		return result
	}

	if fnErr == nil {
		if err := pair.Exec(ctrlCtx, "RELEASE SAVEPOINT "+name); err != nil {
			_ = pair.Release(ctrlCtx, err)
			result = errorx.NewDatabaseErrorWrapper(err, "error releasing savepoint %s", name)
			return result
		}
		_ = pair.Release(ctrlCtx, nil)
		return nil
	}

	if err := pair.Exec(ctrlCtx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		_ = pair.Release(ctrlCtx, err)
		result = errorx.NewDatabaseErrorWrapper(err, "error rolling back to savepoint %s", name)
		return result
	}
	_ = pair.Release(ctrlCtx, nil)

	result = fnErr
	return result
}
