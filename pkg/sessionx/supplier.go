package sessionx

import (
	"context"
)

// Handle is the executable surface of one acquired database connection.
// It is intentionally minimal: the scheduler only needs to issue control
// statements (BEGIN, COMMIT, SAVEPOINT, ...) on it. Concrete suppliers may
// expose richer query surfaces on their own handle types.
type Handle interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// ReleaseFunc returns a Handle to the supplier that produced it.
// A non-nil err flags the connection as broken: the supplier must discard it
// instead of recycling it.
type ReleaseFunc func(ctx context.Context, err error)

// Supplier - capability to produce database connections on demand.
//
// A Supplier gives no concurrency guarantee of its own; the Session imposes
// the limit. Acquire blocks until a connection is available, the context is
// cancelled, or the supplier fails.
type Supplier interface {
	Acquire(ctx context.Context) (Handle, ReleaseFunc, error)
}
