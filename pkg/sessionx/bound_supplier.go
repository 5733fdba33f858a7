package sessionx

import (
	"context"
	"sync"

	"github.com/isabella232/pg-db-session/pkg/errorx"
)

// boundSupplier - a Supplier pinned to a single connection, backing the
// limit-1 subsessions created by Transaction and Atomic.
//
// In owned mode (transactions) the first Acquire leases one connection from
// the parent session and every later Acquire returns that same connection;
// a clean release keeps it held for the next requester instead of returning
// it upstream, and Close finally releases it to the parent. In borrowed mode
// (atomics) the connection belongs to the wrapper that created the supplier
// and Close never releases it.
//
// Once the connection is released with an error it is discarded upstream and
// the supplier refuses further Acquire calls with ErrConnectionDiscarded.
// This is deliberate: a replacement connection could not be inside the
// original transaction, so replay after a mid-transaction failure rejects
// the queued waiters instead of handing them a fresh connection.
type boundSupplier struct {
	parent *Session // set in owned mode only

	mu     sync.Mutex
	pair   *ConnPair
	owned  bool
	broken error
}

func newOwnedBoundSupplier(parent *Session) *boundSupplier {
	return &boundSupplier{parent: parent, owned: true}
}

func newBorrowedBoundSupplier(pair *ConnPair) *boundSupplier {
	return &boundSupplier{pair: pair}
}

// Acquire - lease the bound connection. Only ever called by a limit-1
// subsession, so at most one caller is inside at a time.
func (b *boundSupplier) Acquire(ctx context.Context) (Handle, ReleaseFunc, error) {
	b.mu.Lock()
	broken := b.broken
	pair := b.pair
	b.mu.Unlock()

	if broken != nil {
		return nil, nil, errorx.NewSessionErrorWrapper(errorx.ErrConnectionDiscarded, "%v", broken)
	}

	if pair == nil {
		if !b.owned {
			return nil, nil, errorx.ErrConnectionDiscarded
		}
		acquired, err := b.parent.GetConnection(ctx)
		if err != nil {
			return nil, nil, err
		}
		b.mu.Lock()
		b.pair = acquired
		pair = acquired
		b.mu.Unlock()
	}

	return pair.Handle(), b.release, nil
}

// release - a clean release keeps the connection held for the subsession's
// next requester. An error release discards it: owned connections are
// released upstream with the error so the parent can discard and replay,
// borrowed ones are left for their owning wrapper, which consults
// BrokenErr before issuing further statements.
func (b *boundSupplier) release(ctx context.Context, err error) {
	if err == nil {
		return
	}

	b.mu.Lock()
	if b.broken == nil {
		b.broken = err
	}
	pair := b.pair
	b.pair = nil
	owned := b.owned
	b.mu.Unlock()

	if owned && pair != nil {
		_ = pair.Release(ctx, err)
	}
}

// BrokenErr - the error the bound connection failed with, if any.
func (b *boundSupplier) BrokenErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.broken
}

// Close - release an owned connection back to the parent session. Safe to
// call when the connection was already discarded or never acquired.
func (b *boundSupplier) Close(ctx context.Context) {
	b.mu.Lock()
	pair := b.pair
	b.pair = nil
	owned := b.owned
	b.mu.Unlock()

	if owned && pair != nil {
		_ = pair.Release(ctx, nil)
	}
}
