package sessionx_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isabella232/pg-db-session/pkg/errorx"
	"github.com/isabella232/pg-db-session/pkg/sessionx"
)

func newBoundContext(supplier *fakeSupplier, limit int, hooks sessionx.Hooks) context.Context {
	session := sessionx.NewSession(supplier, sessionx.SessionConfig{MaxConcurrency: limit, Hooks: hooks})
	return sessionx.WithSession(context.Background(), session)
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	supplier := newFakeSupplier()
	ctx := newBoundContext(supplier, 2, sessionx.Hooks{})

	err := sessionx.WithTransaction(ctx, func(ctx context.Context) error {
		pair, err := sessionx.GetConnection(ctx)
		require.NoError(t, err)
		require.NoError(t, pair.Exec(ctx, "INSERT 1"))
		require.NoError(t, pair.Release(ctx, nil))

		// A second sequential request reuses the same single connection.
		pair, err = sessionx.GetConnection(ctx)
		require.NoError(t, err)
		require.NoError(t, pair.Exec(ctx, "INSERT 2"))
		require.NoError(t, pair.Release(ctx, nil))

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"BEGIN", "INSERT 1", "INSERT 2", "COMMIT"}, supplier.execLog())

	acquired, outstanding, _ := supplier.stats()
	assert.Equal(t, 1, acquired, "a transaction runs on exactly one underlying connection")
	assert.Equal(t, 0, outstanding)

	releases := supplier.releases()
	require.Len(t, releases, 1)
	assert.NoError(t, releases[0].err)
}

func TestTransactionRollsBackAndPreservesError(t *testing.T) {
	supplier := newFakeSupplier()
	ctx := newBoundContext(supplier, 2, sessionx.Hooks{})

	errBusiness := errors.New("insufficient funds")
	err := sessionx.WithTransaction(ctx, func(ctx context.Context) error {
		pair, err := sessionx.GetConnection(ctx)
		require.NoError(t, err)
		require.NoError(t, pair.Exec(ctx, "UPDATE accounts"))
		require.NoError(t, pair.Release(ctx, nil))

		return errBusiness
	})

	assert.ErrorIs(t, err, errBusiness, "the original rejection reason is re-raised after rollback")
	assert.Equal(t, []string{"BEGIN", "UPDATE accounts", "ROLLBACK"}, supplier.execLog())
	assert.NotContains(t, supplier.execLog(), "COMMIT")
}

func TestTransactionRollbackFailureTakesPrecedence(t *testing.T) {
	supplier := newFakeSupplier()
	ctx := newBoundContext(supplier, 2, sessionx.Hooks{})

	errBusiness := errors.New("bad input")
	errRollback := errors.New("rollback refused")
	supplier.failStatement("ROLLBACK", errRollback)

	err := sessionx.WithTransaction(ctx, func(ctx context.Context) error {
		return errBusiness
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errRollback)
	assert.NotErrorIs(t, err, errBusiness)

	// A failed rollback leaves the connection in an unknown state; it must
	// be discarded, not recycled.
	assert.Equal(t, []int{1}, supplier.discardedIDs())
}

func TestTransactionAcquisitionFailureSkipsBegin(t *testing.T) {
	supplier := newFakeSupplier()

	var mu sync.Mutex
	var finished []error
	hooks := sessionx.Hooks{
		TransactionFinish: func(b sessionx.Baton, err error) {
			mu.Lock()
			finished = append(finished, err)
			mu.Unlock()
		},
	}
	ctx := newBoundContext(supplier, 2, hooks)

	errPool := errors.New("pool down")
	supplier.failNext(errPool)

	err := sessionx.WithTransaction(ctx, func(ctx context.Context) error {
		t.Fatal("the wrapped function must not run without a connection")
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errPool)
	assert.Empty(t, supplier.execLog(), "no BEGIN without a connection")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 1, "the finish hook fires even when acquisition fails")
	assert.ErrorIs(t, finished[0], errPool)
}

func TestTransactionSerializesConcurrentDescendants(t *testing.T) {
	supplier := newFakeSupplier()
	ctx := newBoundContext(supplier, 4, sessionx.Hooks{})

	err := sessionx.WithTransaction(ctx, func(ctx context.Context) error {
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pair, err := sessionx.GetConnection(ctx)
				require.NoError(t, err)
				require.NoError(t, pair.Exec(ctx, "WORK"))
				require.NoError(t, pair.Release(ctx, nil))
			}()
		}
		wg.Wait()

		return nil
	})
	require.NoError(t, err)

	acquired, _, maxOutstanding := supplier.stats()
	assert.Equal(t, 1, acquired, "descendants all serialize onto the transaction's connection")
	assert.Equal(t, 1, maxOutstanding)
}

func TestTransactionWrapperFactory(t *testing.T) {
	supplier := newFakeSupplier()
	ctx := newBoundContext(supplier, 2, sessionx.Hooks{})

	ran := false
	wrapped := sessionx.Transaction(func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, wrapped(ctx))
	assert.True(t, ran)
	assert.Equal(t, []string{"BEGIN", "COMMIT"}, supplier.execLog())
}

func TestTransactionWithoutBoundSession(t *testing.T) {
	err := sessionx.WithTransaction(context.Background(), func(ctx context.Context) error {
		return nil
	})

	assert.ErrorIs(t, err, errorx.ErrNoSession)
}

func TestTransactionConnectionFailureAbortsCommit(t *testing.T) {
	supplier := newFakeSupplier()
	ctx := newBoundContext(supplier, 2, sessionx.Hooks{})

	errBroken := errors.New("server closed the connection unexpectedly")
	err := sessionx.WithTransaction(ctx, func(ctx context.Context) error {
		pair, err := sessionx.GetConnection(ctx)
		require.NoError(t, err)
		require.NoError(t, pair.Release(ctx, errBroken))

		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errorx.ErrConnectionDiscarded)
	assert.NotContains(t, supplier.execLog(), "COMMIT")
	assert.Equal(t, []int{1}, supplier.discardedIDs())
}

func TestTransactionHooksLifecycle(t *testing.T) {
	supplier := newFakeSupplier()

	var mu sync.Mutex
	counts := map[string]int{}
	bump := func(name string) func(sessionx.Baton) {
		return func(sessionx.Baton) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		}
	}

	var subStart, subFinish int
	hooks := sessionx.Hooks{
		ConnectionRequest:            bump("conn.request"),
		TransactionRequest:           bump("tx.request"),
		TransactionStart:             bump("tx.start"),
		TransactionConnectionRequest: bump("txconn.request"),
		TransactionFinish: func(b sessionx.Baton, err error) {
			mu.Lock()
			counts["tx.finish"]++
			mu.Unlock()
		},
		SubsessionStart: func(parent, child *sessionx.Session) {
			mu.Lock()
			subStart++
			mu.Unlock()
		},
		SubsessionFinish: func(parent, child *sessionx.Session) {
			mu.Lock()
			subFinish++
			mu.Unlock()
		},
	}
	ctx := newBoundContext(supplier, 2, hooks)

	err := sessionx.WithTransaction(ctx, func(ctx context.Context) error {
		pair, err := sessionx.GetConnection(ctx)
		require.NoError(t, err)
		return pair.Release(ctx, nil)
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts["tx.request"])
	assert.Equal(t, 1, counts["tx.start"])
	assert.Equal(t, 1, counts["tx.finish"])
	// Initial lease, the wrapped function's request, and the reacquisition
	// for COMMIT all go through the transaction subsession.
	assert.Equal(t, 3, counts["txconn.request"])
	// The parent session only sees the one underlying acquisition.
	assert.Equal(t, 1, counts["conn.request"])
	assert.Equal(t, 1, subStart)
	assert.Equal(t, 1, subFinish)
}
