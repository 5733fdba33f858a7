package sessionx

import (
	"context"
	"sync/atomic"

	"github.com/isabella232/pg-db-session/pkg/errorx"
)

// ConnPair - one granted connection: the handle, the capability to return it
// to its supplier, and the baton minted for the request it was granted to.
//
// A pair is owned by exactly one consumer between grant and release.
// Ownership transfers to the next queued requester on a clean release; the
// transfer produces a fresh ConnPair so the at-most-once release contract
// holds per grant, not per physical connection.
type ConnPair struct {
	session   *Session
	handle    Handle
	releaseFn ReleaseFunc
	baton     Baton
	released  atomic.Bool
}

func newConnPair(session *Session, handle Handle, releaseFn ReleaseFunc, baton Baton) *ConnPair {
	return &ConnPair{
		session:   session,
		handle:    handle,
		releaseFn: releaseFn,
		baton:     baton,
	}
}

// adopt - re-wrap the same physical connection for the next requester.
func (p *ConnPair) adopt(baton Baton) *ConnPair {
	return newConnPair(p.session, p.handle, p.releaseFn, baton)
}

// Handle - the underlying connection handle.
func (p *ConnPair) Handle() Handle {
	return p.handle
}

// Baton - the instrumentation token for the grant this pair belongs to.
func (p *ConnPair) Baton() Baton {
	return p.baton
}

// Exec - run a statement on the held connection.
func (p *ConnPair) Exec(ctx context.Context, sql string, args ...any) error {
	return p.handle.Exec(ctx, sql, args...)
}

// Release - return the connection to the session that granted it.
//
// A non-nil err marks the physical connection unusable: the session discards
// it and replays any queued requests against fresh acquisitions. Releasing a
// pair twice is a programming error and returns errorx.ErrAlreadyReleased
// without touching the session's accounting.
func (p *ConnPair) Release(ctx context.Context, err error) error {
	if !p.released.CompareAndSwap(false, true) {
		return errorx.NewSessionErrorWrapper(errorx.ErrAlreadyReleased, "double release on %s", p.session.name)
	}

	p.session.release(ctx, p, err)

	return nil
}
