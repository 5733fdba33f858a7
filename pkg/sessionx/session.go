// Package sessionx implements a session-scoped arbiter between application
// code and a pooled database connection supplier.
//
// A Session lets many logically independent call chains share one underlying
// pool while each chain never exceeds a configured concurrency of
// simultaneously held connections. Transaction and Atomic wrappers create
// nested subsessions that serialize all descendant work onto exactly one
// connection, bracketing it with BEGIN/COMMIT/ROLLBACK or SAVEPOINT
// statements. When a held connection is released with an error, the Session
// discards it and transparently re-acquires fresh connections for every
// queued waiter, in their original order.
package sessionx

import (
	"context"
	"fmt"
	"sync"

	"github.com/isabella232/pg-db-session/pkg/errorx"
	"github.com/isabella232/pg-db-session/pkg/logx"
)

// Unbounded - MaxConcurrency value meaning no limit on simultaneously held
// connections.
const Unbounded = 0

type sessionKind int

const (
	kindRoot sessionKind = iota
	kindTransaction
	kindAtomic
)

func (k sessionKind) String() string {
	switch k {
	case kindTransaction:
		return "transaction"
	case kindAtomic:
		return "atomic"
	default:
		return "session"
	}
}

// SessionConfig - configuration for a root Session.
type SessionConfig struct {
	// MaxConcurrency caps the number of simultaneously held connections.
	// Zero means unbounded.
	MaxConcurrency int
	// Hooks - optional instrumentation callbacks. Nil fields are no-ops.
	Hooks Hooks
	// Name labels the session in errors and logs.
	Name string
}

// pendingRequest - one queued GetConnection call waiting for a grant.
type pendingRequest struct {
	baton Baton
	grant chan grantResult
}

type grantResult struct {
	pair *ConnPair
	err  error
}

// Session - the connection scheduler.
//
// A Session owns a FIFO queue of pending acquisition requests and a count of
// currently held connections, both protected by a mutex: the limit and FIFO
// invariants do not survive a race between two concurrent GetConnection
// calls. Subsessions created by Transaction and Atomic are Sessions with a
// limit of one, backed by a supplier bound to a single connection.
type Session struct {
	name     string
	kind     sessionKind
	parent   *Session
	supplier Supplier
	limit    int
	hooks    Hooks

	// depth counts transaction/atomic ancestors; savepoint names derive
	// from it.
	depth int

	mu      sync.Mutex
	active  int
	pending []*pendingRequest
	idle    bool
	// replaying counts drained requests still owed a replayed grant; the
	// session is not idle while any remain.
	replaying    int
	savepointSeq int
	finished     bool
}

// NewSession - root Session constructor.
func NewSession(supplier Supplier, cfg SessionConfig) *Session {
	name := cfg.Name
	if name == "" {
		name = "session"
	}

	return &Session{
		name:     name,
		kind:     kindRoot,
		supplier: supplier,
		limit:    cfg.MaxConcurrency,
		hooks:    cfg.Hooks,
		idle:     true,
	}
}

// newSubsession - create a transaction or atomic subsession under s.
// Subsessions always have a limit of one: that is the mechanism that
// serializes descendant operations onto the shared connection.
func newSubsession(parent *Session, supplier Supplier, kind sessionKind) *Session {
	child := &Session{
		name:     fmt.Sprintf("%s/%s", parent.name, kind),
		kind:     kind,
		parent:   parent,
		supplier: supplier,
		limit:    1,
		hooks:    parent.hooks,
		depth:    parent.depth + 1,
		idle:     true,
	}
	parent.fireSubsessionStart(child)

	return child
}

// finish - tear a subsession down, firing the SubsessionFinish hook once.
func (s *Session) finish() {
	s.mu.Lock()
	if s.finished || s.parent == nil {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()

	s.parent.fireSubsessionFinish(s)
}

// Name - the session's label.
func (s *Session) Name() string {
	return s.name
}

// Stats - current scheduler state: held connections and queued requests.
func (s *Session) Stats() (active int, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active, len(s.pending)
}

// GetConnection - acquire a connection from this Session.
//
// If the session is below its concurrency limit the supplier is invoked and
// the result returned; otherwise the call suspends in a FIFO queue until a
// holder releases. Cancelling the context removes a still-queued request
// without affecting the session's accounting; if a grant races the
// cancellation, the grant wins and the pair is returned.
func (s *Session) GetConnection(ctx context.Context) (*ConnPair, error) {
	baton := newBaton()
	s.fireConnectionRequest(baton)

	return s.acquire(ctx, baton)
}

func (s *Session) acquire(ctx context.Context, baton Baton) (*ConnPair, error) {
	s.mu.Lock()
	if s.limit == Unbounded || s.active < s.limit {
		s.active++
		s.idle = false
		s.mu.Unlock()

		return s.acquireFromSupplier(ctx, baton)
	}

	req := &pendingRequest{baton: baton, grant: make(chan grantResult, 1)}
	s.pending = append(s.pending, req)
	s.idle = false
	s.mu.Unlock()

	select {
	case res := <-req.grant:
		return res.pair, res.err
	case <-ctx.Done():
		if s.cancelPending(req) {
			return nil, errorx.NewSessionErrorWrapper(ctx.Err(), "request cancelled while queued on %s", s.name)
		}
		// The request was granted concurrently with the cancellation;
		// the grant wins so the connection is not leaked.
		res := <-req.grant

		return res.pair, res.err
	}
}

// acquireFromSupplier - invoke the supplier for a slot already reserved in
// the active count. A supplier failure rolls the count back and is reported
// only to this caller; the pending queue is untouched.
func (s *Session) acquireFromSupplier(ctx context.Context, baton Baton) (*ConnPair, error) {
	handle, releaseFn, err := s.supplier.Acquire(ctx)
	if err != nil {
		s.mu.Lock()
		s.active--
		becameIdle := s.checkIdleLocked()
		s.mu.Unlock()
		if becameIdle {
			s.fireSessionIdle()
		}

		return nil, errorx.NewSessionErrorWrapper(err, "error acquiring connection for %s", s.name)
	}

	s.fireConnectionStart(baton)

	return newConnPair(s, handle, releaseFn, baton), nil
}

// cancelPending removes req from the queue. It reports false when the
// request is no longer queued, meaning a grant or replay already owns it.
func (s *Session) cancelPending(req *pendingRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, queued := range s.pending {
		if queued == req {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}

	return false
}

// release - the central hand-off protocol, routed here by ConnPair.Release.
//
// The finish hook fires exactly once per pair. An error release discards the
// physical connection and replays every queued request against a fresh
// acquisition; a clean release hands the same connection to the head waiter,
// or returns it to the supplier when nobody is waiting.
func (s *Session) release(ctx context.Context, pair *ConnPair, err error) {
	s.fireConnectionFinish(pair.baton, err)

	if err != nil {
		s.releaseBroken(ctx, pair, err)
		return
	}

	s.mu.Lock()
	if len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		// Direct hand-off: same physical connection, no supplier round
		// trip, no change to the active count. This is what turns a
		// limit-1 session into a strict sequencer.
		granted := pair.adopt(next.baton)
		s.fireConnectionStart(next.baton)
		next.grant <- grantResult{pair: granted}

		return
	}
	s.mu.Unlock()

	s.releaseToSupplier(ctx, pair, nil)
}

// releaseBroken - discard a failed connection and replay the queue.
//
// The drained requests are re-acquired in their original FIFO order through
// the normal accounting path: a failed connection can never be handed
// forward, so each waiter gets an independently acquired replacement. The
// replay runs in the background so the releasing caller never suspends, on a
// context detached from the releaser's cancellation: the waiters are other
// call chains and must always receive an answer.
//
// Replayed requests deliberately reuse their original baton, and the request
// hook is not re-fired: to the instrumentation layer the replay is the tail
// of the original request, not a new one. Drained requests are counted in
// replaying until each has its answer, so the SessionIdle hook cannot fire
// while a waiter is still owed a replayed grant.
func (s *Session) releaseBroken(ctx context.Context, pair *ConnPair, err error) {
	s.mu.Lock()
	drained := s.pending
	s.pending = nil
	s.replaying += len(drained)
	s.mu.Unlock()

	s.releaseToSupplier(ctx, pair, err)

	if len(drained) == 0 {
		return
	}

	logx.GetLogger().LogWarning(ctx, fmt.Sprintf("%s: connection failed, replaying %d queued request(s)", s.name, len(drained)), err)

	replayCtx := context.WithoutCancel(ctx)
	go func() {
		for _, req := range drained {
			pair, acqErr := s.acquire(replayCtx, req.baton)
			req.grant <- grantResult{pair: pair, err: acqErr}

			s.mu.Lock()
			s.replaying--
			becameIdle := s.checkIdleLocked()
			s.mu.Unlock()
			if becameIdle {
				s.fireSessionIdle()
			}
		}
	}()
}

// releaseToSupplier - return the physical connection to the supplier and
// decrement the active count.
func (s *Session) releaseToSupplier(ctx context.Context, pair *ConnPair, err error) {
	pair.releaseFn(ctx, err)

	s.mu.Lock()
	s.active--
	becameIdle := s.checkIdleLocked()
	s.mu.Unlock()

	if becameIdle {
		s.fireSessionIdle()
	}
}

// checkIdleLocked flips the idle flag on the transition to "no holders, no
// waiters, no pending replays" and reports whether the SessionIdle hook
// should fire. Callers fire it after unlocking.
func (s *Session) checkIdleLocked() bool {
	if s.active == 0 && len(s.pending) == 0 && s.replaying == 0 && !s.idle {
		s.idle = true
		return true
	}

	return false
}

// nextSavepointName - derive a savepoint identifier that cannot collide with
// any ancestor scope: the nesting depth plus a per-session counter.
func (s *Session) nextSavepointName() string {
	s.mu.Lock()
	s.savepointSeq++
	seq := s.savepointSeq
	s.mu.Unlock()

	return fmt.Sprintf("sp_%d_%d", s.depth+1, seq)
}
