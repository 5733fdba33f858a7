package sessionx

import (
	"time"

	"github.com/google/uuid"
)

// Baton - opaque per-request instrumentation token.
// A Baton is minted when a connection request begins and is threaded through
// every lifecycle hook fired for that request, so an instrumentation layer
// can correlate request, grant and release events and measure wait times.
type Baton struct {
	ID          uuid.UUID
	RequestedAt time.Time
}

func newBaton() Baton {
	return Baton{
		ID:          uuid.New(),
		RequestedAt: time.Now(),
	}
}

// Hooks - instrumentation callbacks invoked by the scheduler.
//
// Every field is optional; a nil field is a no-op. The struct is copied into
// the Session at construction time, so hooks must not be mutated afterwards.
// Hooks are invoked synchronously on the calling goroutine and must not call
// back into the Session that fired them.
type Hooks struct {
	// ConnectionRequest fires when a GetConnection call begins.
	ConnectionRequest func(baton Baton)
	// ConnectionStart fires when a connection is granted to the requester.
	ConnectionStart func(baton Baton)
	// ConnectionFinish fires exactly once per granted pair when it is
	// released, with the error the holder reported, if any.
	ConnectionFinish func(baton Baton, err error)

	// SessionIdle fires once per idle transition: the pending queue is
	// empty and no connections are held.
	SessionIdle func()

	// TransactionConnectionRequest/Start/Finish mirror the Connection*
	// hooks for connections requested inside a transaction subsession.
	TransactionConnectionRequest func(baton Baton)
	TransactionConnectionStart   func(baton Baton)
	TransactionConnectionFinish  func(baton Baton, err error)

	// TransactionRequest/Start/Finish bracket the transaction wrapper.
	// Start fires after the transaction's connection is granted, before
	// BEGIN. Finish always fires, with the transaction's outcome.
	TransactionRequest func(baton Baton)
	TransactionStart   func(baton Baton)
	TransactionFinish  func(baton Baton, err error)

	// AtomicRequest/Start/Finish bracket the atomic (savepoint) wrapper.
	AtomicRequest func(baton Baton)
	AtomicStart   func(baton Baton)
	AtomicFinish  func(baton Baton, err error)

	// SubsessionStart/Finish fire when a transaction or atomic subsession
	// is created and torn down.
	SubsessionStart  func(parent, child *Session)
	SubsessionFinish func(parent, child *Session)
}

// fireConnectionRequest picks the transaction-scoped variant when the firing
// session is a transaction subsession.
func (s *Session) fireConnectionRequest(baton Baton) {
	if s.kind == kindTransaction && s.hooks.TransactionConnectionRequest != nil {
		s.hooks.TransactionConnectionRequest(baton)
		return
	}
	if s.hooks.ConnectionRequest != nil {
		s.hooks.ConnectionRequest(baton)
	}
}

func (s *Session) fireConnectionStart(baton Baton) {
	if s.kind == kindTransaction && s.hooks.TransactionConnectionStart != nil {
		s.hooks.TransactionConnectionStart(baton)
		return
	}
	if s.hooks.ConnectionStart != nil {
		s.hooks.ConnectionStart(baton)
	}
}

func (s *Session) fireConnectionFinish(baton Baton, err error) {
	if s.kind == kindTransaction && s.hooks.TransactionConnectionFinish != nil {
		s.hooks.TransactionConnectionFinish(baton, err)
		return
	}
	if s.hooks.ConnectionFinish != nil {
		s.hooks.ConnectionFinish(baton, err)
	}
}

func (s *Session) fireSessionIdle() {
	if s.hooks.SessionIdle != nil {
		s.hooks.SessionIdle()
	}
}

func (s *Session) fireTransactionRequest(baton Baton) {
	if s.hooks.TransactionRequest != nil {
		s.hooks.TransactionRequest(baton)
	}
}

func (s *Session) fireTransactionStart(baton Baton) {
	if s.hooks.TransactionStart != nil {
		s.hooks.TransactionStart(baton)
	}
}

func (s *Session) fireTransactionFinish(baton Baton, err error) {
	if s.hooks.TransactionFinish != nil {
		s.hooks.TransactionFinish(baton, err)
	}
}

func (s *Session) fireAtomicRequest(baton Baton) {
	if s.hooks.AtomicRequest != nil {
		s.hooks.AtomicRequest(baton)
	}
}

func (s *Session) fireAtomicStart(baton Baton) {
	if s.hooks.AtomicStart != nil {
		s.hooks.AtomicStart(baton)
	}
}

func (s *Session) fireAtomicFinish(baton Baton, err error) {
	if s.hooks.AtomicFinish != nil {
		s.hooks.AtomicFinish(baton, err)
	}
}

func (s *Session) fireSubsessionStart(child *Session) {
	if s.hooks.SubsessionStart != nil {
		s.hooks.SubsessionStart(s, child)
	}
}

func (s *Session) fireSubsessionFinish(child *Session) {
	if s.hooks.SubsessionFinish != nil {
		s.hooks.SubsessionFinish(s, child)
	}
}
