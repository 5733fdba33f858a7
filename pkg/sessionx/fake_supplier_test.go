package sessionx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/isabella232/pg-db-session/pkg/sessionx"
)

// fakeHandle - in-memory stand-in for one database connection.
type fakeHandle struct {
	id       int
	supplier *fakeSupplier
}

func (h *fakeHandle) Exec(ctx context.Context, sql string, args ...any) error {
	h.supplier.mu.Lock()
	defer h.supplier.mu.Unlock()

	h.supplier.execs = append(h.supplier.execs, sql)
	h.supplier.execConns = append(h.supplier.execConns, h.id)

	if err, ok := h.supplier.failExec[sql]; ok {
		delete(h.supplier.failExec, sql)
		return err
	}

	return nil
}

type releaseRecord struct {
	id  int
	err error
}

// fakeSupplier - sessionx.Supplier that mints numbered fake connections and
// records every acquisition, release and statement for assertions.
type fakeSupplier struct {
	mu             sync.Mutex
	nextID         int
	acquired       int
	outstanding    int
	maxOutstanding int
	released       []releaseRecord
	failNextAcq    []error
	failExec       map[string]error
	execs          []string
	execConns      []int
}

func newFakeSupplier() *fakeSupplier {
	return &fakeSupplier{failExec: map[string]error{}}
}

func (f *fakeSupplier) Acquire(ctx context.Context) (sessionx.Handle, sessionx.ReleaseFunc, error) {
	f.mu.Lock()
	if len(f.failNextAcq) > 0 {
		err := f.failNextAcq[0]
		f.failNextAcq = f.failNextAcq[1:]
		f.mu.Unlock()

		return nil, nil, err
	}

	f.nextID++
	id := f.nextID
	f.acquired++
	f.outstanding++
	if f.outstanding > f.maxOutstanding {
		f.maxOutstanding = f.outstanding
	}
	f.mu.Unlock()

	release := func(ctx context.Context, err error) {
		f.mu.Lock()
		f.outstanding--
		f.released = append(f.released, releaseRecord{id: id, err: err})
		f.mu.Unlock()
	}

	return &fakeHandle{id: id, supplier: f}, release, nil
}

func (f *fakeSupplier) failNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextAcq = append(f.failNextAcq, err)
}

func (f *fakeSupplier) failStatement(sql string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failExec[sql] = err
}

func (f *fakeSupplier) stats() (acquired, outstanding, maxOutstanding int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.acquired, f.outstanding, f.maxOutstanding
}

func (f *fakeSupplier) execLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.execs...)
}

func (f *fakeSupplier) releases() []releaseRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]releaseRecord(nil), f.released...)
}

func (f *fakeSupplier) discardedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []int
	for _, rec := range f.released {
		if rec.err != nil {
			ids = append(ids, rec.id)
		}
	}

	return ids
}

// waitForPending polls until the session has n queued requests, so tests can
// enqueue waiters in a deterministic order.
func waitForPending(t *testing.T, s *sessionx.Session, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, pending := s.Stats(); pending == n {
			return
		}
		time.Sleep(time.Millisecond)
	}

	_, pending := s.Stats()
	t.Fatalf("timed out waiting for %d pending requests, have %d", n, pending)
}
