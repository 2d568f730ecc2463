package syncclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pmhub/hubsync/internal/hub"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRemote struct {
	mu        sync.Mutex
	doc       *hub.StateDocument
	loads     atomic.Int64
	saves     atomic.Int64
	failLoads bool
	failSaves bool
	snapshots chan *hub.StateDocument
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{snapshots: make(chan *hub.StateDocument, 16)}
}

func (r *fakeRemote) LoadState(ctx context.Context) (*hub.StateDocument, error) {
	r.loads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoads {
		return nil, hub.ErrStoreUnavailable
	}
	if r.doc == nil {
		return nil, hub.ErrDocumentMissing
	}
	return r.doc.Clone()
}

func (r *fakeRemote) SaveState(ctx context.Context, doc *hub.StateDocument) error {
	r.saves.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaves {
		return errors.New("save rejected")
	}
	clone, err := doc.Clone()
	if err != nil {
		return err
	}
	r.doc = clone
	return nil
}

func (r *fakeRemote) WatchState(ctx context.Context) (<-chan *hub.StateDocument, error) {
	return r.snapshots, nil
}

func (r *fakeRemote) setDocument(doc *hub.StateDocument) {
	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
}

func (r *fakeRemote) setFailLoads(fail bool) {
	r.mu.Lock()
	r.failLoads = fail
	r.mu.Unlock()
}

func (r *fakeRemote) lastSaved() *hub.StateDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

func projectFixture() *hub.StateDocument {
	doc := (&hub.StateDocument{}).Sanitized()
	doc.Projects = []hub.Project{
		{ID: "p1", Name: "Harbor refit", Areas: []hub.Area{
			{ID: "a1", Name: "Planning", Tasks: []hub.Task{
				{ID: "t1", Name: "Scope survey"},
				{ID: "t2", Name: "Budget", Children: []hub.Task{
					{ID: "t3", Name: "Quotes"},
				}},
			}},
		}},
	}
	return doc
}

func waitForSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func expectNoSignal(t *testing.T, ch <-chan struct{}, wait time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(wait):
	}
}
