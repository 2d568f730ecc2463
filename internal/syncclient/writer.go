package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/pmhub/hubsync/internal/hub"
)

// WriteResult reports the outcome of a full-state write. Failures carry no
// error detail toward the UI layer; callers decide whether to retry.
type WriteResult struct {
	Success  bool
	Section  string
	Activity *hub.Activity
}

type SyncWriterOptions struct {
	Remote   RemoteClient
	Cache    *StateCache
	Mirror   *Mirror
	User     hub.User
	WriterID string
	Now      func() time.Time
	Logger   Logger
}

// SyncWriter is the only mutation path in the subsystem: it sanitizes the
// payload, recomputes every WBS tree, stamps write metadata, and performs a
// full replacement of the authoritative document.
type SyncWriter struct {
	remote   RemoteClient
	cache    *StateCache
	mirror   *Mirror
	user     hub.User
	writerID string
	now      func() time.Time
	logger   Logger

	mu          sync.Mutex
	writeSeq    uint64
	lastWriteAt time.Time
}

func NewSyncWriter(opts SyncWriterOptions) *SyncWriter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SyncWriter{
		remote:   opts.Remote,
		cache:    opts.Cache,
		mirror:   opts.Mirror,
		user:     opts.User,
		writerID: opts.WriterID,
		now:      now,
		logger:   opts.Logger,
	}
}

// SaveState writes state as the new authoritative document. On success the
// cache and mirror are refreshed and the write moment recorded for echo
// suppression; the returned activity is the supplied one, falling back to the
// tail of the activity log.
func (w *SyncWriter) SaveState(ctx context.Context, state *hub.StateDocument, section string, activity *hub.Activity) WriteResult {
	if state == nil {
		return WriteResult{Section: section}
	}

	doc := state.Sanitized()
	hub.AssignAllWBS(doc)
	doc.CapActivityLog()

	now := w.now()
	w.mu.Lock()
	w.writeSeq++
	seq := w.writeSeq
	w.mu.Unlock()

	doc.LastModified = now.UTC().Format(time.RFC3339Nano)
	doc.LastSyncedBy = w.user.Name
	doc.WriteSeq = seq
	doc.WriterID = w.writerID

	if err := w.remote.SaveState(ctx, doc); err != nil {
		w.logf("state write failed: %v", err)
		return WriteResult{Section: section}
	}

	if w.cache != nil {
		w.cache.Put(doc)
	}
	if w.mirror != nil {
		if err := w.mirror.Write(doc); err != nil {
			w.logf("mirror refresh failed: %v", err)
		}
	}
	w.mu.Lock()
	w.lastWriteAt = now
	w.mu.Unlock()

	result := WriteResult{Success: true, Section: section, Activity: activity}
	if result.Activity == nil {
		result.Activity = doc.LatestActivity()
	}
	return result
}

// LastWriteAt reports the moment of the last successful write, zero when none
// has happened yet.
func (w *SyncWriter) LastWriteAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastWriteAt
}

func (w *SyncWriter) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
