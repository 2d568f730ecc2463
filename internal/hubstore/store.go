package hubstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pmhub/hubsync/internal/hub"
)

// VersionConflictError reports a failed expected-version precondition on a
// replacement write. The store never applies the precondition unless the
// caller opted in; the default write path stays last-writer-wins.
type VersionConflictError struct {
	ExpectedVersion string
	CurrentVersion  string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %q, current %q", e.ExpectedVersion, e.CurrentVersion)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == hub.ErrVersionConflict
}

// DocumentBackend persists the single authoritative document.
type DocumentBackend interface {
	Load() (*hub.StateDocument, error)
	Save(doc *hub.StateDocument) error
}

type backendCloser interface {
	Close() error
}

// ReplaceOptions carries the optional expected-version precondition: when
// ExpectedVersion is set, the write fails with a VersionConflictError unless
// it matches the current document's lastModified.
type ReplaceOptions struct {
	ExpectedVersion string
}

// MessageRecord is one entry of the task-chat sub-collection that lives next
// to the document under <documentKey>/messages.
type MessageRecord struct {
	ID        string   `json:"id"`
	UserID    string   `json:"userId"`
	UserName  string   `json:"userName"`
	Text      string   `json:"text"`
	Timestamp string   `json:"timestamp"`
	ReadBy    []string `json:"readBy"`
}

type StoreOptions struct {
	Backend   DocumentBackend
	StateFile string
	// WatchBuffer sizes each watcher's snapshot channel. A watcher that
	// cannot keep up loses intermediate snapshots, never the newest one.
	WatchBuffer int
	Logger      Logger
}

type Logger interface {
	Printf(format string, args ...any)
}

// Store holds the authoritative StateDocument and fans replacement snapshots
// out to watchers. Writes are full-document replacements; there is no
// partial-merge path.
type Store struct {
	mu          sync.RWMutex
	doc         *hub.StateDocument
	messages    []MessageRecord
	backend     DocumentBackend
	watchers    map[uint64]chan *hub.StateDocument
	nextWatchID uint64
	watchBuffer int
	logger      Logger
	closed      chan struct{}
	closeOnce   sync.Once
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	backend := opts.Backend
	if backend == nil && strings.TrimSpace(opts.StateFile) != "" {
		backend = NewJSONFileDocumentBackend(opts.StateFile)
	}
	watchBuffer := opts.WatchBuffer
	if watchBuffer <= 0 {
		watchBuffer = 8
	}
	s := &Store{
		backend:     backend,
		watchers:    map[uint64]chan *hub.StateDocument{},
		watchBuffer: watchBuffer,
		logger:      opts.Logger,
		closed:      make(chan struct{}),
	}
	if backend != nil {
		doc, err := backend.Load()
		if err != nil {
			s.logf("document backend load failed: %v", err)
		} else if doc != nil {
			s.doc = doc
		}
	}
	return s
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		for id, ch := range s.watchers {
			close(ch)
			delete(s.watchers, id)
		}
		s.mu.Unlock()
		if closer, ok := s.backend.(backendCloser); ok && closer != nil {
			_ = closer.Close()
		}
	})
}

// Get returns a deep copy of the current document, or ErrDocumentMissing
// when the hub has never been provisioned.
func (s *Store) Get() (*hub.StateDocument, error) {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()
	if doc == nil {
		return nil, hub.ErrDocumentMissing
	}
	clone, err := doc.Clone()
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// Version returns the current document's lastModified stamp, empty when the
// document is absent.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return ""
	}
	return s.doc.LastModified
}

// Replace installs a full replacement of the document, persists it through
// the backend, and delivers the new snapshot to every watcher. The write is
// blind unless opts.ExpectedVersion asks for the precondition.
func (s *Store) Replace(doc *hub.StateDocument, opts ReplaceOptions) error {
	if doc == nil {
		return hub.ErrInvalidInput
	}
	clone, err := doc.Clone()
	if err != nil {
		return fmt.Errorf("%w: %v", hub.ErrWriteFailed, err)
	}

	s.mu.Lock()
	if opts.ExpectedVersion != "" {
		current := ""
		if s.doc != nil {
			current = s.doc.LastModified
		}
		if opts.ExpectedVersion != current {
			s.mu.Unlock()
			return &VersionConflictError{
				ExpectedVersion: opts.ExpectedVersion,
				CurrentVersion:  current,
			}
		}
	}
	if s.backend != nil {
		if err := s.backend.Save(clone); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", hub.ErrWriteFailed, err)
		}
	}
	s.doc = clone
	// Fanout happens under the lock: sends are non-blocking and watcher
	// channels are only ever closed while the lock is held.
	for _, ch := range s.watchers {
		snapshot, cloneErr := clone.Clone()
		if cloneErr != nil {
			continue
		}
		deliverSnapshot(ch, snapshot)
	}
	s.mu.Unlock()
	return nil
}

// deliverSnapshot keeps only the newest snapshot when a watcher's buffer is
// full: the oldest queued one is dropped to make room.
func deliverSnapshot(ch chan *hub.StateDocument, snapshot *hub.StateDocument) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Watch registers a snapshot subscription. The current document (when
// present) is delivered immediately; every accepted replacement follows. The
// channel closes when ctx ends or the store shuts down.
func (s *Store) Watch(ctx context.Context) <-chan *hub.StateDocument {
	ch := make(chan *hub.StateDocument, s.watchBuffer)

	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		close(ch)
		return ch
	default:
	}
	id := s.nextWatchID
	s.nextWatchID++
	s.watchers[id] = ch
	if s.doc != nil {
		if snapshot, err := s.doc.Clone(); err == nil {
			ch <- snapshot
		}
	}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
			return
		}
		s.mu.Lock()
		if watcher, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(watcher)
		}
		s.mu.Unlock()
	}()
	return ch
}

// AppendMessage adds an entry to the task-chat sub-collection.
func (s *Store) AppendMessage(msg MessageRecord) (MessageRecord, error) {
	if strings.TrimSpace(msg.Text) == "" || strings.TrimSpace(msg.UserID) == "" {
		return MessageRecord{}, hub.ErrInvalidInput
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{msg.UserID}
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg, nil
}

// ListMessages returns the sub-collection in append order.
func (s *Store) ListMessages() []MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MessageRecord, len(s.messages))
	copy(out, s.messages)
	return out
}

// MarkMessageRead records a reader on a message's read receipt list.
func (s *Store) MarkMessageRead(messageID, userID string) error {
	if messageID == "" || userID == "" {
		return hub.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID != messageID {
			continue
		}
		for _, reader := range s.messages[i].ReadBy {
			if reader == userID {
				return nil
			}
		}
		s.messages[i].ReadBy = append(s.messages[i].ReadBy, userID)
		return nil
	}
	return hub.ErrDocumentMissing
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// JSONFileDocumentBackend keeps the document as one JSON file, written
// atomically via a temp file and rename.
type JSONFileDocumentBackend struct {
	Path string
}

func NewJSONFileDocumentBackend(path string) *JSONFileDocumentBackend {
	return &JSONFileDocumentBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileDocumentBackend) Load() (*hub.StateDocument, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var doc hub.StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *JSONFileDocumentBackend) Save(doc *hub.StateDocument) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || doc == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

// InMemoryDocumentBackend holds a deep copy of the last saved document.
type InMemoryDocumentBackend struct {
	mu       sync.Mutex
	snapshot *hub.StateDocument
}

func NewInMemoryDocumentBackend() *InMemoryDocumentBackend {
	return &InMemoryDocumentBackend{}
}

func (b *InMemoryDocumentBackend) Load() (*hub.StateDocument, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return b.snapshot.Clone()
}

func (b *InMemoryDocumentBackend) Save(doc *hub.StateDocument) error {
	if b == nil || doc == nil {
		return nil
	}
	clone, err := doc.Clone()
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.snapshot = clone
	b.mu.Unlock()
	return nil
}
