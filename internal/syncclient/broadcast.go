package syncclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/pmhub/hubsync/internal/hub"
)

// ChannelName is the logical cross-tab channel all clients share.
const ChannelName = "pm_hub_state"

const MessageTypeStateUpdated = "STATE_UPDATED"

// BroadcastMessage announces a local-process write to same-machine siblings.
// Timestamp is the sender's wall-clock send time in epoch milliseconds.
type BroadcastMessage struct {
	Type      string        `json:"type"`
	Source    string        `json:"source"`
	Section   string        `json:"section"`
	SyncedBy  string        `json:"syncedBy"`
	Activity  *hub.Activity `json:"activity,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// BroadcastBus carries BroadcastMessages between same-machine client
// instances. A bus never delivers a message back to the source label that
// sent it; the listener enforces the same drop a second time.
type BroadcastBus interface {
	Broadcast(msg BroadcastMessage) error
	Subscribe(label string, handler func(BroadcastMessage)) (func(), error)
	Close() error
}

// InProcessBus connects listeners inside one process. Used by tests and by
// multi-window apps hosting several client instances in one binary.
type InProcessBus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]busSubscriber
	closed   bool
}

type busSubscriber struct {
	label   string
	handler func(BroadcastMessage)
}

func NewInProcessBus() *InProcessBus {
	return &InProcessBus{handlers: map[uint64]busSubscriber{}}
}

func (b *InProcessBus) Broadcast(msg BroadcastMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return hub.ErrDisposed
	}
	subscribers := make([]busSubscriber, 0, len(b.handlers))
	for _, sub := range b.handlers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	for _, sub := range subscribers {
		if sub.label != "" && sub.label == msg.Source {
			continue
		}
		sub.handler(msg)
	}
	return nil
}

func (b *InProcessBus) Subscribe(label string, handler func(BroadcastMessage)) (func(), error) {
	if handler == nil {
		return nil, hub.ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, hub.ErrDisposed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = busSubscriber{label: label, handler: handler}
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

func (b *InProcessBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = map[uint64]busSubscriber{}
	b.mu.Unlock()
	return nil
}

type SpoolBusOptions struct {
	Dir string
	// SweepAge is how old a spool file may grow before the next Broadcast
	// removes it. Defaults to one minute.
	SweepAge time.Duration
	Logger   Logger
}

// SpoolBus is the cross-process bus: every message becomes a uniquely named
// JSON file in a shared directory, and siblings pick new files up through
// fsnotify create events.
type SpoolBus struct {
	dir      string
	sweepAge time.Duration
	logger   Logger

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	subscribers map[uint64]busSubscriber
	nextID      uint64
	closed      bool
	closeOnce   sync.Once
	done        chan struct{}
}

func NewSpoolBus(opts SpoolBusOptions) (*SpoolBus, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: spool directory required", hub.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	sweepAge := opts.SweepAge
	if sweepAge <= 0 {
		sweepAge = time.Minute
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	bus := &SpoolBus{
		dir:         dir,
		sweepAge:    sweepAge,
		logger:      opts.Logger,
		watcher:     watcher,
		subscribers: map[uint64]busSubscriber{},
		done:        make(chan struct{}),
	}
	go bus.run()
	return bus, nil
}

func (b *SpoolBus) run() {
	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			b.deliverFile(event.Name)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logf("spool watcher error: %v", err)
		case <-b.done:
			return
		}
	}
}

func (b *SpoolBus) deliverFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logf("spool read failed: %v", err)
		}
		return
	}
	var msg BroadcastMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logf("spool message malformed: %v", err)
		return
	}

	b.mu.Lock()
	subscribers := make([]busSubscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	for _, sub := range subscribers {
		if sub.label != "" && sub.label == msg.Source {
			continue
		}
		sub.handler(msg)
	}
}

func (b *SpoolBus) Broadcast(msg BroadcastMessage) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return hub.ErrDisposed
	}

	b.sweepStale()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	name := ChannelName + "-" + uuid.NewString() + ".json"
	final := filepath.Join(b.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	// The rename surfaces as a create event on the .json name, so siblings
	// never observe a half-written file.
	return os.Rename(tmp, final)
}

func (b *SpoolBus) Subscribe(label string, handler func(BroadcastMessage)) (func(), error) {
	if handler == nil {
		return nil, hub.ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, hub.ErrDisposed
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = busSubscriber{label: label, handler: handler}
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}, nil
}

func (b *SpoolBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.subscribers = map[uint64]busSubscriber{}
		b.mu.Unlock()
		close(b.done)
		err = b.watcher.Close()
	})
	return err
}

func (b *SpoolBus) sweepStale() {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-b.sweepAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(b.dir, entry.Name()))
		}
	}
}

func (b *SpoolBus) logf(format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Printf(format, args...)
}
