package syncclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pmhub/hubsync/internal/hub"
)

// ListenerState is the listener's lifecycle. Disposed is terminal.
type ListenerState int32

const (
	StateInitializing ListenerState = iota
	StateListening
	StateDisposed
)

func (s ListenerState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateListening:
		return "listening"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

const defaultEchoGrace = 500 * time.Millisecond

// UpdateMeta describes an accepted external change event.
type UpdateMeta struct {
	// Source is "remote" for snapshot-stream events, "broadcast" for
	// same-machine bus events.
	Source    string
	Section   string
	SyncedBy  string
	Timestamp int64
	WriteSeq  uint64
	WriterID  string
}

type ChangeListenerOptions struct {
	Remote RemoteClient
	Bus    BroadcastBus
	Mirror *Mirror
	// Writer supplies the last successful write moment for echo detection.
	Writer *SyncWriter
	User   hub.User
	// SourceLabel identifies this client instance on the broadcast bus.
	SourceLabel string
	// EchoGrace is how long after our own write a remote event carrying our
	// display name is treated as an echo. Defaults to 500ms.
	EchoGrace     time.Duration
	OnStateUpdate func(*hub.StateDocument, UpdateMeta)
	Notifier      *NotificationBatcher
	Now           func() time.Time
	Logger        Logger
}

// ChangeListener merges the remote snapshot stream and the local broadcast
// bus into one ordered event stream. A single lastSeen millisecond gate,
// shared across both sources, rejects anything not strictly newer; echoes of
// our own writes advance the gate without firing the callback.
type ChangeListener struct {
	remote      RemoteClient
	bus         BroadcastBus
	mirror      *Mirror
	writer      *SyncWriter
	user        hub.User
	sourceLabel string
	echoGrace   time.Duration
	onUpdate    func(*hub.StateDocument, UpdateMeta)
	notifier    *NotificationBatcher
	now         func() time.Time
	logger      Logger

	state    atomic.Int32
	lastSeen atomic.Int64

	// lastActivityID tracks the log tail across accepted events; only the
	// event-processing goroutine touches it.
	lastActivityID string

	events      chan syncEvent
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}
	disposeOnce sync.Once
}

type syncEvent struct {
	remote    *hub.StateDocument
	broadcast *BroadcastMessage
}

func NewChangeListener(opts ChangeListenerOptions) *ChangeListener {
	echoGrace := opts.EchoGrace
	if echoGrace <= 0 {
		echoGrace = defaultEchoGrace
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &ChangeListener{
		remote:      opts.Remote,
		bus:         opts.Bus,
		mirror:      opts.Mirror,
		writer:      opts.Writer,
		user:        opts.User,
		sourceLabel: opts.SourceLabel,
		echoGrace:   echoGrace,
		onUpdate:    opts.OnStateUpdate,
		notifier:    opts.Notifier,
		now:         now,
		logger:      opts.Logger,
		events:      make(chan syncEvent, 32),
		done:        make(chan struct{}),
	}
	l.state.Store(int32(StateInitializing))
	return l
}

// Start subscribes both sources and begins processing. It can run only once.
func (l *ChangeListener) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateInitializing), int32(StateListening)) {
		return hub.ErrDisposed
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	if l.bus != nil {
		unsubscribe, err := l.bus.Subscribe(l.sourceLabel, func(msg BroadcastMessage) {
			l.push(syncEvent{broadcast: &msg})
		})
		if err != nil {
			cancel()
			l.state.Store(int32(StateDisposed))
			return err
		}
		l.unsubscribe = unsubscribe
	}

	if l.remote != nil {
		snapshots, err := l.remote.WatchState(runCtx)
		if err != nil {
			if l.unsubscribe != nil {
				l.unsubscribe()
			}
			cancel()
			l.state.Store(int32(StateDisposed))
			return err
		}
		go func() {
			for doc := range snapshots {
				l.push(syncEvent{remote: doc})
			}
		}()
	}

	go l.run(runCtx)
	return nil
}

func (l *ChangeListener) push(event syncEvent) {
	select {
	case l.events <- event:
	default:
		l.logf("event queue full, dropping change event")
	}
}

func (l *ChangeListener) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case event := <-l.events:
			l.process(event)
		case <-ctx.Done():
			return
		}
	}
}

func (l *ChangeListener) process(event syncEvent) {
	if l.State() == StateDisposed {
		return
	}
	switch {
	case event.remote != nil:
		l.processRemote(event.remote)
	case event.broadcast != nil:
		l.processBroadcast(*event.broadcast)
	}
}

func (l *ChangeListener) processRemote(doc *hub.StateDocument) {
	ts := doc.ModifiedMillis()
	if !l.advance(ts) {
		return
	}
	activity := l.freshActivity(doc)
	if l.isEcho(doc) {
		// The gate already moved, so an older external update arriving after
		// the echo is still correctly treated as stale.
		return
	}

	if l.mirror != nil {
		if err := l.mirror.Write(doc); err != nil {
			l.logf("mirror refresh failed: %v", err)
		}
	}
	meta := UpdateMeta{
		Source:    "remote",
		SyncedBy:  doc.LastSyncedBy,
		Timestamp: ts,
		WriteSeq:  doc.WriteSeq,
		WriterID:  doc.WriterID,
	}
	if l.onUpdate != nil {
		l.onUpdate(doc, meta)
	}
	if l.notifier != nil && activity != nil {
		l.notifier.Enqueue(*activity)
	}
}

// freshActivity returns the log tail when this event appended it. A write
// that added no activity keeps the previous tail, which must not resurface
// as a new notification.
func (l *ChangeListener) freshActivity(doc *hub.StateDocument) *hub.Activity {
	tail := doc.LatestActivity()
	if tail == nil || tail.ID == "" || tail.ID == l.lastActivityID {
		return nil
	}
	l.lastActivityID = tail.ID
	return tail
}

func (l *ChangeListener) processBroadcast(msg BroadcastMessage) {
	if msg.Type != MessageTypeStateUpdated {
		return
	}
	if msg.Source == l.sourceLabel {
		return
	}
	if !l.advance(msg.Timestamp) {
		return
	}

	// The originating sibling already refreshed the mirror; trust it over
	// the broadcast payload.
	var state *hub.StateDocument
	if l.mirror != nil {
		doc, err := l.mirror.Read()
		if err != nil {
			l.logf("mirror read failed: %v", err)
		} else {
			state = doc
		}
	}
	if state == nil {
		// Without the mirror's copy the UI never sees this change; a
		// notification for it would be misleading.
		return
	}
	meta := UpdateMeta{
		Source:    "broadcast",
		Section:   msg.Section,
		SyncedBy:  msg.SyncedBy,
		Timestamp: msg.Timestamp,
	}
	if l.onUpdate != nil {
		l.onUpdate(state, meta)
	}
	if l.notifier != nil && msg.Activity != nil && msg.Activity.ID != l.lastActivityID {
		l.lastActivityID = msg.Activity.ID
		l.notifier.Enqueue(*msg.Activity)
	}
}

// advance moves the shared gate to ts when ts is strictly newer, reporting
// whether the event passed.
func (l *ChangeListener) advance(ts int64) bool {
	for {
		last := l.lastSeen.Load()
		if ts <= last {
			return false
		}
		if l.lastSeen.CompareAndSwap(last, ts) {
			return true
		}
	}
}

func (l *ChangeListener) isEcho(doc *hub.StateDocument) bool {
	if doc.LastSyncedBy == "" || doc.LastSyncedBy != l.user.Name {
		return false
	}
	if l.writer == nil {
		return false
	}
	lastWrite := l.writer.LastWriteAt()
	if lastWrite.IsZero() {
		return false
	}
	elapsed := l.now().Sub(lastWrite)
	if elapsed < 0 {
		elapsed = -elapsed
	}
	return elapsed <= l.echoGrace
}

// LastSeen reports the gate's current millisecond timestamp.
func (l *ChangeListener) LastSeen() int64 {
	return l.lastSeen.Load()
}

// SeedLastSeen primes the gate, typically from the mirror's lastModified,
// so a replayed snapshot at startup is not treated as fresh.
func (l *ChangeListener) SeedLastSeen(ts int64) {
	l.advance(ts)
}

func (l *ChangeListener) State() ListenerState {
	return ListenerState(l.state.Load())
}

// Dispose unsubscribes both sources. Terminal and irreversible.
func (l *ChangeListener) Dispose() {
	l.disposeOnce.Do(func() {
		previous := ListenerState(l.state.Swap(int32(StateDisposed)))
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		if l.cancel != nil {
			l.cancel()
		}
		if previous == StateListening {
			<-l.done
		}
	})
}

func (l *ChangeListener) logf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}
