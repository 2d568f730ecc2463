package syncclient

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pmhub/hubsync/internal/hub"
)

const (
	defaultDebounceWindow = 2 * time.Second
	defaultMaxQueued      = 256
)

// Notification is one user-facing item emitted after a debounce window. A
// burst from one user collapses into a single "N updates" summary.
type Notification struct {
	UserName string
	Message  string
	Count    int
	Type     string
	Severity string
}

type NotificationBatcherOptions struct {
	// LocalUser is the acting user's display name; their own activities are
	// never queued.
	LocalUser string
	// Window is the debounce window started by the first enqueue. Defaults
	// to 2s.
	Window   time.Duration
	MaxQueue int
	Emit     func([]Notification)
	// StartTimer schedules the flush and returns a stop function. Tests
	// inject a manual trigger here; the default is time.AfterFunc.
	StartTimer func(d time.Duration, fn func()) func()
}

// NotificationBatcher coalesces change activities into at most one visible
// notification per originating user per debounce window.
type NotificationBatcher struct {
	localUser  string
	window     time.Duration
	maxQueue   int
	emit       func([]Notification)
	startTimer func(d time.Duration, fn func()) func()

	mu        sync.Mutex
	queue     []hub.Activity
	stopTimer func()
}

func NewNotificationBatcher(opts NotificationBatcherOptions) *NotificationBatcher {
	window := opts.Window
	if window <= 0 {
		window = defaultDebounceWindow
	}
	maxQueue := opts.MaxQueue
	if maxQueue <= 0 {
		maxQueue = defaultMaxQueued
	}
	startTimer := opts.StartTimer
	if startTimer == nil {
		startTimer = func(d time.Duration, fn func()) func() {
			timer := time.AfterFunc(d, fn)
			return func() { timer.Stop() }
		}
	}
	return &NotificationBatcher{
		localUser:  opts.LocalUser,
		window:     window,
		maxQueue:   maxQueue,
		emit:       opts.Emit,
		startTimer: startTimer,
	}
}

// Enqueue queues an activity for the next flush. Activities by the local
// acting user are ignored.
func (b *NotificationBatcher) Enqueue(activity hub.Activity) {
	if activity.UserName == "" || activity.UserName == b.localUser {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) >= b.maxQueue {
		return
	}
	b.queue = append(b.queue, activity)
	if b.stopTimer == nil {
		b.stopTimer = b.startTimer(b.window, b.Flush)
	}
}

// Flush groups the queue by user and emits one notification per user.
func (b *NotificationBatcher) Flush() {
	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	if b.stopTimer != nil {
		stop := b.stopTimer
		b.stopTimer = nil
		defer stop()
	}
	b.mu.Unlock()

	if len(queue) == 0 || b.emit == nil {
		return
	}

	order := []string{}
	grouped := map[string][]hub.Activity{}
	for _, activity := range queue {
		if _, seen := grouped[activity.UserName]; !seen {
			order = append(order, activity.UserName)
		}
		grouped[activity.UserName] = append(grouped[activity.UserName], activity)
	}

	notifications := make([]Notification, 0, len(order))
	for _, userName := range order {
		activities := grouped[userName]
		first := activities[0]
		message := first.Message
		if len(activities) > 1 {
			message = fmt.Sprintf("%d updates", len(activities))
		}
		notifications = append(notifications, Notification{
			UserName: userName,
			Message:  message,
			Count:    len(activities),
			Type:     first.Type,
			Severity: severityForType(first.Type),
		})
	}
	b.emit(notifications)
}

// Stop cancels a pending flush and drops whatever is queued.
func (b *NotificationBatcher) Stop() {
	b.mu.Lock()
	stop := b.stopTimer
	b.stopTimer = nil
	b.queue = nil
	b.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func severityForType(activityType string) string {
	switch strings.ToUpper(activityType) {
	case "TASK_COMPLETE", "AREA_COMPLETE", "TOOL_CHECKIN":
		return "success"
	case "AWAITING_TASKS":
		return "warning"
	default:
		return "info"
	}
}
