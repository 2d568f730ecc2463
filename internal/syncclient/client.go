package syncclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pmhub/hubsync/internal/hub"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// Remote overrides the HTTP client built from BaseURL/HubID/Token.
	Remote  RemoteClient
	BaseURL string
	HubID   string
	Token   string

	User hub.User
	// AppName labels this client instance on the broadcast bus. When empty,
	// a label derived from the instance id is used.
	AppName    string
	MirrorPath string
	Bus        BroadcastBus
	CacheTTL   time.Duration
	EchoGrace  time.Duration
	Now        func() time.Time
	Logger     Logger
}

// Client is the composition root of the sync core: it owns the user context,
// the instance identity, and the component graph, and exposes the sanctioned
// read/write/listen/broadcast entry points.
type Client struct {
	user        hub.User
	sourceLabel string
	instanceID  string
	remote      RemoteClient
	mirror      *Mirror
	cache       *StateCache
	writer      *SyncWriter
	bus         BroadcastBus
	now         func() time.Time
	echoGrace   time.Duration
	logger      Logger
}

func New(opts Options) (*Client, error) {
	if opts.User.Name == "" {
		return nil, fmt.Errorf("%w: acting user required", hub.ErrInvalidInput)
	}
	remote := opts.Remote
	if remote == nil {
		httpRemote, err := NewHTTPRemote(HTTPRemoteOptions{
			BaseURL: opts.BaseURL,
			HubID:   opts.HubID,
			Token:   opts.Token,
			Logger:  opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		remote = httpRemote
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	instanceID := uuid.NewString()
	sourceLabel := opts.AppName
	if sourceLabel == "" {
		sourceLabel = "hubsync-" + instanceID[:8]
	}

	mirror := NewMirror(opts.MirrorPath)
	cache := NewStateCache(StateCacheOptions{
		Remote: remote,
		Mirror: mirror,
		TTL:    opts.CacheTTL,
		Now:    now,
		Logger: opts.Logger,
	})
	writer := NewSyncWriter(SyncWriterOptions{
		Remote:   remote,
		Cache:    cache,
		Mirror:   mirror,
		User:     opts.User,
		WriterID: instanceID,
		Now:      now,
		Logger:   opts.Logger,
	})

	return &Client{
		user:        opts.User,
		sourceLabel: sourceLabel,
		instanceID:  instanceID,
		remote:      remote,
		mirror:      mirror,
		cache:       cache,
		writer:      writer,
		bus:         opts.Bus,
		now:         now,
		echoGrace:   opts.EchoGrace,
		logger:      opts.Logger,
	}, nil
}

// InstanceID is this client's writer id, stamped on every write.
func (c *Client) InstanceID() string { return c.instanceID }

// SourceLabel is this client's identity on the broadcast bus.
func (c *Client) SourceLabel() string { return c.sourceLabel }

// Read is the sanctioned query entry point.
func (c *Client) Read(ctx context.Context, forceRefresh bool) (*hub.StateDocument, error) {
	return c.cache.GetState(ctx, forceRefresh)
}

// Write is the sanctioned mutation entry point: a full-state write followed,
// on success, by a broadcast to same-machine siblings.
func (c *Client) Write(ctx context.Context, state *hub.StateDocument, section string, activity *hub.Activity) WriteResult {
	result := c.writer.SaveState(ctx, state, section, activity)
	if result.Success {
		c.Broadcast(section, result.Activity)
	}
	return result
}

// Broadcast announces a local write to same-machine siblings. A nil bus
// makes this a no-op.
func (c *Client) Broadcast(section string, activity *hub.Activity) {
	if c.bus == nil {
		return
	}
	err := c.bus.Broadcast(BroadcastMessage{
		Type:      MessageTypeStateUpdated,
		Source:    c.sourceLabel,
		Section:   section,
		SyncedBy:  c.user.Name,
		Activity:  activity,
		Timestamp: c.now().UnixMilli(),
	})
	if err != nil {
		c.logf("broadcast failed: %v", err)
	}
}

// Listen builds and starts the change listener wired to this client's
// components. The caller owns disposal.
func (c *Client) Listen(ctx context.Context, onUpdate func(*hub.StateDocument, UpdateMeta), notifier *NotificationBatcher) (*ChangeListener, error) {
	listener := NewChangeListener(ChangeListenerOptions{
		Remote:        c.remote,
		Bus:           c.bus,
		Mirror:        c.mirror,
		Writer:        c.writer,
		User:          c.user,
		SourceLabel:   c.sourceLabel,
		EchoGrace:     c.echoGrace,
		OnStateUpdate: onUpdate,
		Notifier:      notifier,
		Now:           c.now,
		Logger:        c.logger,
	})
	if mirrored, err := c.mirror.Read(); err == nil && mirrored != nil {
		listener.SeedLastSeen(mirrored.ModifiedMillis())
	}
	if err := listener.Start(ctx); err != nil {
		return nil, err
	}
	return listener, nil
}

// LogActivity appends an audit entry to the activity log and writes.
func (c *Client) LogActivity(ctx context.Context, activityType, message string, data map[string]any) WriteResult {
	state, err := c.Read(ctx, true)
	if err != nil || state == nil {
		return WriteResult{Section: "activity"}
	}
	activity := hub.NewActivity(c.now(), activityType, message, c.user, c.sourceLabel)
	activity.Data = data
	state.ActivityLog = append(state.ActivityLog, activity)
	return c.Write(ctx, state, "activity", &activity)
}

// UpdateTask locates a task by project, area and WBS position, applies field
// updates, and writes. Missing path elements fail the operation.
func (c *Client) UpdateTask(ctx context.Context, projectID, areaID, taskWBS string, updates map[string]any, activityType, activityMessage string) WriteResult {
	state, err := c.Read(ctx, true)
	if err != nil || state == nil {
		return WriteResult{Section: "tasks"}
	}

	task := findTaskInState(state, projectID, areaID, taskWBS)
	if task == nil {
		c.logf("task %s not found in project %s area %s", taskWBS, projectID, areaID)
		return WriteResult{Section: "tasks"}
	}
	applyTaskUpdates(task, updates)

	var activity *hub.Activity
	if activityMessage != "" {
		entry := hub.NewActivity(c.now(), activityType, activityMessage, c.user, c.sourceLabel)
		entry.ProjectID = projectID
		state.ActivityLog = append(state.ActivityLog, entry)
		activity = &entry
	}
	return c.Write(ctx, state, "tasks", activity)
}

// AddTimeEntry appends a time entry and writes.
func (c *Client) AddTimeEntry(ctx context.Context, entry hub.Record) WriteResult {
	state, err := c.Read(ctx, true)
	if err != nil || state == nil {
		return WriteResult{Section: "timeEntries"}
	}
	state.TimeEntries = append(state.TimeEntries, entry)
	return c.Write(ctx, state, "timeEntries", nil)
}

// AddReport appends a report, logs a REPORT activity, and writes.
func (c *Client) AddReport(ctx context.Context, report hub.Record) WriteResult {
	state, err := c.Read(ctx, true)
	if err != nil || state == nil {
		return WriteResult{Section: "reports"}
	}
	state.Reports = append(state.Reports, report)
	message := "submitted a report"
	if report.Name != "" {
		message = "submitted report " + report.Name
	}
	activity := hub.NewActivity(c.now(), "REPORT", message, c.user, c.sourceLabel)
	state.ActivityLog = append(state.ActivityLog, activity)
	return c.Write(ctx, state, "reports", &activity)
}

func findTaskInState(state *hub.StateDocument, projectID, areaID, taskWBS string) *hub.Task {
	for i := range state.Projects {
		if state.Projects[i].ID != projectID {
			continue
		}
		for j := range state.Projects[i].Areas {
			area := &state.Projects[i].Areas[j]
			if area.ID != areaID {
				continue
			}
			return hub.FindTask(area.Tasks, taskWBS)
		}
	}
	return nil
}

func applyTaskUpdates(task *hub.Task, updates map[string]any) {
	for key, value := range updates {
		switch key {
		case "name":
			if name, ok := value.(string); ok {
				task.Name = name
			}
		case "status":
			if status, ok := value.(string); ok {
				task.Status = status
			}
		case "assignee":
			if assignee, ok := value.(string); ok {
				task.Assignee = assignee
			}
		default:
			if task.Extra == nil {
				task.Extra = map[string]any{}
			}
			task.Extra[key] = value
		}
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
