package hub

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDocumentMissing  = errors.New("document missing")
	ErrWriteFailed      = errors.New("write failed")
	ErrVersionConflict  = errors.New("version conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDisposed         = errors.New("disposed")
)

const (
	// DocumentKey is the fixed composite key of the single shared document.
	DocumentKey = "hubs/main"

	// MaxActivityLog caps the activity log; oldest entries are evicted first.
	MaxActivityLog = 500
)

// StateDocument is the single shared record of truth. It is only ever
// replaced in full by the authoritative writer, never merged field by field.
type StateDocument struct {
	Projects []Project `json:"projects"`

	OurTeam    []Record `json:"ourTeam"`
	ClientTeam []Record `json:"clientTeam"`
	Clients    []Record `json:"clients"`
	Tools      []Record `json:"tools"`

	ActivityLog []Activity `json:"activityLog"`

	TimeEntries        []Record `json:"timeEntries"`
	Reports            []Record `json:"reports"`
	Notifications      []Record `json:"notifications"`
	UsedProjectNumbers []Record `json:"usedProjectNumbers"`
	FolderTemplate     []Record `json:"folderTemplate"`

	Settings        map[string]any `json:"settings"`
	Modules         map[string]any `json:"modules"`
	CalendarFilters map[string]any `json:"calendarFilters"`

	// LastModified is the system's sole ordering key: an ISO-8601 string,
	// monotonically non-decreasing by convention only.
	LastModified string `json:"lastModified"`
	// LastSyncedBy is the writer's display name. Used for echo detection and
	// attribution, never as an identity credential.
	LastSyncedBy string `json:"lastSyncedBy"`

	// WriteSeq and WriterID form a per-writer logical stamp recorded on every
	// write. They disambiguate duplicate events; ordering acceptance remains
	// wall-clock based.
	WriteSeq uint64 `json:"writeSeq,omitempty"`
	WriterID string `json:"writerId,omitempty"`
}

// Activity is an immutable, append-only audit record. Its ID is a
// millisecond-derived token; same-millisecond collisions are tolerated.
type Activity struct {
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	UserID      string         `json:"userId,omitempty"`
	UserName    string         `json:"userName,omitempty"`
	Source      string         `json:"source,omitempty"`
	ProjectID   string         `json:"projectId,omitempty"`
	ProjectName string         `json:"projectName,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// User identifies the acting person on a client instance.
type User struct {
	ID   string
	Name string
}

func NewActivity(now time.Time, activityType, message string, user User, source string) Activity {
	return Activity{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Type:      activityType,
		Message:   message,
		UserID:    user.ID,
		UserName:  user.Name,
		Source:    source,
	}
}

// Sanitized returns a copy holding only the recognized top-level collections,
// with nil sequences normalized to empty ones and default configuration maps
// filled in. Decoding into StateDocument already drops unrecognized fields;
// this normalization is the rest of the allow-list contract.
func (d *StateDocument) Sanitized() *StateDocument {
	if d == nil {
		return &StateDocument{}
	}
	out := *d
	out.Projects = notNilProjects(d.Projects)
	out.OurTeam = notNilRecords(d.OurTeam)
	out.ClientTeam = notNilRecords(d.ClientTeam)
	out.Clients = notNilRecords(d.Clients)
	out.Tools = notNilRecords(d.Tools)
	out.ActivityLog = notNilActivities(d.ActivityLog)
	out.TimeEntries = notNilRecords(d.TimeEntries)
	out.Reports = notNilRecords(d.Reports)
	out.Notifications = notNilRecords(d.Notifications)
	out.UsedProjectNumbers = notNilRecords(d.UsedProjectNumbers)
	out.FolderTemplate = notNilRecords(d.FolderTemplate)
	if out.Settings == nil {
		out.Settings = map[string]any{}
	}
	if out.Modules == nil {
		out.Modules = map[string]any{}
	}
	if out.CalendarFilters == nil {
		out.CalendarFilters = map[string]any{"type": "all", "project": "all"}
	}
	return &out
}

// CapActivityLog drops the oldest entries once the log exceeds MaxActivityLog.
func (d *StateDocument) CapActivityLog() {
	if d == nil || len(d.ActivityLog) <= MaxActivityLog {
		return
	}
	d.ActivityLog = append([]Activity(nil), d.ActivityLog[len(d.ActivityLog)-MaxActivityLog:]...)
}

// LatestActivity returns the tail of the activity log, or nil when empty.
func (d *StateDocument) LatestActivity() *Activity {
	if d == nil || len(d.ActivityLog) == 0 {
		return nil
	}
	tail := d.ActivityLog[len(d.ActivityLog)-1]
	return &tail
}

// ModifiedMillis parses LastModified as epoch milliseconds; zero when absent
// or unparseable.
func (d *StateDocument) ModifiedMillis() int64 {
	if d == nil {
		return 0
	}
	return ParseTimestampMillis(d.LastModified)
}

func ParseTimestampMillis(value string) int64 {
	if value == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return 0
		}
	}
	return ts.UnixMilli()
}

// Clone deep-copies the document via a JSON round trip.
func (d *StateDocument) Clone() (*StateDocument, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out StateDocument
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func notNilProjects(in []Project) []Project {
	if in == nil {
		return []Project{}
	}
	return in
}

func notNilRecords(in []Record) []Record {
	if in == nil {
		return []Record{}
	}
	return in
}

func notNilActivities(in []Activity) []Activity {
	if in == nil {
		return []Activity{}
	}
	return in
}
