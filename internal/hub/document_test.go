package hub

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"
)

func TestCapActivityLogEvictsOldestFirst(t *testing.T) {
	doc := &StateDocument{}
	for i := 0; i < MaxActivityLog+1; i++ {
		doc.ActivityLog = append(doc.ActivityLog, Activity{ID: strconv.Itoa(i)})
	}
	doc.CapActivityLog()

	if len(doc.ActivityLog) != MaxActivityLog {
		t.Fatalf("expected %d entries after cap, got %d", MaxActivityLog, len(doc.ActivityLog))
	}
	if doc.ActivityLog[0].ID != "1" {
		t.Fatalf("expected oldest entry evicted, head is %q", doc.ActivityLog[0].ID)
	}
	if doc.ActivityLog[len(doc.ActivityLog)-1].ID != strconv.Itoa(MaxActivityLog) {
		t.Fatalf("expected newest entry retained")
	}
}

func TestSanitizedNormalizesCollectionsAndDefaults(t *testing.T) {
	doc := (&StateDocument{}).Sanitized()

	if doc.Projects == nil || doc.Tools == nil || doc.ActivityLog == nil || doc.TimeEntries == nil {
		t.Fatalf("expected nil collections replaced with empty ones")
	}
	if doc.Settings == nil || doc.Modules == nil {
		t.Fatalf("expected configuration maps initialized")
	}
	if doc.CalendarFilters["type"] != "all" || doc.CalendarFilters["project"] != "all" {
		t.Fatalf("expected default calendar filters, got %v", doc.CalendarFilters)
	}
}

func TestDecodeDropsUnrecognizedTopLevelFields(t *testing.T) {
	payload := []byte(`{
		"projects": [],
		"lastModified": "2026-08-30T10:00:00Z",
		"lastSyncedBy": "Alice",
		"uiScratchBuffer": {"open": true},
		"draftText": "unsent"
	}`)
	var doc StateDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	round, err := json.Marshal(doc.Sanitized())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(round, &out); err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if _, leaked := out["uiScratchBuffer"]; leaked {
		t.Fatalf("scratch field leaked through sanitization")
	}
	if _, leaked := out["draftText"]; leaked {
		t.Fatalf("draft field leaked through sanitization")
	}
	if out["lastSyncedBy"] != "Alice" {
		t.Fatalf("expected recognized fields preserved, got %v", out["lastSyncedBy"])
	}
}

func TestRecordRoundTripKeepsExtensionFields(t *testing.T) {
	payload := []byte(`{"id":"tool_7","name":"Laser level","checkedOutBy":"Bob","serial":1234}`)
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if record.ID != "tool_7" || record.Name != "Laser level" {
		t.Fatalf("known fields not extracted: %+v", record)
	}
	if record.Extra["checkedOutBy"] != "Bob" {
		t.Fatalf("extension field lost: %v", record.Extra)
	}

	round, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(round, &out); err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if out["id"] != "tool_7" || out["checkedOutBy"] != "Bob" || out["serial"] != float64(1234) {
		t.Fatalf("round trip lost fields: %v", out)
	}
}

func TestTaskRoundTripKeepsChildrenAndExtras(t *testing.T) {
	payload := []byte(`{
		"name": "Framing",
		"wbs": "2",
		"status": "in_progress",
		"dueDate": "2026-09-15",
		"children": [{"name": "Walls", "wbs": "2.1", "crewSize": 4}]
	}`)
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if task.WBS != "2" || task.Status != "in_progress" {
		t.Fatalf("known fields not extracted: %+v", task)
	}
	if len(task.Children) != 1 || task.Children[0].Extra["crewSize"] != float64(4) {
		t.Fatalf("children not preserved: %+v", task.Children)
	}
	if task.Extra["dueDate"] != "2026-09-15" {
		t.Fatalf("extension field lost: %v", task.Extra)
	}

	round, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var again Task
	if err := json.Unmarshal(round, &again); err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if again.Children[0].Name != "Walls" || again.Extra["dueDate"] != "2026-09-15" {
		t.Fatalf("round trip lost data: %+v", again)
	}
}

func TestModifiedMillisParsesISOTimestamps(t *testing.T) {
	doc := &StateDocument{LastModified: "2026-08-30T10:00:00.250Z"}
	want := time.Date(2026, 8, 30, 10, 0, 0, 250_000_000, time.UTC).UnixMilli()
	if got := doc.ModifiedMillis(); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
	if (&StateDocument{LastModified: "not a timestamp"}).ModifiedMillis() != 0 {
		t.Fatalf("expected zero for unparseable timestamp")
	}
	if (&StateDocument{}).ModifiedMillis() != 0 {
		t.Fatalf("expected zero for empty timestamp")
	}
}

func TestNewActivityDerivesMillisecondID(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	activity := NewActivity(now, "TASK_COMPLETE", "Pour foundation done", User{ID: "u1", Name: "Alice"}, "worker")
	if activity.ID != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Fatalf("expected millisecond id, got %q", activity.ID)
	}
	if activity.UserName != "Alice" || activity.Type != "TASK_COMPLETE" || activity.Source != "worker" {
		t.Fatalf("unexpected activity fields: %+v", activity)
	}
}
