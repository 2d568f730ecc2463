package syncclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pmhub/hubsync/internal/hub"
)

func TestSaveStateStampsMetadataAndAssignsWBS(t *testing.T) {
	remote := newFakeRemote()
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	mirror := NewMirror(filepath.Join(t.TempDir(), "pmSystemState.json"))
	cache := NewStateCache(StateCacheOptions{Remote: remote, Now: clk.Now})
	writer := NewSyncWriter(SyncWriterOptions{
		Remote:   remote,
		Cache:    cache,
		Mirror:   mirror,
		User:     hub.User{ID: "u1", Name: "Alex"},
		WriterID: "instance-1",
		Now:      clk.Now,
	})

	result := writer.SaveState(context.Background(), projectFixture(), "tasks", nil)
	if !result.Success {
		t.Fatalf("write reported failure")
	}
	if result.Section != "tasks" {
		t.Fatalf("result section = %q", result.Section)
	}

	saved := remote.lastSaved()
	if saved == nil {
		t.Fatalf("nothing reached the remote store")
	}
	if saved.LastSyncedBy != "Alex" || saved.WriterID != "instance-1" || saved.WriteSeq != 1 {
		t.Fatalf("write metadata = %q/%q/%d", saved.LastSyncedBy, saved.WriterID, saved.WriteSeq)
	}
	if hub.ParseTimestampMillis(saved.LastModified) != clk.Now().UnixMilli() {
		t.Fatalf("lastModified = %q, want the injected clock's time", saved.LastModified)
	}

	tasks := saved.Projects[0].Areas[0].Tasks
	if tasks[0].WBS != "1" || tasks[1].WBS != "2" || tasks[1].Children[0].WBS != "2.1" {
		t.Fatalf("WBS not assigned: %q %q %q", tasks[0].WBS, tasks[1].WBS, tasks[1].Children[0].WBS)
	}

	mirrored, err := mirror.Read()
	if err != nil || mirrored == nil {
		t.Fatalf("mirror not refreshed: (%v, %v)", mirrored, err)
	}
	if mirrored.LastModified != saved.LastModified {
		t.Fatalf("mirror lastModified = %q, want %q", mirrored.LastModified, saved.LastModified)
	}
	if writer.LastWriteAt() != clk.Now() {
		t.Fatalf("LastWriteAt = %v, want the write moment", writer.LastWriteAt())
	}
}

func TestSaveStateIncrementsWriteSeqPerWrite(t *testing.T) {
	remote := newFakeRemote()
	writer := NewSyncWriter(SyncWriterOptions{
		Remote: remote,
		User:   hub.User{Name: "Alex"},
	})

	for i := 1; i <= 3; i++ {
		result := writer.SaveState(context.Background(), projectFixture(), "tasks", nil)
		if !result.Success {
			t.Fatalf("write %d failed", i)
		}
		if got := remote.lastSaved().WriteSeq; got != uint64(i) {
			t.Fatalf("writeSeq after write %d = %d", i, got)
		}
	}
}

func TestSaveStateFailureIsAbsorbed(t *testing.T) {
	remote := newFakeRemote()
	remote.failSaves = true
	mirror := NewMirror(filepath.Join(t.TempDir(), "pmSystemState.json"))
	writer := NewSyncWriter(SyncWriterOptions{
		Remote: remote,
		Mirror: mirror,
		User:   hub.User{Name: "Alex"},
	})

	result := writer.SaveState(context.Background(), projectFixture(), "tasks", nil)
	if result.Success {
		t.Fatalf("failed write reported success")
	}
	if mirrored, _ := mirror.Read(); mirrored != nil {
		t.Fatalf("failed write refreshed the mirror")
	}
	if !writer.LastWriteAt().IsZero() {
		t.Fatalf("failed write recorded a write moment")
	}
}

func TestSaveStateNilStateFails(t *testing.T) {
	writer := NewSyncWriter(SyncWriterOptions{Remote: newFakeRemote(), User: hub.User{Name: "Alex"}})
	if result := writer.SaveState(context.Background(), nil, "tasks", nil); result.Success {
		t.Fatalf("nil state write reported success")
	}
}

func TestSaveStateReturnsSuppliedOrTailActivity(t *testing.T) {
	remote := newFakeRemote()
	clk := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	writer := NewSyncWriter(SyncWriterOptions{
		Remote: remote,
		User:   hub.User{Name: "Alex"},
		Now:    clk.Now,
	})

	supplied := hub.NewActivity(clk.Now(), "TASK", "renamed a task", hub.User{Name: "Alex"}, "hub")
	result := writer.SaveState(context.Background(), projectFixture(), "tasks", &supplied)
	if result.Activity == nil || result.Activity.Message != "renamed a task" {
		t.Fatalf("supplied activity not echoed: %+v", result.Activity)
	}

	state := projectFixture()
	state.ActivityLog = append(state.ActivityLog,
		hub.NewActivity(clk.Now(), "TASK", "first", hub.User{Name: "Bea"}, "hub"),
		hub.NewActivity(clk.Now(), "TASK", "latest", hub.User{Name: "Bea"}, "hub"),
	)
	result = writer.SaveState(context.Background(), state, "tasks", nil)
	if result.Activity == nil || result.Activity.Message != "latest" {
		t.Fatalf("tail activity not returned: %+v", result.Activity)
	}
}

func TestSaveStateCapsActivityLog(t *testing.T) {
	remote := newFakeRemote()
	writer := NewSyncWriter(SyncWriterOptions{Remote: remote, User: hub.User{Name: "Alex"}})

	state := projectFixture()
	for i := 0; i < hub.MaxActivityLog+25; i++ {
		state.ActivityLog = append(state.ActivityLog, hub.Activity{ID: "a", Message: "x"})
	}
	if result := writer.SaveState(context.Background(), state, "activity", nil); !result.Success {
		t.Fatalf("write failed")
	}
	if got := len(remote.lastSaved().ActivityLog); got != hub.MaxActivityLog {
		t.Fatalf("activity log length = %d, want %d", got, hub.MaxActivityLog)
	}
}
