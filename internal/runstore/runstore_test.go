package runstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "postprocess_runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	done := time.Now().UnixNano()
	run := &Run{
		Scene:         "scene-000",
		Multi:         true,
		Sensors:       []string{"ego", "CAM_FRONT", "LIDAR_TOP"},
		FramesWritten: 42,
		Warnings:      []string{"sensor RADAR_FRONT: radar labels are not supported"},
		CompletedAtNs: &done,
	}
	if err := s.Insert(run); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if run.RunID == "" {
		t.Fatal("Insert should assign a run ID")
	}
	if run.StartedAtNs == 0 {
		t.Fatal("Insert should assign a start time")
	}

	got, err := s.Get(run.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Fatalf("run mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUnknownRun(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("no-such-run"); err == nil {
		t.Fatal("expected error for unknown run ID")
	}
}

func TestListByScene(t *testing.T) {
	s := openTestStore(t)
	for i, scene := range []string{"scene-000", "scene-000", "scene-001"} {
		run := &Run{
			Scene:       scene,
			Sensors:     []string{"ego"},
			StartedAtNs: int64(i + 1),
		}
		if err := s.Insert(run); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	runs, err := s.ListByScene("scene-000")
	if err != nil {
		t.Fatalf("ListByScene: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].StartedAtNs != 2 || runs[1].StartedAtNs != 1 {
		t.Fatalf("runs not ordered most recent first: %v, %v",
			runs[0].StartedAtNs, runs[1].StartedAtNs)
	}
}
