package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/ldxsync/internal/common"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, 600), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	touch(t, filepath.Join(root, "ld", "Car1", "20240812_session_3.ld"))
	touch(t, filepath.Join(root, "data", "ld", "practice.ld"))
	touch(t, filepath.Join(root, "stray.ld"))
	touch(t, filepath.Join(root, "ldx", "Car1_2024-08-12_Q1.ldx"))
	touch(t, filepath.Join(root, "notes.txt"))
	return root
}

func TestScanFindsAndDeduplicates(t *testing.T) {
	root := newTree(t)
	s := New(Config{NASBasePath: root, MountPoints: []string{}, LDXOutputDir: filepath.Join(root, "ldx")}, nil)

	r := s.Scan(true)
	if r.Status != StatusSuccess || r.Root != root || !r.Connected {
		t.Fatalf("unexpected result: %+v", r)
	}
	if len(r.LDFiles) != 3 {
		t.Fatalf("expected 3 LD files, got %d: %+v", len(r.LDFiles), r.LDFiles)
	}
	if len(r.LDXFiles) != 1 {
		t.Fatalf("expected 1 LDX file, got %+v", r.LDXFiles)
	}
	var session *File
	for i := range r.LDFiles {
		if r.LDFiles[i].Name == "20240812_session_3.ld" {
			session = &r.LDFiles[i]
		}
	}
	if session == nil {
		t.Fatalf("session file not found")
	}
	if session.SuggestedSession != "20240812_3" || session.SuggestedCar != "Car1" {
		t.Fatalf("inference = %q %q", session.SuggestedSession, session.SuggestedCar)
	}
	if !r.LDXFiles[0].Managed {
		t.Fatalf("file under output dir should be managed")
	}
}

func TestScanCapsResults(t *testing.T) {
	root := newTree(t)
	s := New(Config{NASBasePath: root, MountPoints: []string{}, MaxFilesPerScan: 2}, nil)
	if got := len(s.Scan(true).LDFiles); got != 2 {
		t.Fatalf("expected 2 LD files, got %d", got)
	}
}

func TestScanCachesWithinHalfInterval(t *testing.T) {
	root := newTree(t)
	metrics := common.NewMetrics()
	s := New(Config{NASBasePath: root, MountPoints: []string{}, Interval: time.Hour}, metrics)
	if r := s.Scan(false); r.Status != StatusSuccess {
		t.Fatalf("first scan: %+v", r)
	}
	touch(t, filepath.Join(root, "ld", "late.ld"))
	r := s.Scan(false)
	if r.Status != StatusCached || len(r.LDFiles) != 3 {
		t.Fatalf("expected cached result with 3 files, got %s with %d", r.Status, len(r.LDFiles))
	}
	if r := s.Scan(true); r.Status != StatusSuccess || len(r.LDFiles) != 4 {
		t.Fatalf("forced scan: %s with %d files", r.Status, len(r.LDFiles))
	}
	snap := metrics.Snapshot()
	if snap.Scans != 2 || snap.ScanCacheHits != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestScanOverlapCollapsesToCacheHit(t *testing.T) {
	s := New(Config{NASBasePath: newTree(t), MountPoints: []string{}}, nil)
	s.scanning.Store(true)
	if r := s.Scan(true); r.Status != StatusCached {
		t.Fatalf("expected cached status while a scan is running, got %s", r.Status)
	}
}

func TestScanWithoutRoot(t *testing.T) {
	s := New(Config{NASBasePath: filepath.Join(t.TempDir(), "missing"), MountPoints: []string{}}, nil)
	r := s.Scan(true)
	if r.Status != StatusError || r.Connected {
		t.Fatalf("expected error status, got %+v", r)
	}
}

func TestRootFallsBackToScanDirParent(t *testing.T) {
	root := newTree(t)
	s := New(Config{LDScanDir: filepath.Join(root, "ld"), MountPoints: []string{}}, nil)
	if r := s.Scan(true); r.Root != root {
		t.Fatalf("root = %q, want %q", r.Root, root)
	}
}

func TestOnScanAndBackgroundLoop(t *testing.T) {
	s := New(Config{NASBasePath: newTree(t), MountPoints: []string{}, Interval: 20 * time.Millisecond}, nil)
	got := make(chan Result, 8)
	s.OnScan(func(r Result) {
		select {
		case got <- r:
		default:
		}
	})
	s.Start(context.Background())
	defer s.Stop()
	select {
	case r := <-got:
		if len(r.LDFiles) != 3 {
			t.Fatalf("callback result has %d LD files", len(r.LDFiles))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no scan callback")
	}
}

func TestListLD(t *testing.T) {
	root := newTree(t)
	files, err := ListLD(filepath.Join(root, "data", "ld"), "")
	if err != nil {
		t.Fatalf("ListLD: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "practice.ld" {
		t.Fatalf("files = %v", files)
	}
	files, err = ListLD(filepath.Join(root, "nope"), "*.ld")
	if err != nil || files != nil {
		t.Fatalf("missing dir = %v, %v", files, err)
	}
}

func TestInference(t *testing.T) {
	tests := []struct {
		name, session string
	}{
		{"20240812_session_3.ld", "20240812_3"},
		{"2024-08-12 practice.ld", "session_20240812"},
		{"Session-Q2.ld", "Q2"},
		{"warmup.ld", ""},
	}
	for _, tc := range tests {
		if got := InferSession(tc.name); got != tc.session {
			t.Fatalf("InferSession(%q) = %q, want %q", tc.name, got, tc.session)
		}
	}
	if got := InferCar("/nas/car_07/day1/run.ld"); got != "car_07" {
		t.Fatalf("InferCar = %q", got)
	}
	if got := InferCar("/nas/cars/run.ld"); got != "" {
		t.Fatalf("InferCar should not match plain words, got %q", got)
	}
}
