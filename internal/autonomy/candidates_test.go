package autonomy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCandidatesFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidates.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestFileSourceFetch(t *testing.T) {
	path := writeCandidatesFile(t, `[
		{"id":"PERF-1","title":"reduce allocs","ev":2.1,"risk_class":"low","category":"perf"},
		{"id":"BUG-7","source":"bug_tracker","title":"nil deref","ev":1.4,"risk_class":"low","category":"bugfix"}
	]`)
	src := NewFileSource("perf_report", path)

	got, err := src.Fetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Fetch() returned %d candidates, want 2", len(got))
	}
	if got[0].Source != "perf_report" {
		t.Fatalf("empty source = %q, want backfilled perf_report", got[0].Source)
	}
	if got[1].Source != "bug_tracker" {
		t.Fatalf("explicit source = %q, want bug_tracker", got[1].Source)
	}
}

func TestFileSourceTruncatesToLimit(t *testing.T) {
	path := writeCandidatesFile(t, `[
		{"id":"a","ev":1},{"id":"b","ev":2},{"id":"c","ev":3}
	]`)
	src := NewFileSource("s", path)

	got, err := src.Fetch(context.Background(), 2)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Fetch() returned %d candidates, want 2", len(got))
	}
}

func TestFileSourceMissingFileIsEmptyBatch(t *testing.T) {
	src := NewFileSource("s", filepath.Join(t.TempDir(), "nope.json"))

	got, err := src.Fetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Fetch() returned %d candidates, want 0", len(got))
	}
}

func TestFileSourceRejectsMalformedFile(t *testing.T) {
	src := NewFileSource("s", writeCandidatesFile(t, `{not json`))

	if _, err := src.Fetch(context.Background(), 10); err == nil {
		t.Fatal("Fetch() error = nil, want decode error")
	}
}
