package execution

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner("", "")
	res, err := r.Run(context.Background(), "echo hello; echo warn >&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q, want hello", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "warn" {
		t.Fatalf("stderr = %q, want warn", res.Stderr)
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("finished %v before started %v", res.FinishedAt, res.StartedAt)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	r := NewRunner("", "")
	res, err := r.Run(context.Background(), "exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for a non-zero exit", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	r := NewRunner("", "")
	if _, err := r.Run(context.Background(), "   "); err == nil {
		t.Fatalf("Run() with empty command succeeded, want error")
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	r := NewRunner("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := r.Run(ctx, "sleep 5")
	if err == nil && res.ExitCode == 0 {
		t.Fatalf("Run() of a long sleep finished cleanly under a 50ms deadline")
	}
}

func TestRunUsesWorkdir(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner("", dir)
	res, err := r.Run(context.Background(), "pwd")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) == "" {
		t.Fatalf("pwd printed nothing")
	}
	// Symlinked temp dirs make exact equality flaky; suffix check suffices.
	if !strings.HasSuffix(strings.TrimSpace(res.Stdout), dirTail(dir)) {
		t.Fatalf("pwd = %q, want workdir %q", strings.TrimSpace(res.Stdout), dir)
	}
}

func dirTail(dir string) string {
	parts := strings.Split(strings.TrimRight(dir, "/"), "/")
	return parts[len(parts)-1]
}

func TestTruncateBoundsOutput(t *testing.T) {
	long := strings.Repeat("a", maxCapturedOutput+100)
	out := truncate(long)
	if len(out) > maxCapturedOutput+len("\n[truncated]") {
		t.Fatalf("truncated output length = %d, want bounded", len(out))
	}
	if !strings.HasSuffix(out, "[truncated]") {
		t.Fatalf("truncated output missing marker")
	}
	if truncate("short") != "short" {
		t.Fatalf("truncate() modified short output")
	}
}
