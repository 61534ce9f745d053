package execution

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

type Result struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

const maxCapturedOutput = 64 << 10

// Runner executes ops commands through the shell, capturing bounded output.
type Runner struct {
	shell   string
	workdir string
}

func NewRunner(shell, workdir string) *Runner {
	if strings.TrimSpace(shell) == "" {
		shell = "/bin/sh"
	}
	return &Runner{shell: shell, workdir: workdir}
}

// Run executes the command and returns its result. A non-zero exit is
// reported through Result.ExitCode, not as an error; errors mean the command
// could not run at all.
func (r *Runner) Run(ctx context.Context, command string) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, errors.New("command is required")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = r.workdir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now().UTC()
	err := cmd.Run()
	finished := time.Now().UTC()

	res := Result{
		ExitCode:   0,
		Stdout:     truncate(stdout.String()),
		Stderr:     truncate(stderr.String()),
		Duration:   finished.Sub(started),
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func truncate(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[:maxCapturedOutput] + "\n[truncated]"
}
