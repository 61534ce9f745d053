package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antoniostano/otto/internal/execution"
	"github.com/antoniostano/otto/internal/policy"
	"github.com/antoniostano/otto/internal/queue"
)

// TaskTypeCommand is the generic ops command handler.
const TaskTypeCommand = "ops.command"

type commandPayload struct {
	Command string `json:"command"`
}

// CommandHandler runs shell commands from item payloads, refusing anything
// the policy blocklist flags. Redacted output is written to the artifacts
// directory and referenced in the result.
type CommandHandler struct {
	runner      *execution.Runner
	artifactDir string
}

func NewCommandHandler(runner *execution.Runner, artifactDir string) *CommandHandler {
	return &CommandHandler{runner: runner, artifactDir: artifactDir}
}

func (h *CommandHandler) Execute(ctx context.Context, item queue.Item) (Result, error) {
	var payload commandPayload
	if len(item.Payload.Data) > 0 {
		if err := json.Unmarshal(item.Payload.Data, &payload); err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("decode command payload: %w", err)
		}
	}
	command := strings.TrimSpace(payload.Command)
	if command == "" {
		return Result{ExitCode: 1}, fmt.Errorf("command payload is empty")
	}

	if decision := policy.ClassifyCommand(command); decision.Blocked {
		return Result{ExitCode: 1}, fmt.Errorf("command refused: %s", decision.Reason)
	}

	res, err := h.runner.Run(ctx, command)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("run command: %w", err)
	}

	out := Result{ExitCode: res.ExitCode}
	if ref, err := h.writeArtifact(item.ID, res); err == nil && ref != "" {
		out.ArtifactRefs = []string{ref}
	}
	if res.ExitCode != 0 {
		return out, fmt.Errorf("command exited with code %d", res.ExitCode)
	}
	return out, nil
}

func (h *CommandHandler) writeArtifact(itemID string, res execution.Result) (string, error) {
	if strings.TrimSpace(h.artifactDir) == "" {
		return "", nil
	}
	if err := os.MkdirAll(h.artifactDir, 0o755); err != nil {
		return "", err
	}
	redactedOut, _ := policy.RedactSecrets(res.Stdout)
	redactedErr, _ := policy.RedactSecrets(res.Stderr)
	name := fmt.Sprintf("%s-%d.log", itemID, time.Now().UTC().UnixMilli())
	path := filepath.Join(h.artifactDir, name)
	body := fmt.Sprintf("exit_code=%d duration=%s\n--- stdout ---\n%s\n--- stderr ---\n%s\n",
		res.ExitCode, res.Duration.Round(time.Millisecond), redactedOut, redactedErr)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
