package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/oakmund/convoy/internal/workflow"
)

// builtinActions are the capabilities available to declarative workflow files
// run from the CLI. Programs embedding the engine register their own.
func builtinActions() *workflow.ActionRegistry {
	registry := workflow.NewActionRegistry()
	registry.MustRegister("shell", workflow.ActionFunc(runShell))
	registry.MustRegister("echo", workflow.ActionFunc(runEcho))
	registry.MustRegister("sleep", workflow.ActionFunc(runSleep))
	return registry
}

type shellParams struct {
	Command string   `param:"command"`
	Args    []string `param:"args"`
	Dir     string   `param:"dir"`
}

// runShell executes a command and returns its trimmed stdout plus exit code.
func runShell(ctx context.Context, params map[string]any, _ workflow.RunContext) (any, error) {
	var p shellParams
	if err := workflow.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Command == "" {
		return nil, fmt.Errorf("shell: command param is required")
	}
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Dir = p.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("shell: %s: %w (stderr: %s)", p.Command, err, strings.TrimSpace(stderr.String()))
	}
	return map[string]any{
		"stdout":    strings.TrimSpace(stdout.String()),
		"exit_code": 0,
	}, nil
}

type echoParams struct {
	Message string `param:"message"`
}

func runEcho(_ context.Context, params map[string]any, _ workflow.RunContext) (any, error) {
	var p echoParams
	if err := workflow.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	fmt.Println(p.Message)
	return p.Message, nil
}

type sleepParams struct {
	DurationMs int `param:"duration_ms"`
}

func runSleep(ctx context.Context, params map[string]any, _ workflow.RunContext) (any, error) {
	var p sleepParams
	if err := workflow.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	timer := time.NewTimer(time.Duration(p.DurationMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return p.DurationMs, nil
	}
}
