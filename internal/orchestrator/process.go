package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/oakmund/convoy/internal/agent"
)

// Process is a handle to one spawned agent process.
type Process interface {
	// PID identifies the OS process, or a synthetic id for fakes.
	PID() int
	// Stop terminates the process. Stopping an already-dead process is a
	// no-op.
	Stop() error
	// Wait yields exactly one value when the process exits: nil for a clean
	// exit, the exit error otherwise. The channel is closed afterwards.
	Wait() <-chan error
}

// ProcessRunner spawns agent processes from their desired configuration.
type ProcessRunner interface {
	Start(ctx context.Context, cfg agent.Config) (Process, error)
}

// ExecRunner spawns real OS processes via os/exec. Stop sends SIGTERM and
// escalates to SIGKILL after the grace period.
type ExecRunner struct {
	// Grace bounds how long Stop waits for a SIGTERM'd process before
	// killing it. Zero means 5 seconds.
	Grace time.Duration
}

// Start launches cfg.Command with the config's args and environment. The
// child inherits the orchestrator's environment with the config's entries
// appended, so config values win on collision.
func (r *ExecRunner) Start(ctx context.Context, cfg agent.Config) (Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("orchestrator: agent %s has no command", cfg.DisplayName())
	}
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Environ()...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("orchestrator: start %s: %w", cfg.DisplayName(), err)
	}
	grace := r.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	proc := &execProcess{
		cmd:   cmd,
		grace: grace,
		done:  make(chan struct{}),
		exit:  make(chan error, 1),
	}
	go proc.wait()
	return proc, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	grace time.Duration

	stopOnce sync.Once
	done     chan struct{}
	exit     chan error
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() <-chan error {
	return p.exit
}

func (p *execProcess) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if sigErr := p.cmd.Process.Signal(syscall.SIGTERM); sigErr != nil {
			// Already gone.
			return
		}
		select {
		case <-p.done:
		case <-time.After(p.grace):
			err = p.cmd.Process.Kill()
		}
	})
	return err
}

func (p *execProcess) wait() {
	waitErr := p.cmd.Wait()
	close(p.done)
	p.exit <- waitErr
	close(p.exit)
}
