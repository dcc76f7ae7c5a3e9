package logsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// Process is a spawned log-source child whose stdout is captured.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// Spawn starts argv with stdout captured as a readable stream.
func Spawn(argv []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command line")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	return &Process{cmd: cmd, stdout: stdout}, nil
}

// Pid returns the child's process ID
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdout returns the captured output stream
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Terminate requests the child to exit with SIGTERM. A child that already
// exited is not an error.
func (p *Process) Terminate() error {
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Kill forcibly stops the child with SIGKILL
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait blocks until the child is reaped. The exit status is not interesting
// to callers; only unexpected wait failures are returned.
func (p *Process) Wait() error {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Runner runs commands on the local system.
type Runner struct{}

// RunSync runs argv to completion and returns its exit code. A command that
// could not be started returns -1 and the error.
func (Runner) RunSync(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("empty command line")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// SpawnDetached starts argv in its own session so it outlives the caller's
// terminal and process group. The child is reaped in the background.
func SpawnDetached(argv []string, env []string) (int, error) {
	return SpawnDetachedTo(argv, env, nil)
}

// SpawnDetachedTo is SpawnDetached with the child's stdout and stderr sent to
// output. A nil output discards them.
func SpawnDetachedTo(argv []string, env []string, output *os.File) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command line")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	if output != nil {
		cmd.Stdout = output
		cmd.Stderr = output
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to launch %s: %w", argv[0], err)
	}

	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		slog.Debug("Detached process exited", "pid", pid, "argv0", argv[0], "error", err)
	}()
	return pid, nil
}
