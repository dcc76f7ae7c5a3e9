package logsource

import (
	"context"
	"io"
	"os"
	"testing"
	"time"
)

func TestSpawnCapturesStdout(t *testing.T) {
	p, err := Spawn([]string{"sh", "-c", "printf 'one\\ntwo\\n'"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if p.Pid() <= 0 {
		t.Errorf("expected a positive pid, got %d", p.Pid())
	}

	out, err := io.ReadAll(p.Stdout())
	if err != nil {
		t.Fatalf("failed to read stdout: %v", err)
	}
	if string(out) != "one\ntwo\n" {
		t.Errorf("stdout = %q", out)
	}

	// Terminating an exited child is not an error
	if err := p.Terminate(); err != nil {
		t.Errorf("Terminate after exit returned %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Errorf("Wait returned %v", err)
	}
}

func TestSpawnEmptyArgv(t *testing.T) {
	if _, err := Spawn(nil); err == nil {
		t.Error("expected error for empty argv")
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	if _, err := Spawn([]string{"/nonexistent/logwarden-source"}); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestTerminateStopsRunningChild(t *testing.T) {
	p, err := Spawn([]string{"sleep", "30"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit after SIGTERM")
	}
}

func TestRunSyncExitCodes(t *testing.T) {
	var r Runner
	ctx := context.Background()

	code, err := r.RunSync(ctx, []string{"true"})
	if err != nil || code != 0 {
		t.Errorf("true: code=%d err=%v", code, err)
	}

	code, err = r.RunSync(ctx, []string{"sh", "-c", "exit 3"})
	if err != nil || code != 3 {
		t.Errorf("exit 3: code=%d err=%v", code, err)
	}

	code, err = r.RunSync(ctx, []string{"/nonexistent/logwarden-source"})
	if err == nil || code != -1 {
		t.Errorf("missing binary: code=%d err=%v", code, err)
	}

	if _, err := r.RunSync(ctx, nil); err == nil {
		t.Error("expected error for empty argv")
	}
}

func TestSpawnDetached(t *testing.T) {
	dir := t.TempDir()
	marker := dir + "/ran"

	pid, err := SpawnDetached([]string{"sh", "-c", "touch " + marker}, os.Environ())
	if err != nil {
		t.Fatalf("SpawnDetached failed: %v", err)
	}
	if pid <= 0 {
		t.Errorf("expected positive pid, got %d", pid)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("detached process did not run")
}

func TestFindOrphansNoMatch(t *testing.T) {
	pids, err := FindOrphans([]string{"/nonexistent/logwarden-source", "-b", "nothing"})
	if err != nil {
		t.Skipf("process listing unavailable: %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("expected no orphans, got %v", pids)
	}
	if n := KillOrphans([]string{"/nonexistent/logwarden-source"}); n != 0 {
		t.Errorf("KillOrphans = %d, want 0", n)
	}
}

func TestReadStatsSelf(t *testing.T) {
	st, err := ReadStats(os.Getpid())
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	if st.Pid != os.Getpid() {
		t.Errorf("Pid = %d, want %d", st.Pid, os.Getpid())
	}
	if st.StartedAt.IsZero() {
		t.Error("expected a start time for the current process")
	}
}

func TestSpawnDetachedToCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	out, err := os.Create(dir + "/out.log")
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if _, err := SpawnDetachedTo([]string{"sh", "-c", "echo detached"}, os.Environ(), out); err != nil {
		t.Fatalf("SpawnDetachedTo failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(dir + "/out.log")
		if string(data) == "detached\n" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("detached process output was not captured")
}
