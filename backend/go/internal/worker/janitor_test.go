package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/pkg/logger"
)

func TestSweepStaleRuns(t *testing.T) {
	root := t.TempDir()
	runDir := NewRunName("Example Plugin", time.Now())
	other := "keep-me"
	for _, name := range []string{runDir, other} {
		if err := os.MkdirAll(filepath.Join(root, name, "datasets"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	log := logger.New("test", "", "")

	n, err := SweepStaleRuns(root, time.Hour, time.Now(), nil, log)
	if err != nil || n != 0 {
		t.Fatalf("fresh sweep removed %d, %v", n, err)
	}

	n, err = SweepStaleRuns(root, time.Hour, time.Now().Add(2*time.Hour), nil, log)
	if err != nil || n != 1 {
		t.Fatalf("stale sweep removed %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(root, runDir)); !os.IsNotExist(err) {
		t.Errorf("stale run directory still present")
	}
	if _, err := os.Stat(filepath.Join(root, other)); err != nil {
		t.Errorf("unrelated directory removed: %v", err)
	}
}

func TestSweepRejectsNonPositiveThreshold(t *testing.T) {
	root := t.TempDir()
	runDir := NewRunName("Example Plugin", time.Now())
	if err := os.Mkdir(filepath.Join(root, runDir), 0o755); err != nil {
		t.Fatal(err)
	}
	log := logger.New("test", "", "")
	for _, d := range []time.Duration{0, -time.Hour} {
		if _, err := SweepStaleRuns(root, d, time.Now(), nil, log); err == nil {
			t.Errorf("threshold %v accepted", d)
		}
	}
	if _, err := os.Stat(filepath.Join(root, runDir)); err != nil {
		t.Errorf("run directory removed: %v", err)
	}
}

func TestSweepKeepsRunningTask(t *testing.T) {
	entered := make(chan string, 1)
	release := make(chan struct{})
	env := newTestEnv(t, &funcUnit{name: "Long", run: func(ec *plugin.ExecutionContext, _ map[string]string) (interface{}, error) {
		checkpoint := filepath.Join(ec.WorkDir, "checkpoint")
		if err := os.WriteFile(checkpoint, []byte("epoch 1"), 0o644); err != nil {
			return nil, err
		}
		entered <- ec.WorkDir
		<-release
		data, err := os.ReadFile(checkpoint)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}})

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		_, value, err := env.executor.Execute(context.Background(), request("Long"), nil)
		done <- outcome{value, err}
	}()

	workDir := <-entered
	n, err := env.executor.Sweep(24*time.Hour, time.Now().Add(25*time.Hour), logger.New("test", "", ""))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("sweep removed %d directories while the task was running", n)
	}
	if _, err := os.Stat(workDir); err != nil {
		t.Errorf("live run directory removed: %v", err)
	}
	close(release)

	res := <-done
	if res.err != nil {
		t.Fatalf("task failed after sweep: %v", res.err)
	}
	if res.value != "epoch 1" {
		t.Errorf("value = %v", res.value)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Errorf("run directory not removed after the task finished")
	}
	if env.executor.Running(filepath.Base(workDir)) {
		t.Errorf("finished run still tracked as running")
	}
}

func TestSweepAbandonedWorkers(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	runName := NewRunName("Example Plugin", now)
	for _, worker := range []string{"me", "dead", "alive", "unrelated"} {
		if err := os.MkdirAll(filepath.Join(root, worker, runName), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := TouchHeartbeat(filepath.Join(root, "dead"), now.Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := TouchHeartbeat(filepath.Join(root, "alive"), now); err != nil {
		t.Fatal(err)
	}
	if err := TouchHeartbeat(filepath.Join(root, "me"), now.Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := SweepAbandonedWorkers(root, "me", 24*time.Hour, now, logger.New("test", "", ""))
	if err != nil {
		t.Fatalf("SweepAbandonedWorkers failed: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d run directories, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(root, "dead")); !os.IsNotExist(err) {
		t.Errorf("abandoned worker directory still present")
	}
	for _, worker := range []string{"me", "alive", "unrelated"} {
		if _, err := os.Stat(filepath.Join(root, worker, runName)); err != nil {
			t.Errorf("run directory of %s removed: %v", worker, err)
		}
	}
}
