package tools

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRestartWritesFlagAndExits(t *testing.T) {
	dir := t.TempDir()
	exited := make(chan int, 1)
	r := &Restarter{
		FlagDir: dir,
		Delay:   10 * time.Millisecond,
		Exit:    func(code int) { exited <- code },
	}

	res := r.Restart()
	if res["ok"] != true || res["message"] != "Restart scheduled" {
		t.Fatalf("res = %v", res)
	}

	data, err := os.ReadFile(filepath.Join(dir, "restart.flag"))
	if err != nil {
		t.Fatalf("flag file: %v", err)
	}
	if string(data) != "restart requested" {
		t.Errorf("flag contents = %q", data)
	}

	select {
	case code := <-exited:
		if code != restartExitCode {
			t.Errorf("exit code = %d, want %d", code, restartExitCode)
		}
	case <-time.After(time.Second):
		t.Fatal("exit was not called")
	}
}

func TestRestartSurvivesUnwritableFlagDir(t *testing.T) {
	exited := make(chan int, 1)
	r := &Restarter{
		FlagDir: "/nonexistent/dir",
		Delay:   10 * time.Millisecond,
		Exit:    func(code int) { exited <- code },
	}

	res := r.Restart()
	if res["ok"] != true {
		t.Fatalf("res = %v", res)
	}
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("exit was not called")
	}
}
