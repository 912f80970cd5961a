package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFileTools(t *testing.T) *FileTools {
	t.Helper()
	return &FileTools{
		LogsDir:   t.TempDir(),
		ConfigDir: t.TempDir(),
	}
}

func TestReadLogTail(t *testing.T) {
	ft := newTestFileTools(t)
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("line\n")
	}
	if err := os.WriteFile(filepath.Join(ft.LogsDir, "app.log"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	res := ft.ReadLog("app.log", 200)
	if res["ok"] != true {
		t.Fatalf("res = %v", res)
	}
	lines, ok := res["lines"].([]string)
	if !ok || len(lines) != 200 {
		t.Fatalf("lines = %d entries, want 200", len(lines))
	}
	if lines[0] != "line" {
		t.Errorf("line = %q", lines[0])
	}
}

func TestReadLogMissing(t *testing.T) {
	ft := newTestFileTools(t)
	res := ft.ReadLog("nope.log", 10)
	if res["ok"] != false || res["error"] != "Log not found: nope.log" {
		t.Errorf("res = %v", res)
	}
}

func TestReadConfigTruncates(t *testing.T) {
	ft := newTestFileTools(t)
	big := strings.Repeat("x", configCap+1000)
	if err := os.WriteFile(filepath.Join(ft.ConfigDir, "big.yaml"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}

	res := ft.ReadConfig("big.yaml")
	if res["ok"] != true {
		t.Fatalf("res = %v", res)
	}
	content, _ := res["content"].(string)
	if len(content) != configCap {
		t.Errorf("content length = %d, want %d", len(content), configCap)
	}
}

func TestReadConfigMissing(t *testing.T) {
	ft := newTestFileTools(t)
	res := ft.ReadConfig("absent.yaml")
	if res["ok"] != false || res["error"] != "Config not found: absent.yaml" {
		t.Errorf("res = %v", res)
	}
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	base := t.TempDir()
	for _, rel := range []string{
		"../outside",
		"../../etc/passwd",
		"a/../../outside",
	} {
		if _, err := safeJoin(base, rel); err == nil {
			t.Errorf("safeJoin(%q) should fail", rel)
		}
	}
}

func TestSafeJoinAllowsNested(t *testing.T) {
	base := t.TempDir()
	got, err := safeJoin(base, "sub/dir/file.log")
	if err != nil {
		t.Fatalf("safeJoin: %v", err)
	}
	if !strings.HasPrefix(got, base) {
		t.Errorf("got %q, want prefix %q", got, base)
	}
}

func TestReadLogRejectsTraversal(t *testing.T) {
	ft := newTestFileTools(t)
	res := ft.ReadLog("../secret.log", 10)
	if res["ok"] != false {
		t.Fatalf("res = %v", res)
	}
	if res["error"] != "Path outside allowed directory" {
		t.Errorf("error = %v", res["error"])
	}
}
