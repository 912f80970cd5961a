package tools

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// configCap bounds config file contents returned to the model.
const configCap = 8000

// FileTools exposes read-only access to the logs and config
// directories. All paths are resolved with safeJoin so requests can
// never escape their base directory.
type FileTools struct {
	LogsDir   string
	ConfigDir string
}

// ReadLog returns the last n lines of a log file under the logs
// directory. Trailing newlines are stripped from each line.
func (f *FileTools) ReadLog(path string, lines int) Result {
	if lines <= 0 {
		lines = 200
	}
	full, err := safeJoin(f.LogsDir, path)
	if err != nil {
		return errResult("%v", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errResult("Log not found: %s", path)
		}
		return errResult("%v", err)
	}

	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return Result{"ok": true, "path": path, "lines": all}
}

// ReadConfig returns the contents of a file under the config
// directory, truncated to a sane size.
func (f *FileTools) ReadConfig(path string) Result {
	full, err := safeJoin(f.ConfigDir, path)
	if err != nil {
		return errResult("%v", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errResult("Config not found: %s", path)
		}
		return errResult("%v", err)
	}
	content := string(data)
	if len(content) > configCap {
		content = content[:configCap]
	}
	return Result{"ok": true, "path": path, "content": content}
}

// safeJoin resolves rel under base and rejects any result that
// escapes base, including via ".." traversal or absolute paths.
func safeJoin(base, rel string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	candidate, err := filepath.Abs(filepath.Join(absBase, rel))
	if err != nil {
		return "", err
	}
	if candidate != absBase && !strings.HasPrefix(candidate, absBase+string(filepath.Separator)) {
		return "", errors.New("Path outside allowed directory")
	}
	return candidate, nil
}
