// Package sandbox executes untrusted code snippets in short-lived child
// processes. Python snippets run under an embedded driver that rejects
// import statements, restricts builtins, and applies CPU/memory rlimits;
// JavaScript snippets run inside Node's vm module with a wall-clock
// timeout. The parent enforces its own timeout slightly above the
// child's so a wedged child is always reaped.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "embed"

	"github.com/yishaik/wotbot/internal/events"
)

//go:embed py_sandbox.py
var pyDriver string

// jsDriver wraps the snippet in Node's vm module. The snippet arrives on
// stdin; the %d placeholder receives the timeout in milliseconds.
const jsDriver = `
const vm = require('vm');
let code = '';
process.stdin.setEncoding('utf8');
process.stdin.on('data', c => code += c);
process.stdin.on('end', () => {
  try {
    const lines = [];
    const ctx = vm.createContext({
      console: {log: (...a) => lines.push(a.join(' '))},
      Math: Math, JSON: JSON,
    });
    const script = new vm.Script(code);
    const res = script.runInContext(ctx, {timeout: %d});
    process.stdout.write(JSON.stringify({
      ok: true,
      result: typeof res === 'undefined' ? null : res,
      stdout: lines.join('\n').slice(-4000),
    }));
  } catch (e) {
    process.stdout.write(JSON.stringify({ok: false, error: String(e.message || e)}));
  }
});
`

// outputCap bounds stderr and raw-output fields returned to callers.
const outputCap = 4000

// Result is the outcome of one sandbox execution. OK distinguishes a
// snippet that ran to completion from every other failure mode; Error
// carries the reason when OK is false.
type Result struct {
	OK       bool   `json:"ok"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Value    any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Raw      string `json:"raw,omitempty"`
}

// Config controls sandbox resource limits and runtime binaries.
type Config struct {
	// Timeout bounds the child's own execution; the parent waits
	// slightly longer before killing the process group.
	Timeout   time.Duration
	MemoryMB  int
	PythonBin string
	NodeBin   string
}

// Runner executes snippets. The zero value is not usable; construct
// with New.
type Runner struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus
}

// New creates a Runner. logger may be nil for a no-op logger; bus may
// be nil to skip event publishing.
func New(cfg Config, logger *slog.Logger, bus *events.Bus) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = 128
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.NodeBin == "" {
		cfg.NodeBin = "node"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, logger: logger, bus: bus}
}

// Run executes code in the given language and always returns a Result;
// every failure mode (unsupported language, missing runtime, timeout,
// crash, garbage output) is reported in-band rather than as an error.
func (r *Runner) Run(ctx context.Context, language, code string) Result {
	language = strings.ToLower(strings.TrimSpace(language))

	start := time.Now()
	r.bus.Publish(events.Event{
		Source: events.SourceSandbox,
		Kind:   events.KindExecStart,
		Data:   map[string]any{"language": language, "code_len": len(code)},
	})

	var res Result
	switch language {
	case "python":
		res = r.runPython(ctx, code)
	case "javascript":
		res = r.runJavaScript(ctx, code)
	default:
		res = Result{OK: false, Error: fmt.Sprintf("Unsupported language: %s", language)}
	}

	r.bus.Publish(events.Event{
		Source: events.SourceSandbox,
		Kind:   events.KindExecDone,
		Data: map[string]any{
			"language":    language,
			"ok":          res.OK,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
	r.logger.Debug("sandbox execution finished",
		"language", language, "ok", res.OK, "elapsed", time.Since(start))
	return res
}

func (r *Runner) runPython(ctx context.Context, code string) Result {
	// Cheap static pre-check so import rejection does not depend on a
	// Python runtime being installed. The AST walk inside the driver
	// remains the authoritative check.
	if hasImportStatement(code) {
		return Result{OK: false, Error: "Syntax/security error: Import statements are not allowed in sandbox"}
	}

	timeoutSec := int(r.cfg.Timeout / time.Second)
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	env := []string{
		fmt.Sprintf("CODE_EXEC_TIMEOUT_SEC=%d", timeoutSec),
		fmt.Sprintf("CODE_EXEC_MEMORY_MB=%d", r.cfg.MemoryMB),
	}
	return r.runChild(ctx, r.cfg.PythonBin, []string{"-c", pyDriver}, env, code,
		r.cfg.Timeout+time.Second, "python3 not available")
}

func (r *Runner) runJavaScript(ctx context.Context, code string) Result {
	driver := fmt.Sprintf(jsDriver, r.cfg.Timeout.Milliseconds())
	return r.runChild(ctx, r.cfg.NodeBin, []string{"-e", driver}, nil, code,
		r.cfg.Timeout+2*time.Second, "Node.js not available")
}

// runChild launches the driver process with the snippet on stdin, in a
// throwaway working directory, and parses the single JSON line the
// driver writes to stdout.
func (r *Runner) runChild(ctx context.Context, bin string, args, extraEnv []string, code string, grace time.Duration, missingMsg string) Result {
	workDir, err := os.MkdirTemp("", "wotbot-sandbox-*")
	if err != nil {
		return Result{OK: false, Error: fmt.Sprintf("sandbox workdir: %v", err)}
	}
	defer os.RemoveAll(workDir)

	cctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	cmd := exec.CommandContext(cctx, bin, args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(code)
	if extraEnv != nil {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return Result{OK: false, Error: "Timeout"}
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{OK: false, Error: missingMsg}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				OK:       false,
				ExitCode: exitErr.ExitCode(),
				Stderr:   truncate(stderr.String(), outputCap),
			}
		}
		return Result{OK: false, Error: err.Error()}
	}

	var res Result
	if jerr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &res); jerr != nil {
		return Result{
			OK:    false,
			Error: "Non-JSON output from sandbox",
			Raw:   truncate(stdout.String(), outputCap),
		}
	}
	return res
}

// hasImportStatement scans for top-of-line import or from-import
// statements. It can false-positive inside multi-line strings; that
// only costs a snippet that the embedded AST check would also need to
// vet, so erring strict is acceptable.
func hasImportStatement(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || trimmed == "import" {
			return true
		}
		if strings.HasPrefix(trimmed, "from ") && strings.Contains(trimmed, " import") {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
