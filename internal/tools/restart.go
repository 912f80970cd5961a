package tools

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// restartExitCode tells the supervisor this exit is a requested
// restart rather than a crash.
const restartExitCode = 3

// Restarter implements controlled self-restart: a flag file is written
// for the supervisor, then the process exits after a short delay so
// the in-flight response can still be delivered.
type Restarter struct {
	FlagDir string
	Logger  *slog.Logger

	// Delay before exiting; defaults to 1.5s.
	Delay time.Duration

	// Exit is swappable for tests; defaults to os.Exit.
	Exit func(code int)
}

// Restart schedules the restart and reports success immediately.
func (r *Restarter) Restart() Result {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	flagPath := filepath.Join(r.FlagDir, "restart.flag")
	if err := os.WriteFile(flagPath, []byte("restart requested"), 0o644); err != nil {
		// The flag is advisory; restart proceeds regardless.
		logger.Warn("writing restart flag", "path", flagPath, "error", err)
	}

	delay := r.Delay
	if delay <= 0 {
		delay = 1500 * time.Millisecond
	}
	exit := r.Exit
	if exit == nil {
		exit = os.Exit
	}

	logger.Info("restart requested, exiting shortly", "delay", delay)
	go func() {
		time.Sleep(delay)
		exit(restartExitCode)
	}()

	return Result{"ok": true, "message": "Restart scheduled"}
}
