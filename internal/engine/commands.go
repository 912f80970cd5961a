package engine

import (
	"context"
	"fmt"
	"strings"
)

const helpText = "Commands:\n/help\n/status\n/restart_bot (admin)\n/tools\n/mode dev|normal"

func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// handleCommand dispatches slash commands without touching the LLM
// backend or the session history.
func (e *Engine) handleCommand(ctx context.Context, userID, text string) []string {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(text), " ")

	switch strings.ToLower(cmd) {
	case "/help", "help":
		return []string{helpText}
	case "/status":
		return []string{e.statusLine(ctx, "Status")}
	case "/tools":
		return []string{"Tools available: " + strings.Join(e.tools.Names(), ", ")}
	case "/mode":
		switch strings.ToLower(strings.TrimSpace(arg)) {
		case "dev", "developer":
			e.sessions.SetDeveloperMode(userID, true)
			return []string{"Developer mode ON"}
		case "normal", "default":
			e.sessions.SetDeveloperMode(userID, false)
			return []string{"Developer mode OFF"}
		default:
			return []string{"Usage: /mode dev|normal"}
		}
	case "/restart_bot":
		if !e.cfg.IsAdmin(userID) {
			return []string{"Not authorized."}
		}
		return []string{e.restartReply(ctx)}
	case "/admin/status":
		if !e.cfg.IsAdmin(userID) {
			return []string{"Not authorized."}
		}
		return []string{e.statusLine(ctx, "Admin status")}
	case "/admin/restart":
		if !e.cfg.IsAdmin(userID) {
			return []string{"Not authorized."}
		}
		return []string{e.restartReply(ctx)}
	}
	return []string{"Unknown command. Try /help"}
}

// statusLine summarizes load, memory, and disk pressure in one short
// line suitable for a chat reply.
func (e *Engine) statusLine(ctx context.Context, prefix string) string {
	s := e.tools.Call(ctx, "get_system_status", "{}")
	if ok, _ := s["ok"].(bool); !ok {
		return prefix + ": unavailable"
	}
	load := nestedFloat(s, "load_avg", "1m")
	mem := nestedFloat(s, "memory", "percent")
	disk := nestedFloat(s, "disk", "percent")
	return fmt.Sprintf("%s: load %.2f, RAM %.1f%%, Disk %.1f%%", prefix, load, mem, disk)
}

func (e *Engine) restartReply(ctx context.Context) string {
	res := e.tools.Call(ctx, "restart_self", "{}")
	if ok, _ := res["ok"].(bool); !ok {
		return "Failed to restart"
	}
	if msg, _ := res["message"].(string); msg != "" {
		return msg
	}
	return "Restart requested"
}

func nestedFloat(m map[string]any, keys ...string) float64 {
	var cur any = map[string]any(m)
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return 0
		}
		cur = mm[k]
	}
	switch v := cur.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
