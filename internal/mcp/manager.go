package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ServerSpec describes one configured MCP server. Exactly one of URL
// or Command is set: URL selects the HTTP transport, Command the stdio
// transport.
type ServerSpec struct {
	URL     string
	Command string
	Args    []string
}

// label is how the server is named in results and resolution: the URL
// for HTTP servers, the command for stdio servers.
func (s ServerSpec) label() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Command
}

// Manager fronts the configured MCP servers. Tool calls address a
// server by its position in the configured list ("0", "1", ...) or by
// its exact endpoint; trailing slashes are ignored when matching URLs.
type Manager struct {
	servers []*Server
	logger  *slog.Logger
}

// Server pairs a spec with its lazily-shared client.
type Server struct {
	Spec   ServerSpec
	client *Client
}

// Label returns the server's display name.
func (s *Server) Label() string { return s.Spec.label() }

// NewManager builds clients for the given specs. token and timeout
// apply to HTTP servers only.
func NewManager(specs []ServerSpec, token string, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger}
	for _, spec := range specs {
		var transport Transport
		if spec.URL != "" {
			transport = NewHTTPTransport(HTTPConfig{
				URL:     spec.URL,
				Token:   token,
				Timeout: timeout,
				Logger:  logger,
			})
		} else {
			transport = NewStdioTransport(StdioConfig{
				Command: spec.Command,
				Args:    spec.Args,
				Logger:  logger,
			})
		}
		m.servers = append(m.servers, &Server{
			Spec:   spec,
			client: NewClient(spec.label(), transport, logger),
		})
	}
	return m
}

// Len reports the number of configured servers.
func (m *Manager) Len() int { return len(m.servers) }

// Resolve finds a server by numeric index or exact URL. URL matching
// is insensitive to trailing slashes.
func (m *Manager) Resolve(ref string) (*Server, error) {
	if len(m.servers) == 0 {
		return nil, errors.New("No MCP servers configured")
	}
	if idx, err := strconv.Atoi(strings.TrimSpace(ref)); err == nil && idx >= 0 && idx < len(m.servers) {
		return m.servers[idx], nil
	}
	want := strings.TrimRight(ref, "/")
	for _, srv := range m.servers {
		if strings.TrimRight(srv.Spec.label(), "/") == want {
			return srv, nil
		}
	}
	return nil, fmt.Errorf("Unknown MCP server: %s", ref)
}

// Call resolves a server and invokes a tool on it. The outcome is
// always a result map: {ok: true, result: ...} on success, {ok: false,
// error: ...} on any failure.
func (m *Manager) Call(ctx context.Context, ref, tool string, args map[string]any) map[string]any {
	srv, err := m.Resolve(ref)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}
	}

	raw, err := srv.client.CallTool(ctx, tool, args)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}
	}
	return map[string]any{"ok": true, "result": decodeResult(raw)}
}

// ListAll queries tools/list on every configured server. Per-server
// failures are reported inline so one bad server does not hide the
// rest.
func (m *Manager) ListAll(ctx context.Context) map[string]any {
	if len(m.servers) == 0 {
		return map[string]any{"ok": false, "error": "No MCP servers configured"}
	}

	var out []map[string]any
	for _, srv := range m.servers {
		var response map[string]any
		raw, err := srv.client.ListTools(ctx)
		if err != nil {
			response = map[string]any{"ok": false, "error": err.Error()}
		} else {
			response = map[string]any{"ok": true, "result": decodeResult(raw)}
		}
		out = append(out, map[string]any{
			"server":   srv.Spec.label(),
			"response": response,
		})
	}
	return map[string]any{"ok": true, "servers": out}
}

// Close shuts down all clients; stdio subprocesses are terminated.
func (m *Manager) Close() {
	for _, srv := range m.servers {
		if err := srv.client.Close(); err != nil {
			m.logger.Warn("closing MCP client", "server", srv.Spec.label(), "error", err)
		}
	}
}

// decodeResult converts a raw JSON result into plain Go values so it
// embeds cleanly in tool result maps. Undecodable payloads are passed
// through as strings.
func decodeResult(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
