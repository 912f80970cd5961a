package tools

import (
	"context"
)

// registerBuiltins registers the fixed tool surface in the order it is
// presented to the LLM.
func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "run_code",
		Description: "Run short code snippets in a sandbox (python or javascript).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"language": map[string]any{
					"type":        "string",
					"enum":        []string{"python", "javascript"},
					"description": "Language of the code snippet.",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Code to execute.",
				},
			},
			"required": []string{"language", "code"},
		},
		Handler: r.handleRunCode,
	})

	r.Register(&Tool{
		Name:        "http_request",
		Description: "Perform an HTTP request (GET, POST, PUT, DELETE) with optional headers and query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"method": map[string]any{
					"type": "string",
					"enum": []string{"GET", "POST", "PUT", "DELETE"},
				},
				"url": map[string]any{"type": "string"},
				"headers": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"params": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"body": map[string]any{
					"type": []string{"object", "string", "null"},
				},
			},
			"required": []string{"method", "url"},
		},
		Handler: r.handleHTTPRequest,
	})

	r.Register(&Tool{
		Name:        "mcp_call",
		Description: "Call a tool on a configured MCP server.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"server": map[string]any{
					"type":        "string",
					"description": "MCP server base URL key or index.",
				},
				"tool": map[string]any{
					"type":        "string",
					"description": "Tool name to invoke.",
				},
				"arguments": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
				},
			},
			"required": []string{"server", "tool"},
		},
		Handler: r.handleMCPCall,
	})

	r.Register(&Tool{
		Name:        "get_system_status",
		Description: "Report system info: CPU, RAM, disk, uptime.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleSystemStatus,
	})

	r.Register(&Tool{
		Name:        "read_log",
		Description: "Read recent application logs.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path under logs directory.",
				},
				"lines": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": 1000,
					"default": 200,
				},
			},
		},
		Handler: r.handleReadLog,
	})

	r.Register(&Tool{
		Name:        "read_config",
		Description: "Read a configuration file from the whitelisted config directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path under config directory.",
				},
			},
			"required": []string{"path"},
		},
		Handler: r.handleReadConfig,
	})

	r.Register(&Tool{
		Name:        "restart_self",
		Description: "Request the bot to restart itself in a controlled way.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleRestart,
	})
}

func (r *Registry) handleRunCode(ctx context.Context, args map[string]any) Result {
	if r.sandbox == nil {
		return errResult("Sandbox not configured")
	}
	return toResult(r.sandbox.Run(ctx, stringArg(args, "language"), stringArg(args, "code")))
}

func (r *Registry) handleHTTPRequest(ctx context.Context, args map[string]any) Result {
	if r.http == nil {
		return errResult("HTTP tool not configured")
	}
	method := stringArg(args, "method")
	if method == "" {
		method = "GET"
	}
	return r.http.Request(ctx, RequestSpec{
		Method:  method,
		URL:     stringArg(args, "url"),
		Headers: stringMapArg(args, "headers"),
		Params:  stringMapArg(args, "params"),
		Body:    args["body"],
	})
}

func (r *Registry) handleMCPCall(ctx context.Context, args map[string]any) Result {
	if r.mcp == nil {
		return errResult("No MCP servers configured")
	}
	server := stringArg(args, "server")
	if server == "" {
		server = "0"
	}
	return Result(r.mcp.Call(ctx, server, stringArg(args, "tool"), mapArg(args, "arguments")))
}

func (r *Registry) handleSystemStatus(_ context.Context, _ map[string]any) Result {
	return systemStatus()
}

func (r *Registry) handleReadLog(_ context.Context, args map[string]any) Result {
	if r.files == nil {
		return errResult("File access not configured")
	}
	path := stringArg(args, "path")
	if path == "" {
		path = "app.log"
	}
	return r.files.ReadLog(path, intArg(args, "lines", 200))
}

func (r *Registry) handleReadConfig(_ context.Context, args map[string]any) Result {
	if r.files == nil {
		return errResult("File access not configured")
	}
	return r.files.ReadConfig(stringArg(args, "path"))
}

func (r *Registry) handleRestart(_ context.Context, _ map[string]any) Result {
	if r.restarter == nil {
		return errResult("Restart not configured")
	}
	return r.restarter.Restart()
}
