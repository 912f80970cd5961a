package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yishaik/wotbot/internal/httpkit"
)

// Run statuses from the assistants API.
const (
	runQueued         = "queued"
	runInProgress     = "in_progress"
	runCancelling     = "cancelling"
	runRequiresAction = "requires_action"
	runCompleted      = "completed"
	runFailed         = "failed"
	runCancelled      = "cancelled"
	runExpired        = "expired"
)

// assistantsBeta is sent on every assistants-API request.
var assistantsBeta = map[string]string{"OpenAI-Beta": "assistants=v2"}

// AssistantsConfig extends Options with assistants-specific knobs.
type AssistantsConfig struct {
	Options

	// AssistantID reuses an existing assistant; empty creates one
	// lazily on first use.
	AssistantID string

	// PollInterval is how long to wait between run status polls.
	PollInterval time.Duration

	// PollMaxAttempts caps polling before the run is abandoned.
	PollMaxAttempts int

	// Sleep is swappable for tests; defaults to time.Sleep honoring
	// context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// AssistantsClient drives the assistants protocol: per-user threads,
// runs polled through their status state machine, and tool calls
// surfaced via requires_action and answered with submitted outputs.
type AssistantsClient struct {
	cfg        AssistantsConfig
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	assistantID string
	threads     map[string]string // user ID -> thread ID
}

// NewAssistantsClient creates an assistants-API client.
func NewAssistantsClient(cfg AssistantsConfig) *AssistantsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 240
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AssistantsClient{
		cfg:         cfg,
		logger:      logger.With("backend", "assistants"),
		assistantID: cfg.AssistantID,
		threads:     make(map[string]string),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithLogger(logger),
		),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Assistants wire types.

type assistantObject struct {
	ID string `json:"id"`
}

type threadObject struct {
	ID string `json:"id"`
}

type runObject struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		SubmitToolOutputs struct {
			ToolCalls []struct {
				ID       string       `json:"id"`
				Function chatFunction `json:"function"`
			} `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
}

type threadMessageList struct {
	Data []struct {
		Role    string `json:"role"`
		RunID   string `json:"run_id"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// Complete runs a full assistants turn for one user: append the user
// message to the per-user thread, start a run with the system prompt
// as instructions, drive the run state machine (executing tools on
// requires_action), and return the run's final assistant text. A run
// that ends in a non-completed terminal state still yields whatever
// assistant text it produced, or "(no content)".
func (c *AssistantsClient) Complete(ctx context.Context, userID, systemPrompt, userText string, tools []map[string]any, exec ToolExecutor) (string, error) {
	assistantID, err := c.ensureAssistant(ctx, tools)
	if err != nil {
		return "", err
	}
	threadID, err := c.threadFor(ctx, userID)
	if err != nil {
		return "", err
	}

	msgPayload := map[string]any{"role": "user", "content": userText}
	if err := c.post(ctx, "/threads/"+threadID+"/messages", msgPayload, nil); err != nil {
		return "", fmt.Errorf("append thread message: %w", err)
	}

	runPayload := map[string]any{"assistant_id": assistantID}
	if systemPrompt != "" {
		runPayload["instructions"] = systemPrompt
	}
	var run runObject
	if err := c.post(ctx, "/threads/"+threadID+"/runs", runPayload, &run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	if err := c.driveRun(ctx, threadID, &run, exec); err != nil {
		return "", err
	}

	return c.lastRunMessage(ctx, threadID, run.ID)
}

// driveRun polls the run until it reaches a terminal state, answering
// requires_action along the way.
func (c *AssistantsClient) driveRun(ctx context.Context, threadID string, run *runObject, exec ToolExecutor) error {
	for attempt := 0; attempt < c.cfg.PollMaxAttempts; attempt++ {
		if err := c.get(ctx, "/threads/"+threadID+"/runs/"+run.ID, run); err != nil {
			return fmt.Errorf("retrieve run: %w", err)
		}

		switch run.Status {
		case runRequiresAction:
			if err := c.submitToolOutputs(ctx, threadID, run, exec); err != nil {
				return err
			}
		case runQueued, runInProgress, runCancelling:
			if err := c.cfg.Sleep(ctx, c.cfg.PollInterval); err != nil {
				return err
			}
		case runCompleted:
			return nil
		default:
			// failed, cancelled, expired: fetch whatever text exists.
			c.logger.Warn("run ended without completing", "run_id", run.ID, "status", run.Status)
			return nil
		}
	}
	c.logger.Warn("run polling exhausted", "run_id", run.ID, "status", run.Status)
	return nil
}

func (c *AssistantsClient) submitToolOutputs(ctx context.Context, threadID string, run *runObject, exec ToolExecutor) error {
	if run.RequiredAction == nil {
		return fmt.Errorf("run %s requires action but carries none", run.ID)
	}
	var outputs []map[string]any
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		c.logger.Info("run requested tool", "run_id", run.ID, "tool", call.Function.Name)
		var output string
		if exec != nil {
			output = exec(ctx, call.Function.Name, call.Function.Arguments)
		} else {
			output = `{"ok": false, "error": "Tool execution not available"}`
		}
		outputs = append(outputs, map[string]any{
			"tool_call_id": call.ID,
			"output":       output,
		})
	}

	payload := map[string]any{"tool_outputs": outputs}
	if err := c.post(ctx, "/threads/"+threadID+"/runs/"+run.ID+"/submit_tool_outputs", payload, run); err != nil {
		return fmt.Errorf("submit tool outputs: %w", err)
	}
	return nil
}

// lastRunMessage returns the newest assistant message belonging to the
// run, with its text segments joined.
func (c *AssistantsClient) lastRunMessage(ctx context.Context, threadID, runID string) (string, error) {
	var list threadMessageList
	if err := c.get(ctx, "/threads/"+threadID+"/messages?order=desc&limit=10", &list); err != nil {
		return "", fmt.Errorf("list thread messages: %w", err)
	}

	for _, m := range list.Data {
		if m.Role != "assistant" || m.RunID != runID {
			continue
		}
		var segs []string
		for _, part := range m.Content {
			if part.Type == "text" && part.Text.Value != "" {
				segs = append(segs, part.Text.Value)
			}
		}
		if text := strings.TrimSpace(strings.Join(segs, "\n")); text != "" {
			return text, nil
		}
	}
	return "(no content)", nil
}

// ensureAssistant returns the configured assistant ID, creating an
// assistant with the current tool schemas when none is configured.
func (c *AssistantsClient) ensureAssistant(ctx context.Context, tools []map[string]any) (string, error) {
	c.mu.Lock()
	id := c.assistantID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	payload := map[string]any{
		"model": c.cfg.Model,
		"name":  "wotbot",
		"instructions": "You are wotbot, a chat assistant. Keep replies concise and mobile-friendly. " +
			"Use provided functions for code, HTTP, MCP, and system info.",
		"tools": tools,
	}
	var asst assistantObject
	if err := c.post(ctx, "/assistants", payload, &asst); err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}

	c.mu.Lock()
	c.assistantID = asst.ID
	c.mu.Unlock()
	c.logger.Info("created assistant", "assistant_id", asst.ID)
	return asst.ID, nil
}

// threadFor returns the user's thread, creating one on first use.
func (c *AssistantsClient) threadFor(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	id, ok := c.threads[userID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var th threadObject
	if err := c.post(ctx, "/threads", map[string]any{}, &th); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	c.mu.Lock()
	c.threads[userID] = th.ID
	c.mu.Unlock()
	return th.ID, nil
}

func (c *AssistantsClient) post(ctx context.Context, path string, payload, dst any) error {
	return postJSON(ctx, c.httpClient, c.cfg.BaseURL+path, c.cfg.APIKey, assistantsBeta, payload, dst)
}

func (c *AssistantsClient) get(ctx context.Context, path string, dst any) error {
	return getJSON(ctx, c.httpClient, c.cfg.BaseURL+path, c.cfg.APIKey, assistantsBeta, dst)
}
