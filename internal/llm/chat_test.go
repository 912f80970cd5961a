package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeChatContent(t *testing.T) {
	resp := &chatResponse{
		Model: "gpt-4o-mini",
		Choices: []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		}{
			{Message: chatMessage{Role: "assistant", Content: "hello"}},
		},
		Usage: chatUsage{PromptTokens: 12, CompletionTokens: 3},
	}

	out := normalizeChat(resp)
	if out.Content != "hello" || out.Empty {
		t.Errorf("out = %+v", out)
	}
	if out.InputTokens != 12 || out.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d", out.InputTokens, out.OutputTokens)
	}
}

func TestNormalizeChatToolCalls(t *testing.T) {
	resp := &chatResponse{
		Choices: []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		}{
			{Message: chatMessage{
				Role: "assistant",
				ToolCalls: []chatToolCall{
					{ID: "call_1", Type: "function", Function: chatFunction{Name: "run_code", Arguments: `{"language":"python"}`}},
				},
			}},
		},
	}

	out := normalizeChat(resp)
	if len(out.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(out.ToolCalls))
	}
	tc := out.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "run_code" || tc.Arguments != `{"language":"python"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestNormalizeChatNoChoices(t *testing.T) {
	out := normalizeChat(&chatResponse{})
	if !out.Empty {
		t.Errorf("out = %+v, want Empty", out)
	}
}

// Canonical messages survive the trip through the wire shape and back.
func TestChatWireRoundTrip(t *testing.T) {
	in := []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "run it"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{
			{ID: "call_9", Name: "run_code", Arguments: `{"code":"print(1)"}`},
		}},
		{Role: "tool", ToolCallID: "call_9", Content: `{"ok":true}`},
	}

	wire := toChatWire(in)
	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []chatMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if len(decoded) != len(in) {
		t.Fatalf("decoded %d messages, want %d", len(decoded), len(in))
	}
	if decoded[2].ToolCalls[0].Function.Name != "run_code" {
		t.Errorf("tool call name = %q", decoded[2].ToolCalls[0].Function.Name)
	}
	if decoded[2].ToolCalls[0].Type != "function" {
		t.Errorf("tool call type = %q", decoded[2].ToolCalls[0].Type)
	}
	if decoded[3].ToolCallID != "call_9" {
		t.Errorf("tool_call_id = %q", decoded[3].ToolCallID)
	}
}

func TestChatClientRequestShape(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	c := NewChatClient(Options{
		APIKey:      "key123",
		BaseURL:     srv.URL,
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   600,
	})
	tools := []map[string]any{{"type": "function"}}
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Content != "ok" {
		t.Errorf("content = %q", out.Content)
	}

	if auth != "Bearer key123" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != "gpt-4o-mini" || got.Temperature != 0.3 || got.MaxTokens != 600 {
		t.Errorf("request = %+v", got)
	}
	if got.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q, want auto", got.ToolChoice)
	}
}

func TestChatClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewChatClient(Options{BaseURL: srv.URL})
	if _, err := c.Chat(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for 429 response")
	}
}
