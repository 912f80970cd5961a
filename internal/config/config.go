// Package config handles wotbot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names selectable via Config.Backend.
const (
	// BackendChat uses the plain chat-completions API with function calling.
	BackendChat = "chat"
	// BackendResponses uses the structured responses API.
	BackendResponses = "responses"
	// BackendAssistants uses the thread/run assistant API.
	BackendAssistants = "assistants"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/wotbot/config.yaml, /etc/wotbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wotbot", "config.yaml"))
	}

	paths = append(paths, "/etc/wotbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all wotbot configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	Backend   string         `yaml:"backend"` // chat, responses, assistants
	OpenAI    OpenAIConfig   `yaml:"openai"`
	Engine    EngineConfig   `yaml:"engine"`
	Sandbox   SandboxConfig  `yaml:"sandbox"`
	HTTPTool  HTTPToolConfig `yaml:"http_tool"`
	MCP       MCPConfig      `yaml:"mcp"`
	AdminIDs  []string       `yaml:"admin_ids"` // user IDs allowed to restart the bot
	DataDir   string         `yaml:"data_dir"`
	LogsDir   string         `yaml:"logs_dir"`
	ConfigDir string         `yaml:"config_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OpenAIConfig defines the LLM backend connection settings.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"` // default https://api.openai.com/v1
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Assistant/run backend settings.
	AssistantID     string `yaml:"assistant_id"`      // reuse an existing assistant, else one is created
	PollIntervalMS  int    `yaml:"poll_interval_ms"`  // run status poll interval (default 500)
	PollMaxAttempts int    `yaml:"poll_max_attempts"` // give up after this many polls (default 240)
}

// PollInterval returns the run poll interval as a duration.
func (c OpenAIConfig) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// EngineConfig tunes the conversation engine loop.
type EngineConfig struct {
	// MaxToolIterations bounds the tool-call loop so a looping model
	// cannot stall a conversation forever.
	MaxToolIterations int `yaml:"max_tool_iterations"`
	// HistoryWindow is how many trailing session messages are sent to
	// the model on each turn.
	HistoryWindow int `yaml:"history_window"`
	// ChunkSize is the maximum outbound message fragment length.
	ChunkSize int `yaml:"chunk_size"`
	// DeveloperModeDefault turns developer mode on for new sessions.
	DeveloperModeDefault bool `yaml:"developer_mode_default"`
	// SystemPrompt overrides the built-in system prompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`
}

// SandboxConfig limits untrusted code execution.
type SandboxConfig struct {
	// TimeoutSec is the CPU and wall-clock limit for a snippet (default 5).
	TimeoutSec int `yaml:"timeout_sec"`
	// MemoryMB is the address-space limit for the child process (default 128).
	MemoryMB int `yaml:"memory_mb"`
	// PythonBin is the python interpreter to spawn (default "python3").
	PythonBin string `yaml:"python_bin"`
	// NodeBin is the node interpreter to spawn (default "node").
	NodeBin string `yaml:"node_bin"`
}

// Timeout returns the snippet time limit as a duration.
func (c SandboxConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// HTTPToolConfig restricts the http_request tool.
type HTTPToolConfig struct {
	// AllowDomains is the outbound domain allowlist. "*" allows all.
	// Empty denies all requests.
	AllowDomains []string `yaml:"allow_domains"`
	// TimeoutSec is the outbound request timeout (default 12).
	TimeoutSec int `yaml:"timeout_sec"`
}

// Timeout returns the http_request timeout as a duration.
func (c HTTPToolConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 12 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// MCPConfig lists remote tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
	// Token is sent as a Bearer token to HTTP servers when set.
	Token string `yaml:"token"`
	// TimeoutSec bounds a single MCP round trip (default 10).
	TimeoutSec int `yaml:"timeout_sec"`
}

// Timeout returns the MCP round-trip timeout as a duration.
func (c MCPConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// MCPServerConfig describes one remote tool server. Exactly one of URL
// or Command should be set: URL selects the HTTP transport, Command the
// stdio subprocess transport.
type MCPServerConfig struct {
	URL     string   `yaml:"url"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		Backend: BackendChat,
		OpenAI: OpenAIConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			Temperature:     0.3,
			MaxTokens:       600,
			PollIntervalMS:  500,
			PollMaxAttempts: 240,
		},
		Engine: EngineConfig{
			MaxToolIterations: 4,
			HistoryWindow:     10,
			ChunkSize:         1200,
		},
		Sandbox: SandboxConfig{
			TimeoutSec: 5,
			MemoryMB:   128,
			PythonBin:  "python3",
			NodeBin:    "node",
		},
		HTTPTool: HTTPToolConfig{
			AllowDomains: []string{"*"},
			TimeoutSec:   12,
		},
		MCP:       MCPConfig{TimeoutSec: 10},
		DataDir:   "data",
		LogsDir:   "logs",
		ConfigDir: "data/config",
	}
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendChat, BackendResponses, BackendAssistants:
	default:
		return fmt.Errorf("unknown backend %q (valid: chat, responses, assistants)", c.Backend)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	for i, srv := range c.MCP.Servers {
		if srv.URL == "" && srv.Command == "" {
			return fmt.Errorf("mcp server %d: one of url or command is required", i)
		}
		if srv.URL != "" && srv.Command != "" {
			return fmt.Errorf("mcp server %d: url and command are mutually exclusive", i)
		}
	}
	return nil
}

// IsAdmin reports whether userID is in the admin allowlist.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}
