// Package config loads relay configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/logger"
	"github.com/fwojciec/relay/mcp"
)

const (
	// DefaultConfigFile is the path checked for YAML configuration.
	DefaultConfigFile = "relay.yaml"
	// DefaultEnvFile is the dotenv file loaded before the environment overlay.
	DefaultEnvFile = ".env"
)

// Config is the complete relay configuration.
type Config struct {
	Server    Server        `yaml:"server"`
	Log       logger.Config `yaml:"log"`
	Store     Store         `yaml:"store"`
	NATS      NATS          `yaml:"nats"`
	Telemetry Telemetry     `yaml:"telemetry"`
	OpenAI    Vendor        `yaml:"openai"`
	Anthropic Vendor        `yaml:"anthropic"`
	Agent     Agent         `yaml:"agent"`
	Workspace Workspace     `yaml:"workspace"`
	MCP       MCP           `yaml:"mcp"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Store selects the event store. A DSN selects postgres, otherwise events
// are kept as JSON files under DataDir.
type Store struct {
	DSN        string `yaml:"dsn"`
	DataDir    string `yaml:"data_dir"`
	CacheBytes int64  `yaml:"cache_bytes"` // 0 disables the read cache
}

// NATS configures broadcasting of committed events. Empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Telemetry configures the OTLP exporters. Empty endpoint disables them.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Vendor holds credentials and endpoint of one LLM vendor.
type Vendor struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Agent configures the orchestration loop.
type Agent struct {
	DefaultModel       string `yaml:"default_model"`
	MaxIterations      int    `yaml:"max_iterations"`
	MaxToolOutputChars int    `yaml:"max_tool_output_chars"`
}

// Workspace is the read-only workspace context applied to every turn.
type Workspace struct {
	ModelOverride    string   `yaml:"model_override"`
	SystemPrompt     string   `yaml:"system_prompt"`
	EnabledTools     []string `yaml:"enabled_tools"`
	ReasoningEffort  string   `yaml:"reasoning_effort"`
	ReasoningSummary string   `yaml:"reasoning_summary"`
}

// Relay converts w to the core workspace type.
func (w Workspace) Relay() relay.Workspace {
	return relay.Workspace{
		ModelOverride:    w.ModelOverride,
		SystemPrompt:     w.SystemPrompt,
		EnabledTools:     w.EnabledTools,
		ReasoningEffort:  w.ReasoningEffort,
		ReasoningSummary: w.ReasoningSummary,
	}
}

// MCP lists the tool servers. Servers are called locally by the executor;
// Remote servers are handed to the vendor.
type MCP struct {
	Builtin Builtin        `yaml:"builtin"`
	Servers []mcp.Endpoint `yaml:"servers"`
	Remote  []RemoteServer `yaml:"remote"`
}

// Builtin enables the in-process workspace tools rooted at Root.
type Builtin struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
}

// RemoteServer is a tool server the vendor calls on its own.
type RemoteServer struct {
	Label   string            `yaml:"label"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Allowed []string          `yaml:"allowed"`
}

// RemoteTools converts the remote servers to the core type.
func (m MCP) RemoteTools() []relay.RemoteToolServer {
	out := make([]relay.RemoteToolServer, 0, len(m.Remote))
	for _, r := range m.Remote {
		out = append(out, relay.RemoteToolServer{
			Label:   r.Label,
			URL:     r.URL,
			Headers: r.Headers,
			Allowed: r.Allowed,
		})
	}
	return out
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: logger.Config{
			Level:   "info",
			Format:  "json",
			Service: "relay",
		},
		Store: Store{
			DataDir:    "data",
			CacheBytes: 64 << 20,
		},
		NATS: NATS{
			SubjectPrefix: "relay.events",
		},
		Telemetry: Telemetry{
			ServiceName: "relay",
		},
		MCP: MCP{
			Builtin: Builtin{Root: "."},
		},
		Agent: Agent{
			DefaultModel:       "gpt-4o",
			MaxIterations:      5,
			MaxToolOutputChars: mcp.DefaultMaxChars,
		},
	}
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV, reading
// DefaultEnvFile into the environment first.
func Load(yamlPath string) (*Config, error) {
	return LoadFrom(yamlPath, DefaultEnvFile)
}

// LoadFrom is Load with an explicit dotenv path. Both files are optional;
// variables already set in the environment win over the dotenv file.
func LoadFrom(yamlPath, envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config env: %w", err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "RELAY_ADDR")
	setDuration(&cfg.Server.ShutdownTimeout, "RELAY_SHUTDOWN_TIMEOUT")
	setString(&cfg.Log.Level, "RELAY_LOG_LEVEL")
	setString(&cfg.Log.Format, "RELAY_LOG_FORMAT")
	setString(&cfg.Store.DSN, "DATABASE_URL")
	setString(&cfg.Store.DataDir, "RELAY_DATA_DIR")
	setInt64(&cfg.Store.CacheBytes, "RELAY_CACHE_BYTES")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "RELAY_NATS_SUBJECT")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.Agent.DefaultModel, "RELAY_DEFAULT_MODEL")
	setInt(&cfg.Agent.MaxIterations, "RELAY_MAX_ITERATIONS")
	setInt(&cfg.Agent.MaxToolOutputChars, "RELAY_MAX_TOOL_OUTPUT_CHARS")
	setString(&cfg.Workspace.ReasoningEffort, "RELAY_REASONING_EFFORT")
	setString(&cfg.Workspace.ReasoningSummary, "RELAY_REASONING_SUMMARY")
	setString(&cfg.Workspace.SystemPrompt, "RELAY_SYSTEM_PROMPT")
	setBool(&cfg.MCP.Builtin.Enabled, "RELAY_BUILTIN_TOOLS")
	setString(&cfg.MCP.Builtin.Root, "RELAY_BUILTIN_ROOT")
}

var (
	logFormats         = []string{"json", "console"}
	reasoningEfforts   = []string{"", "minimal", "low", "medium", "high"}
	reasoningSummaries = []string{"", "auto", "concise", "detailed"}
)

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !slices.Contains(logFormats, cfg.Log.Format) {
		return fmt.Errorf("log.format must be one of %v, got %q", logFormats, cfg.Log.Format)
	}
	if cfg.Store.DSN == "" && cfg.Store.DataDir == "" {
		return errors.New("store.dsn or store.data_dir is required")
	}
	if cfg.Store.CacheBytes < 0 {
		return errors.New("store.cache_bytes must be >= 0")
	}
	if cfg.Agent.MaxIterations < 1 {
		return errors.New("agent.max_iterations must be >= 1")
	}
	if cfg.Agent.MaxToolOutputChars < 1 {
		return errors.New("agent.max_tool_output_chars must be >= 1")
	}
	if !slices.Contains(reasoningEfforts, cfg.Workspace.ReasoningEffort) {
		return fmt.Errorf("workspace.reasoning_effort: invalid value %q", cfg.Workspace.ReasoningEffort)
	}
	if !slices.Contains(reasoningSummaries, cfg.Workspace.ReasoningSummary) {
		return fmt.Errorf("workspace.reasoning_summary: invalid value %q", cfg.Workspace.ReasoningSummary)
	}
	return validateMCP(cfg.MCP)
}

func validateMCP(m MCP) error {
	if m.Builtin.Enabled && m.Builtin.Root == "" {
		return errors.New("mcp.builtin.root is required when enabled")
	}
	seen := make(map[string]bool, len(m.Servers))
	for i, ep := range m.Servers {
		if ep.Name == "" {
			return fmt.Errorf("mcp.servers[%d].name is required", i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("mcp.servers: duplicate name %q", ep.Name)
		}
		seen[ep.Name] = true
		switch ep.Transport {
		case mcp.TransportStdio:
			if ep.Command == "" {
				return fmt.Errorf("mcp.servers[%s]: stdio transport requires command", ep.Name)
			}
		case mcp.TransportSSE, mcp.TransportStreamableHTTP:
			if ep.URL == "" {
				return fmt.Errorf("mcp.servers[%s]: %s transport requires url", ep.Name, ep.Transport)
			}
		default:
			return fmt.Errorf("mcp.servers[%s]: unknown transport %q", ep.Name, ep.Transport)
		}
	}
	for i, r := range m.Remote {
		if r.Label == "" || r.URL == "" {
			return fmt.Errorf("mcp.remote[%d]: label and url are required", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
