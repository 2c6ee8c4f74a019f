// Package config handles Arbiter configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./arbiter.yaml, ~/.config/arbiter/arbiter.yaml, /etc/arbiter/arbiter.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"arbiter.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "arbiter", "arbiter.yaml"))
	}

	paths = append(paths, "/etc/arbiter/arbiter.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

// Config holds all Arbiter configuration.
type Config struct {
	CommandMarker string            `yaml:"command_marker"`
	Platform      PlatformConfig    `yaml:"platform"`
	LLM           LLMConfig         `yaml:"llm"`
	Capabilities  map[string]string `yaml:"capabilities"` // capability id -> service base URL
	Context       ContextConfig     `yaml:"context"`
	Bindings      []BindingConfig   `yaml:"bindings"`
	MQTT          MQTTConfig        `yaml:"mqtt"`
	Audit         AuditConfig       `yaml:"audit"`
	DataDir       string            `yaml:"data_dir"`
	LogLevel      string            `yaml:"log_level"`
	LogFormat     string            `yaml:"log_format"` // "text" (default) or "json"
}

// PlatformConfig defines the chat-platform gateway connection.
type PlatformConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	Token      string `yaml:"token"`
	// SelfID is the assistant's own user ID on the platform, used to
	// recognize its messages in fetched history.
	SelfID string `yaml:"self_id"`
	// AllowBots permits context collection from other automated senders.
	AllowBots bool `yaml:"allow_bots"`
	// RateLimit is messages per sender per minute; 0 = unlimited.
	RateLimit int `yaml:"rate_limit"`
}

// LLMConfig defines the generative-text backend.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// TimeoutSec bounds a single generation call (default 120).
	TimeoutSec int `yaml:"timeout_sec"`
	// ValidityTTLSec is how long a successful model-availability probe
	// stays trusted before re-checking (default 600).
	ValidityTTLSec int `yaml:"validity_ttl_sec"`
}

// ContextConfig defines conversation-context collection budgets.
type ContextConfig struct {
	Direct  BudgetConfig `yaml:"direct"`  // reply-chain / thread context
	Ambient BudgetConfig `yaml:"ambient"` // surrounding channel context
	// ImageDepth is how many of the nearest reply-chain hops may
	// contribute image attachments.
	ImageDepth int `yaml:"image_depth"`
}

// BudgetConfig is a depth/character budget pair.
type BudgetConfig struct {
	MaxDepth int `yaml:"max_depth"`
	MaxChars int `yaml:"max_chars"`
}

// ContextFilterConfig narrows how much collected context a binding sees.
type ContextFilterConfig struct {
	Enabled  bool `yaml:"enabled"`
	MinDepth int  `yaml:"min_depth"`
	MaxDepth int  `yaml:"max_depth"`
}

// BindingConfig defines a single keyword-to-capability binding.
type BindingConfig struct {
	Keyword     string `yaml:"keyword"`
	Capability  string `yaml:"capability"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	Description string `yaml:"description"`
	Enabled     *bool  `yaml:"enabled"` // nil means true

	AllowEmptyContent bool `yaml:"allow_empty_content"`

	ContextFilter ContextFilterConfig `yaml:"context_filter"`

	// ParameterMode is "explicit", "implicit", or "mixed". Empty means
	// explicit (the typed text is the parameter).
	ParameterMode      string   `yaml:"parameter_mode"`
	ParameterSources   []string `yaml:"parameter_sources"`
	RequiredParameters []string `yaml:"required_parameters"`

	// ForceFinalTextPass runs the capability's raw result through the
	// generative backend to produce a conversational answer.
	ForceFinalTextPass bool `yaml:"force_final_text_pass"`
}

// IsEnabled resolves the tri-state Enabled flag (nil defaults to true).
func (b BindingConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// MQTTConfig defines the optional status publisher connection.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// AuditConfig defines the routing-decision audit store.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // defaults to <data_dir>/audit.db
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
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration with the standard binding set.
func Default() *Config {
	cfg := &Config{
		CommandMarker: "!",
		LLM: LLMConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:8b",
		},
		Context: ContextConfig{
			Direct:  BudgetConfig{MaxDepth: 6, MaxChars: 4000},
			Ambient: BudgetConfig{MaxDepth: 12, MaxChars: 6000},
		},
		Bindings: DefaultBindings(),
		MQTT: MQTTConfig{
			DeviceName:      "arbiter",
			DiscoveryPrefix: "homeassistant",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.CommandMarker == "" {
		c.CommandMarker = "!"
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 120
	}
	if c.LLM.ValidityTTLSec <= 0 {
		c.LLM.ValidityTTLSec = 600
	}
	if c.Context.Direct.MaxDepth <= 0 {
		c.Context.Direct.MaxDepth = 6
	}
	if c.Context.Direct.MaxChars <= 0 {
		c.Context.Direct.MaxChars = 4000
	}
	if c.Context.Ambient.MaxDepth <= 0 {
		c.Context.Ambient.MaxDepth = 12
	}
	if c.Context.Ambient.MaxChars <= 0 {
		c.Context.Ambient.MaxChars = 6000
	}
	if c.Context.ImageDepth <= 0 {
		c.Context.ImageDepth = 2
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "arbiter"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataDir, "audit.db")
	}
}

// DefaultBindings returns the standard capability bindings. Order in
// this slice is cosmetic; the keyword matcher re-sorts by length.
func DefaultBindings() []BindingConfig {
	return []BindingConfig{
		{
			Keyword:     "chat",
			Capability:  "chat",
			TimeoutMs:   120000,
			Description: "Continue the conversation with a plain text reply.",
		},
		{
			Keyword:            "draw",
			Capability:         "image",
			TimeoutMs:          300000,
			Description:        "Generate an image from a text prompt.",
			ParameterMode:      "implicit",
			ParameterSources:   []string{"message", "history"},
			RequiredParameters: []string{"prompt"},
		},
		{
			Keyword:            "search",
			Capability:         "search",
			TimeoutMs:          60000,
			Description:        "Search the web and summarize the results.",
			ParameterMode:      "mixed",
			RequiredParameters: []string{"query"},
			ForceFinalTextPass: true,
		},
		{
			Keyword:            "weather",
			Capability:         "weather",
			TimeoutMs:          30000,
			Description:        "Look up current weather for a location.",
			ForceFinalTextPass: true,
		},
		{
			Keyword:            "scores for nfl",
			Capability:         "sports",
			TimeoutMs:          30000,
			Description:        "Fetch current NFL scores.",
			AllowEmptyContent:  true,
			ForceFinalTextPass: true,
		},
		{
			Keyword:            "nfl",
			Capability:         "sports",
			TimeoutMs:          30000,
			Description:        "Fetch NFL standings and scores.",
			AllowEmptyContent:  true,
			ForceFinalTextPass: true,
		},
		{
			Keyword:            "meme",
			Capability:         "meme",
			TimeoutMs:          120000,
			Description:        "Generate a meme image from a subject.",
			ParameterMode:      "implicit",
			ParameterSources:   []string{"message", "history"},
			RequiredParameters: []string{"subject"},
		},
	}
}
