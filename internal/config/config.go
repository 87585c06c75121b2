// Package config handles configuration loading and management for aime.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. AIME_ORCHESTRATOR_MAX_ROUNDS.
const EnvPrefix = "AIME"

// ProjectFileName is the project config file searched for upward from the
// working directory.
const ProjectFileName = ".aime.yaml"

// Config holds all configuration for aime.
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	State        StateConfig        `mapstructure:"state"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Events       EventsConfig       `mapstructure:"events"`
	Log          LogConfig          `mapstructure:"log"`
	Server       ServerConfig       `mapstructure:"server"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
}

// LLMConfig selects the completion backend.
type LLMConfig struct {
	// Provider is anthropic, bedrock, openai, ollama or scripted.
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	// Script is the reply file of the scripted provider.
	Script    string `mapstructure:"script"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// AgentConfig bounds every agent run.
type AgentConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	RetryBudget   int           `mapstructure:"retry_budget"`
	Backoff       time.Duration `mapstructure:"backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	// StopPolicy is "finish" or "tool_result".
	StopPolicy string `mapstructure:"stop_policy"`
	// Templates is an optional YAML file replacing the built-in templates.
	Templates string `mapstructure:"templates"`
}

// OrchestratorConfig bounds a run.
type OrchestratorConfig struct {
	MaxRounds  int           `mapstructure:"max_rounds"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxAgents  int           `mapstructure:"max_agents"`
	Parallel   bool          `mapstructure:"parallel"`
	DebugLog   string        `mapstructure:"debug_log"`
	SignalsDir string        `mapstructure:"signals_dir"`
}

// StateConfig selects where snapshots and the run journal are kept.
type StateConfig struct {
	// Backend is file, sqlite or redis.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Keep    int    `mapstructure:"keep"`
	Journal string `mapstructure:"journal"`
}

// RedisConfig holds the redis state backend connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// EventsConfig selects where run events are published.
type EventsConfig struct {
	Buffer       int      `mapstructure:"buffer"`
	File         string   `mapstructure:"file"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the status server. An empty address disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// CapabilitiesConfig configures the builtin tools.
type CapabilitiesConfig struct {
	// Root confines the file and search tools.
	Root string `mapstructure:"root"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (AIME_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.aime.yaml in current directory or parent)
// 3. User config (~/.config/aime/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	for key, value := range cfg.Settings() {
		v.Set(key, value)
	}
	return v.WriteConfig()
}

// Settings returns the configuration as flat dotted keys, as written by
// Save and printed by "aime config show". Durations are rendered as strings.
func (c *Config) Settings() map[string]interface{} {
	return map[string]interface{}{
		"llm.provider":             c.LLM.Provider,
		"llm.model":                c.LLM.Model,
		"llm.api_key":              c.LLM.APIKey,
		"llm.base_url":             c.LLM.BaseURL,
		"llm.aws_region":           c.LLM.AWSRegion,
		"llm.aws_profile":          c.LLM.AWSProfile,
		"llm.script":               c.LLM.Script,
		"llm.max_tokens":           c.LLM.MaxTokens,
		"agent.max_iterations":     c.Agent.MaxIterations,
		"agent.retry_budget":       c.Agent.RetryBudget,
		"agent.backoff":            c.Agent.Backoff.String(),
		"agent.max_backoff":        c.Agent.MaxBackoff.String(),
		"agent.stop_policy":        c.Agent.StopPolicy,
		"agent.templates":          c.Agent.Templates,
		"orchestrator.max_rounds":  c.Orchestrator.MaxRounds,
		"orchestrator.timeout":     c.Orchestrator.Timeout.String(),
		"orchestrator.max_agents":  c.Orchestrator.MaxAgents,
		"orchestrator.parallel":    c.Orchestrator.Parallel,
		"orchestrator.debug_log":   c.Orchestrator.DebugLog,
		"orchestrator.signals_dir": c.Orchestrator.SignalsDir,
		"state.backend":            c.State.Backend,
		"state.path":               c.State.Path,
		"state.keep":               c.State.Keep,
		"state.journal":            c.State.Journal,
		"redis.addr":               c.Redis.Addr,
		"redis.password":           c.Redis.Password,
		"redis.db":                 c.Redis.DB,
		"redis.key":                c.Redis.Key,
		"events.buffer":            c.Events.Buffer,
		"events.file":              c.Events.File,
		"events.kafka_brokers":     c.Events.KafkaBrokers,
		"events.kafka_topic":       c.Events.KafkaTopic,
		"log.level":                c.Log.Level,
		"log.format":               c.Log.Format,
		"server.addr":              c.Server.Addr,
		"capabilities.root":        c.Capabilities.Root,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults registers every key, so that AutomaticEnv can override keys
// that no config file sets.
func setDefaults(v *viper.Viper) {
	for key, value := range Default().Settings() {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for aime.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "aime")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "aime")
	}
	return filepath.Join(home, ".config", "aime")
}

// findProjectConfig searches for .aime.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: 1024,
		},
		Agent: AgentConfig{
			MaxIterations: 5,
			RetryBudget:   2,
			Backoff:       500 * time.Millisecond,
			MaxBackoff:    8 * time.Second,
			StopPolicy:    "finish",
		},
		Orchestrator: OrchestratorConfig{
			MaxRounds:  8,
			Timeout:    10 * time.Minute,
			MaxAgents:  3,
			SignalsDir: filepath.Join(".aime", "signals"),
		},
		State: StateConfig{
			Backend: "file",
			Path:    "aime_state.json",
			Keep:    20,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			Key:  "aime:state",
		},
		Events: EventsConfig{
			Buffer:     256,
			KafkaTopic: "aime.events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Capabilities: CapabilitiesConfig{
			Root: ".",
		},
	}
}
