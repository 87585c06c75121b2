package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// APIKeyEnv returns the environment variable holding the key of provider,
// or "" for providers that need none.
func APIKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic", "":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

// NeedsAPIKey reports whether provider authenticates with an API key.
// Bedrock uses the AWS credential chain and ollama is local.
func NeedsAPIKey(provider string) bool {
	return APIKeyEnv(provider) != ""
}

// GetAPIKey returns the API key for the configured provider.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	provider := ""
	if cfg != nil {
		provider = cfg.LLM.Provider
	}
	if env := APIKeyEnv(provider); env != "" {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}

	if cfg != nil && cfg.LLM.APIKey != "" {
		key := os.ExpandEnv(cfg.LLM.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// ValidateAPIKey performs basic format validation on a key for provider.
// It does not verify the key with the provider.
func ValidateAPIKey(provider, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	var prefix string
	switch strings.ToLower(provider) {
	case "anthropic", "":
		prefix = "sk-ant-"
	case "openai":
		prefix = "sk-"
	}
	if prefix != "" && !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("invalid API key format: expected '%s' prefix", prefix)
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	provider := ""
	if cfg != nil {
		provider = cfg.LLM.Provider
	}
	if env := APIKeyEnv(provider); env != "" && os.Getenv(env) != "" {
		return KeySourceEnv
	}
	if cfg != nil && cfg.LLM.APIKey != "" {
		return KeySourceConfig
	}
	return KeySourceNone
}
