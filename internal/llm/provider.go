package llm

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderScripted  = "scripted"
)

// Config selects and configures a backend.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	AWSRegion  string
	AWSProfile string
	// ScriptPath is the reply file for the scripted provider.
	ScriptPath string
}

// New builds the backend named by cfg.Provider.
func New(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic, "":
		return NewAnthropic(AnthropicConfig{
			Model:  anthropic.Model(cfg.Model),
			APIKey: cfg.APIKey,
		})
	case ProviderBedrock:
		return NewAnthropic(AnthropicConfig{
			Model:         anthropic.Model(cfg.Model),
			UseAWSBedrock: true,
			AWSRegion:     cfg.AWSRegion,
			AWSProfile:    cfg.AWSProfile,
		})
	case ProviderOpenAI:
		return NewOpenAI(cfg.Model, cfg.APIKey, cfg.BaseURL)
	case ProviderOllama:
		return NewOllama(cfg.Model, cfg.BaseURL)
	case ProviderScripted:
		if cfg.ScriptPath == "" {
			return nil, fmt.Errorf("scripted provider requires a script file")
		}
		return LoadScript(cfg.ScriptPath)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
