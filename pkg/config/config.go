// Package config defines the on-disk configuration document, its
// defaults, and the endpoint-resolution precedence function. Loading the
// document from disk stays a thin wrapper: this package only defines the
// shape consumed by the core.
package config

import (
	"os"

	"github.com/Dbillionaer/llm-council-local/pkg/ckerrors"
	"github.com/Dbillionaer/llm-council-local/pkg/models"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the global endpoint configuration.
type ServerConfig struct {
	APIBaseURL string `yaml:"api_base_url"`
	IPAddress  string `yaml:"ip_address"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
}

// ModelsConfig names the chairman and the council, each with an optional
// per-model endpoint override.
type ModelsConfig struct {
	Chairman      string                 `yaml:"chairman"`
	CouncilMembers []models.ModelEndpoint `yaml:"council_members"`
}

// TitleGenerationConfig configures the background title-generation
// service: worker pool size, retry policy, and the substrings that mark a
// model as a reasoning model for status purposes. TimeoutSeconds is parsed
// and defaulted but not passed to the title service, which bounds each job
// with its own fixed 60-second timeout.
type TitleGenerationConfig struct {
	Enabled        bool     `yaml:"enabled"`
	MaxConcurrent  int      `yaml:"max_concurrent"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	RetryAttempts  int      `yaml:"retry_attempts"`
	ThinkingHints  []string `yaml:"thinking_hints"`
}

// Config is the full configuration document.
type Config struct {
	Server          ServerConfig                 `yaml:"server"`
	Models          ModelsConfig                 `yaml:"models"`
	Deliberation    models.DeliberationConfig     `yaml:"deliberation"`
	TitleGeneration TitleGenerationConfig         `yaml:"title_generation"`
}

// DefaultBaseURL is the built-in fallback endpoint, matching LM Studio's
// default local port (original_source/backend/lmstudio.py).
const DefaultBaseURL = "http://127.0.0.1:1234/v1"

// DefaultThinkingHints are the reasoning-hint substrings used when the
// configuration document does not name any.
var DefaultThinkingHints = []string{"thinking", "reasoning", "o1"}

// WithDefaults fills in zero-valued fields with documented defaults.
func (c Config) WithDefaults() Config {
	c.Deliberation = c.Deliberation.WithDefaults()
	if c.TitleGeneration.MaxConcurrent <= 0 {
		c.TitleGeneration.MaxConcurrent = 2
	}
	if c.TitleGeneration.RetryAttempts <= 0 {
		c.TitleGeneration.RetryAttempts = 3
	}
	if c.TitleGeneration.TimeoutSeconds <= 0 {
		c.TitleGeneration.TimeoutSeconds = 60
	}
	if len(c.TitleGeneration.ThinkingHints) == 0 {
		c.TitleGeneration.ThinkingHints = DefaultThinkingHints
	}
	if c.Server.APIBaseURL == "" && c.Server.IPAddress == "" {
		c.Server.APIBaseURL = DefaultBaseURL
	}
	return c
}

// Load reads and parses a YAML configuration document from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindConfigInvalid, path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ckerrors.Wrap(ckerrors.KindConfigInvalid, path, err)
	}
	cfg = cfg.WithDefaults()
	return &cfg, nil
}

// Validate checks that the document names at least two council members plus
// a chairman, and that rounds/max_rounds are in range.
func (c Config) Validate() error {
	if len(c.Models.CouncilMembers) < 2 {
		return ckerrors.New(ckerrors.KindConfigInvalid, "models.council_members", "at least 2 council members are required")
	}
	if c.Models.Chairman == "" {
		return ckerrors.New(ckerrors.KindConfigInvalid, "models.chairman", "a chairman model must be configured")
	}
	if c.Deliberation.MaxRounds < 1 || c.Deliberation.MaxRounds > 10 {
		return ckerrors.New(ckerrors.KindConfigInvalid, "deliberation.max_rounds", "must be in [1, 10]")
	}
	if c.Deliberation.Rounds < 1 || c.Deliberation.Rounds > c.Deliberation.MaxRounds {
		return ckerrors.New(ckerrors.KindConfigInvalid, "deliberation.rounds", "must be in [1, max_rounds]")
	}
	return nil
}
