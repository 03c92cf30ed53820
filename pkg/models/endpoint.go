package models

// ModelEndpoint is a model identifier plus resolved connection parameters.
// Empty fields mean "inherit" per the per-model, then global, then
// built-in default resolution precedence.
type ModelEndpoint struct {
	ModelID    string `json:"model_id" yaml:"model_id"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	IPAddress  string `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// DeliberationConfig controls one deliberation request: which models sit on
// the council, who chairs synthesis, and the Stage-2 round/refinement
// policy.
type DeliberationConfig struct {
	CouncilModels     []string `json:"council_models" yaml:"council_models"`
	Chairman          string   `json:"chairman" yaml:"chairman"`
	Rounds            int      `json:"rounds" yaml:"rounds"`
	MaxRounds         int      `json:"max_rounds" yaml:"max_rounds"`
	EnableCrossReview bool     `json:"enable_cross_review" yaml:"enable_cross_review"`
	QualityThreshold  float64  `json:"quality_threshold" yaml:"quality_threshold"`
}

// DefaultQualityThreshold is 30% of the 1-5 rating scale, the threshold
// below which a draft is sent back for refinement.
const DefaultQualityThreshold = 1.5

// WithDefaults returns a copy of c with zero-valued fields replaced by the
// documented defaults.
func (c DeliberationConfig) WithDefaults() DeliberationConfig {
	if c.Rounds <= 0 {
		c.Rounds = 1
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.MaxRounds > 10 {
		c.MaxRounds = 10
	}
	if c.Rounds > c.MaxRounds {
		c.Rounds = c.MaxRounds
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	return c
}
