package config

// RepairConfig configures the generative repair client and its circuit breaker.
type RepairConfig struct {
	Provider string `yaml:"provider"` // gemini
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	// Retry budget per repair call
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`

	// Circuit breaker
	FailureThreshold int    `yaml:"failure_threshold"`
	RecoveryTimeout  string `yaml:"recovery_timeout"`
}

// DefaultRepairConfig returns the repair defaults.
func DefaultRepairConfig() RepairConfig {
	return RepairConfig{
		Provider:         "gemini",
		Model:            "gemini-2.5-flash",
		MaxAttempts:      3,
		BaseDelay:        "2s",
		FailureThreshold: 5,
		RecoveryTimeout:  "60s",
	}
}

// RepairEnabled reports whether a repair client can be constructed.
func (c *Config) RepairEnabled() bool {
	return c.Repair.APIKey != ""
}
