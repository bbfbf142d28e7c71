package config

import "fmt"

// QueueConfig configures the durable job queue.
type QueueConfig struct {
	DSN        string `yaml:"dsn"`         // SQLite database path
	Name       string `yaml:"name"`        // logical queue name
	PopTimeout string `yaml:"pop_timeout"` // bounded wait per pop
	Lease      string `yaml:"lease"`       // redelivery delay for unacknowledged jobs
	RetryDelay string `yaml:"retry_delay"` // backoff base after connectivity errors
}

// AuditConfig configures the companion audit tool.
type AuditConfig struct {
	Workers  int    `yaml:"workers"`
	Debounce string `yaml:"debounce"`
}

// ValidateLimits checks that numeric limits are within acceptable ranges.
func (c *Config) ValidateLimits() error {
	if c.Repair.MaxAttempts < 1 {
		return fmt.Errorf("repair.max_attempts must be >= 1")
	}
	if c.Repair.FailureThreshold < 1 {
		return fmt.Errorf("repair.failure_threshold must be >= 1")
	}
	if c.Audit.Workers < 1 {
		return fmt.Errorf("audit.workers must be >= 1")
	}
	if c.Execution.MaxOutputBytes < 0 {
		return fmt.Errorf("execution.max_output_bytes must be >= 0")
	}
	return nil
}
