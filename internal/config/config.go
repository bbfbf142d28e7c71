package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gramforge configuration.
type Config struct {
	// Core settings
	Name string `yaml:"name"`

	// Filesystem layout of the grammar tree and build artifacts
	Paths PathsConfig `yaml:"paths"`

	// External grammar compiler invocation
	Execution ExecutionConfig `yaml:"execution"`

	// Blueprint synthesis
	Strategy StrategyConfig `yaml:"strategy"`

	// Generative repair service
	Repair RepairConfig `yaml:"repair"`

	// Durable job queue
	Queue QueueConfig `yaml:"queue"`

	// Companion audit tool
	Audit AuditConfig `yaml:"audit"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig locates the grammar tree and the files the pipeline reads and writes.
type PathsConfig struct {
	Root          string `yaml:"root"`           // grammar workspace root
	AbstractDir   string `yaml:"abstract_dir"`   // language-independent modules
	GeneratedDir  string `yaml:"generated_dir"`  // generated concrete sources
	ModuleTree    string `yaml:"module_tree"`    // per-family shared modules (one subdir per family)
	BuildDir      string `yaml:"build_dir"`      // compiler object output
	LogDir        string `yaml:"log_dir"`        // per-language diagnostic logs
	Inventory     string `yaml:"inventory"`      // module inventory JSON
	Strategies    string `yaml:"strategies"`     // strategy ladder YAML (empty = built-in)
	Languages     string `yaml:"languages"`      // target language table YAML (optional)
	BuildPlan     string `yaml:"build_plan"`     // persisted BuildPlan JSON
	FailureReport string `yaml:"failure_report"` // FailureReport JSON
	AuditCache    string `yaml:"audit_cache"`    // audit cache JSON
}

// StrategyConfig configures the Strategist.
type StrategyConfig struct {
	FailOnRegression bool              `yaml:"fail_on_regression"`
	Context          map[string]string `yaml:"context"` // build context variables substituted into templates
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "gramforge",

		Paths: PathsConfig{
			Root:          ".",
			AbstractDir:   "abstract",
			GeneratedDir:  "generated",
			ModuleTree:    "lib/src",
			BuildDir:      "build",
			LogDir:        "build/logs",
			Inventory:     "data/inventory.json",
			BuildPlan:     "data/build_plan.json",
			FailureReport: "data/failure_report.json",
			AuditCache:    "data/audit_cache.json",
		},

		Execution: DefaultExecutionConfig(),

		Strategy: StrategyConfig{
			FailOnRegression: false,
			Context: map[string]string{
				"ambiguity": "first",
			},
		},

		Repair: DefaultRepairConfig(),

		Queue: QueueConfig{
			DSN:        "data/queue.db",
			Name:       "grammar_builds",
			PopTimeout: "5s",
			Lease:      "30m",
			RetryDelay: "5s",
		},

		Audit: AuditConfig{
			Workers:  4,
			Debounce: "500ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
			// Defaults when the file does not exist
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Called once at startup; nothing re-reads the environment afterwards.
func (c *Config) applyEnvOverrides() {
	// Queue connection
	if dsn := os.Getenv("FORGE_QUEUE_DSN"); dsn != "" {
		c.Queue.DSN = dsn
	}
	if name := os.Getenv("FORGE_QUEUE_NAME"); name != "" {
		c.Queue.Name = name
	}

	// Repair service (GOOGLE_API_KEY wins, matching the genai client's own lookup)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Repair.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Repair.APIKey = key
	}
	if model := os.Getenv("FORGE_REPAIR_MODEL"); model != "" {
		c.Repair.Model = model
	}

	// Compiler binary
	if bin := os.Getenv("FORGE_COMPILER"); bin != "" {
		c.Execution.Binary = bin
	}
}

// Resolve returns p joined to the configured root unless it is already absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.Root, p)
}

// GetPopTimeout returns the queue pop timeout as a duration.
func (c *Config) GetPopTimeout() time.Duration {
	return parseDuration(c.Queue.PopTimeout, 5*time.Second)
}

// GetLease returns how long a popped job stays invisible to other workers.
func (c *Config) GetLease() time.Duration {
	return parseDuration(c.Queue.Lease, 30*time.Minute)
}

// GetQueueRetryDelay returns the base delay before retrying a failed queue operation.
func (c *Config) GetQueueRetryDelay() time.Duration {
	return parseDuration(c.Queue.RetryDelay, 5*time.Second)
}

// GetCompileTimeout returns the per-invocation compiler timeout.
func (c *Config) GetCompileTimeout() time.Duration {
	return parseDuration(c.Execution.Timeout, 10*time.Minute)
}

// GetRepairBaseDelay returns the first backoff interval of the repair client.
func (c *Config) GetRepairBaseDelay() time.Duration {
	return parseDuration(c.Repair.BaseDelay, 2*time.Second)
}

// GetRecoveryTimeout returns how long the repair breaker stays open.
func (c *Config) GetRecoveryTimeout() time.Duration {
	return parseDuration(c.Repair.RecoveryTimeout, 60*time.Second)
}

// GetAuditDebounce returns the watch-mode debounce interval.
func (c *Config) GetAuditDebounce() time.Duration {
	return parseDuration(c.Audit.Debounce, 500*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Execution.Binary == "" {
		return fmt.Errorf("execution.binary not configured (set FORGE_COMPILER)")
	}
	if c.Execution.AbstractModule == "" {
		return fmt.Errorf("execution.abstract_module not configured")
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name must not be empty")
	}
	return c.ValidateLimits()
}
