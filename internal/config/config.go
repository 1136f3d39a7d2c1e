// Package config assembles the server configuration from flags, the
// environment, and an optional stage-policy file.
package config

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/stagegate/stagegate/internal/domain"
)

// Config is the full server configuration.
type Config struct {
	BindHost      string
	Port          string
	DBPath        string
	LogFormat     string
	LogLevel      string
	Engine        string // "sync" or "durable"
	PolicyFile    string
	StagePolicies domain.PolicyTable
}

// New parses flags (with environment fallbacks) and loads the stage
// policy table.
func New(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("stagegate-server", flag.ContinueOnError)
	fs.StringVar(&cfg.BindHost, "bind-host", os.Getenv("BIND_HOST"), "Bind host")
	fs.StringVar(&cfg.Port, "port", envOrDefault("PORT", "8080"), "Port to listen on")
	fs.StringVar(&cfg.DBPath, "db-path", envOrDefault("DB_PATH", "stagegate.db"), "SQLite database path")
	fs.StringVar(&cfg.LogFormat, "log-format", envOrDefault("LOG_FORMAT", "json"), "which log format to use")
	fs.StringVar(&cfg.LogLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "which log level to output")
	fs.StringVar(&cfg.Engine, "engine", envOrDefault("WORKFLOW_ENGINE", "durable"), "workflow engine: sync or durable")
	fs.StringVar(&cfg.PolicyFile, "stage-policies", os.Getenv("STAGE_POLICIES"), "YAML file with per-stage approval policies")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Engine != "sync" && cfg.Engine != "durable" {
		return nil, fmt.Errorf("unknown workflow engine %q", cfg.Engine)
	}

	policies, err := loadPolicies(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	cfg.StagePolicies = policies

	return cfg, nil
}

// ListenAddr returns the host:port the server binds to.
func (c *Config) ListenAddr() string {
	return c.BindHost + ":" + c.Port
}

// policyFile is the YAML shape of the stage policy table. Soak windows
// use Go duration syntax ("90s", "5m").
type policyFile struct {
	Stages map[string]struct {
		MinApprovals int    `yaml:"min_approvals"`
		Soak         string `yaml:"soak"`
	} `yaml:"stages"`
}

// loadPolicies reads the policy table from path, starting from the
// defaults so a file only has to name the stages it overrides. An empty
// path returns the defaults.
func loadPolicies(path string) (domain.PolicyTable, error) {
	policies := domain.DefaultPolicies()
	if path == "" {
		return policies, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage policies: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse stage policies: %w", err)
	}

	for name, entry := range file.Stages {
		stage := domain.StageName(name)
		if !stage.Valid() {
			return nil, fmt.Errorf("stage policies: unknown stage %q", name)
		}
		if entry.MinApprovals < 0 {
			return nil, fmt.Errorf("stage policies: %s: min_approvals must be >= 0", name)
		}
		policy := domain.StagePolicy{MinApprovals: entry.MinApprovals}
		if entry.Soak != "" {
			soak, err := time.ParseDuration(entry.Soak)
			if err != nil {
				return nil, fmt.Errorf("stage policies: %s: %w", name, err)
			}
			if soak < 0 {
				return nil, fmt.Errorf("stage policies: %s: soak must be >= 0", name)
			}
			policy.Soak = soak
		}
		policies[stage] = policy
	}
	return policies, nil
}

func envOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
