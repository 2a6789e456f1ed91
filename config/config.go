// Package config provides YAML configuration parsing for nodewatch.
//
// This package enables running nodewatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	nodes_file: nodes.yaml
//
//	subscriptions:
//	  - name: cpu
//	    endpoint: /v1/monitor/cpu
//	    interval: 1s
//	    timeout: 5s
//	  - name: geoip
//	    endpoint: /v1/lookup/geo
//	    interval: 15m
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minInterval is the minimum allowed polling interval. This prevents
// accidental DoS of a node with overly aggressive polling.
const minInterval = 1 * time.Second

// maxInterval caps the polling interval: slower than this and the dashboard
// is effectively static.
const maxInterval = time.Hour

// Config is the root configuration structure for nodewatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the diagnostic HTTP API port. Defaults to 8080.
	Port int `yaml:"port"`

	// NodesFile is the path of the YAML node registry.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}.
	// Defaults to "nodes.yaml".
	NodesFile string `yaml:"nodes_file"`

	// Subscriptions defines the data feeds to poll on the active node.
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// SubscriptionConfig defines a single polled data feed.
type SubscriptionConfig struct {
	// Name is the feed's identifier in the diagnostic API and logs.
	Name string `yaml:"name"`

	// Endpoint is the path polled on the active node, e.g. "/v1/monitor/cpu".
	Endpoint string `yaml:"endpoint"`

	// Interval is the fixed poll cadence for this feed.
	// Accepts duration strings like "1s", "30s", "15m". Defaults to 15s.
	Interval Duration `yaml:"interval"`

	// Timeout is the per-request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// FailureThreshold is the consecutive-failure count that degrades the
	// feed from connected to retrying. Defaults to 3.
	FailureThreshold int `yaml:"failure_threshold"`

	// Grace is how long the feed stays in retrying before being considered
	// disconnected. Defaults to 3s.
	Grace Duration `yaml:"grace"`

	// BootstrapGrace bounds the initial loading state. Defaults to 3s.
	BootstrapGrace Duration `yaml:"bootstrap_grace"`

	// Headers are extra HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before use.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in NodesFile and header values.
// Defaults are applied for Port (8080) and NodesFile ("nodes.yaml").
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.NodesFile == "" {
		cfg.NodesFile = "nodes.yaml"
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	expanded, err := expandEnvVars(c.NodesFile)
	if err != nil {
		return fmt.Errorf("nodes_file: %w", err)
	}
	c.NodesFile = expanded

	seen := make(map[string]bool, len(c.Subscriptions))
	for i := range c.Subscriptions {
		sc := &c.Subscriptions[i]

		if sc.Name == "" {
			return fmt.Errorf("subscriptions[%d]: name is required", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("subscriptions[%d]: duplicate name %q", i, sc.Name)
		}
		seen[sc.Name] = true

		if sc.Endpoint == "" {
			return fmt.Errorf("subscriptions[%d] (%s): endpoint is required", i, sc.Name)
		}
		if !strings.HasPrefix(sc.Endpoint, "/") {
			return fmt.Errorf("subscriptions[%d] (%s): endpoint must be a path starting with /", i, sc.Name)
		}

		if sc.Interval != 0 {
			if sc.Interval.Duration() < minInterval {
				return fmt.Errorf("subscriptions[%d] (%s): interval must be at least %s, got %s",
					i, sc.Name, minInterval, sc.Interval.Duration())
			}
			if sc.Interval.Duration() > maxInterval {
				return fmt.Errorf("subscriptions[%d] (%s): interval must not exceed %s, got %s",
					i, sc.Name, maxInterval, sc.Interval.Duration())
			}
		}

		if sc.Timeout != 0 && sc.Timeout.Duration() < time.Second {
			return fmt.Errorf("subscriptions[%d] (%s): timeout must be at least 1s if specified, got %s",
				i, sc.Name, sc.Timeout.Duration())
		}

		if sc.FailureThreshold < 0 {
			return fmt.Errorf("subscriptions[%d] (%s): failure_threshold cannot be negative", i, sc.Name)
		}

		for k, v := range sc.Headers {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("subscriptions[%d] (%s): headers[%s]: %w", i, sc.Name, k, err)
			}
			sc.Headers[k] = expanded
		}
	}

	return nil
}
