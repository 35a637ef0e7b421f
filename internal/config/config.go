// Package config loads the cluster registry: named cluster connection
// records plus lag-monitor settings, from .kafkawatch.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the primary config file name that is auto-discovered.
	DefaultFileName = ".kafkawatch.yaml"
	alternateName   = ".kafkawatch.yml"
)

// Cluster types.
const (
	ClusterKafka = "kafka"
	ClusterMSK   = "msk"
)

// AuthMSKIAM selects SASL/IAM authentication for MSK clusters.
const AuthMSKIAM = "aws-msk-iam"

// Lag-monitor defaults.
const (
	DefaultMonitorInterval   = 5 * time.Minute
	DefaultWarningThreshold  = 1000
	DefaultCriticalThreshold = 10000
	DefaultThrottleWindow    = 5 * time.Minute
)

// ClusterConfig is an immutable description of how to reach one cluster.
type ClusterConfig struct {
	Name             string `yaml:"name"`
	Type             string `yaml:"type"` // kafka | msk
	BootstrapServers string `yaml:"bootstrap_servers,omitempty"`

	// MSK-only fields.
	ClusterARN    string `yaml:"cluster_arn,omitempty"`
	Region        string `yaml:"region,omitempty"`
	AWSProfile    string `yaml:"aws_profile,omitempty"`
	AssumeRoleARN string `yaml:"assume_role_arn,omitempty"`

	AuthMechanism string `yaml:"auth_mechanism,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`

	TLSEnabled  bool   `yaml:"tls,omitempty"`
	TLSCertFile string `yaml:"tls_cert,omitempty"`
	TLSKeyFile  string `yaml:"tls_key,omitempty"`
	TLSCAFile   string `yaml:"tls_ca,omitempty"`

	SchemaRegistryURL string `yaml:"schema_registry_url,omitempty"`
}

// MonitorConfig holds lag-monitor settings.
type MonitorConfig struct {
	Enabled           bool
	Interval          time.Duration
	WarningThreshold  int64
	CriticalThreshold int64
	ThrottleWindow    time.Duration
}

// UnmarshalYAML accepts durations in time.ParseDuration form ("30s",
// "5m") since YAML has no native duration scalar.
func (m *MonitorConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled           bool   `yaml:"enabled"`
		Interval          string `yaml:"interval"`
		WarningThreshold  int64  `yaml:"warning_threshold"`
		CriticalThreshold int64  `yaml:"critical_threshold"`
		ThrottleWindow    string `yaml:"throttle_window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	m.Enabled = raw.Enabled
	m.WarningThreshold = raw.WarningThreshold
	m.CriticalThreshold = raw.CriticalThreshold

	if raw.Interval != "" {
		interval, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("parse monitor interval: %w", err)
		}
		m.Interval = interval
	}
	if raw.ThrottleWindow != "" {
		window, err := time.ParseDuration(raw.ThrottleWindow)
		if err != nil {
			return fmt.Errorf("parse monitor throttle_window: %w", err)
		}
		m.ThrottleWindow = window
	}

	return nil
}

// Config is the loaded registry.
type Config struct {
	Clusters []ClusterConfig `yaml:"clusters"`
	Monitor  MonitorConfig   `yaml:"monitor"`
}

// Load auto-discovers and loads a config file.
// Search order:
// 1) current working directory
// 2) user home directory
// Returns (nil, "", nil) when no file exists.
func Load() (*Config, string, error) {
	paths, err := defaultPaths()
	if err != nil {
		return nil, "", err
	}

	for _, path := range paths {
		cfg, found, err := loadOptionalPath(path)
		if err != nil {
			return nil, "", err
		}
		if found {
			return cfg, path, nil
		}
	}

	return nil, "", nil
}

// LoadFromPath loads and parses a config file from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

func defaultPaths() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve current directory: %w", err)
	}

	paths := []string{
		filepath.Join(cwd, DefaultFileName),
		filepath.Join(cwd, alternateName),
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		for _, name := range []string{DefaultFileName, alternateName} {
			candidate := filepath.Join(home, name)
			if !containsPath(paths, candidate) {
				paths = append(paths, candidate)
			}
		}
	}

	return paths, nil
}

func containsPath(paths []string, target string) bool {
	for _, path := range paths {
		if path == target {
			return true
		}
	}
	return false
}

func loadOptionalPath(path string) (*Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = DefaultMonitorInterval
	}
	if c.Monitor.WarningThreshold <= 0 {
		c.Monitor.WarningThreshold = DefaultWarningThreshold
	}
	if c.Monitor.CriticalThreshold <= 0 {
		c.Monitor.CriticalThreshold = DefaultCriticalThreshold
	}
	if c.Monitor.ThrottleWindow <= 0 {
		c.Monitor.ThrottleWindow = DefaultThrottleWindow
	}

	for i := range c.Clusters {
		cluster := &c.Clusters[i]
		cluster.Name = strings.TrimSpace(cluster.Name)
		if cluster.Type == "" {
			cluster.Type = ClusterKafka
		}
		cluster.Type = strings.ToLower(strings.TrimSpace(cluster.Type))
		if cluster.Type == ClusterMSK && cluster.AuthMechanism == "" {
			cluster.AuthMechanism = AuthMSKIAM
		}
	}
}

// Validate checks registry invariants: unique names, per-type required
// fields, credential pairing, TLS file pairing, threshold ordering.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Clusters))

	for _, cluster := range c.Clusters {
		if cluster.Name == "" {
			return errors.New("cluster name is required")
		}
		if _, dup := seen[cluster.Name]; dup {
			return fmt.Errorf("duplicate cluster name %q", cluster.Name)
		}
		seen[cluster.Name] = struct{}{}

		switch cluster.Type {
		case ClusterKafka:
			if strings.TrimSpace(cluster.BootstrapServers) == "" {
				return fmt.Errorf("cluster %q: bootstrap_servers is required for kafka clusters", cluster.Name)
			}
		case ClusterMSK:
			if cluster.ClusterARN == "" {
				return fmt.Errorf("cluster %q: cluster_arn is required for msk clusters", cluster.Name)
			}
			if cluster.Region == "" {
				return fmt.Errorf("cluster %q: region is required for msk clusters", cluster.Name)
			}
		default:
			return fmt.Errorf("cluster %q: unknown type %q (expected kafka or msk)", cluster.Name, cluster.Type)
		}

		mechanism := strings.ToLower(cluster.AuthMechanism)
		if mechanism != "" && mechanism != AuthMSKIAM {
			if cluster.Username == "" || cluster.Password == "" {
				return fmt.Errorf("cluster %q: auth_mechanism %q requires username and password", cluster.Name, cluster.AuthMechanism)
			}
		}

		if (cluster.TLSCertFile == "") != (cluster.TLSKeyFile == "") {
			return fmt.Errorf("cluster %q: tls_cert and tls_key must be provided together", cluster.Name)
		}
	}

	if c.Monitor.WarningThreshold >= c.Monitor.CriticalThreshold {
		return fmt.Errorf("monitor warning_threshold (%d) must be below critical_threshold (%d)",
			c.Monitor.WarningThreshold, c.Monitor.CriticalThreshold)
	}

	return nil
}

// Cluster returns the named cluster record.
func (c *Config) Cluster(name string) (ClusterConfig, error) {
	for _, cluster := range c.Clusters {
		if cluster.Name == name {
			return cluster, nil
		}
	}
	return ClusterConfig{}, fmt.Errorf("cluster %q is not configured", name)
}

// ClusterNames returns the configured cluster names in file order.
func (c *Config) ClusterNames() []string {
	names := make([]string, 0, len(c.Clusters))
	for _, cluster := range c.Clusters {
		names = append(names, cluster.Name)
	}
	return names
}
