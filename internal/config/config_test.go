package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromPathFullConfig(t *testing.T) {
	path := writeConfig(t, `
clusters:
  - name: local
    type: kafka
    bootstrap_servers: "localhost:9092, localhost:9093"
  - name: prod
    type: msk
    cluster_arn: arn:aws:kafka:us-east-1:1:cluster/prod/abc
    region: us-east-1
    aws_profile: production
    assume_role_arn: arn:aws:iam::1:role/msk-admin
monitor:
  enabled: true
  interval: 30s
  warning_threshold: 500
  critical_threshold: 5000
  throttle_window: 10m
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if len(cfg.Clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(cfg.Clusters))
	}

	local, err := cfg.Cluster("local")
	if err != nil {
		t.Fatalf("Cluster(local): %v", err)
	}
	if local.Type != ClusterKafka {
		t.Errorf("local type = %q", local.Type)
	}

	prod, err := cfg.Cluster("prod")
	if err != nil {
		t.Fatalf("Cluster(prod): %v", err)
	}
	if prod.AuthMechanism != AuthMSKIAM {
		t.Errorf("msk cluster auth = %q, want default %q", prod.AuthMechanism, AuthMSKIAM)
	}
	if prod.AWSProfile != "production" {
		t.Errorf("aws_profile = %q", prod.AWSProfile)
	}

	if cfg.Monitor.Interval != 30*time.Second {
		t.Errorf("interval = %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.ThrottleWindow != 10*time.Minute {
		t.Errorf("throttle_window = %v", cfg.Monitor.ThrottleWindow)
	}
	if cfg.Monitor.WarningThreshold != 500 || cfg.Monitor.CriticalThreshold != 5000 {
		t.Errorf("thresholds = %d/%d", cfg.Monitor.WarningThreshold, cfg.Monitor.CriticalThreshold)
	}
}

func TestLoadFromPathAppliesMonitorDefaults(t *testing.T) {
	path := writeConfig(t, `
clusters:
  - name: local
    bootstrap_servers: localhost:9092
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Monitor.Enabled {
		t.Error("monitor enabled by default")
	}
	if cfg.Monitor.Interval != DefaultMonitorInterval {
		t.Errorf("interval = %v, want %v", cfg.Monitor.Interval, DefaultMonitorInterval)
	}
	if cfg.Monitor.WarningThreshold != DefaultWarningThreshold {
		t.Errorf("warning threshold = %d", cfg.Monitor.WarningThreshold)
	}
	if cfg.Monitor.CriticalThreshold != DefaultCriticalThreshold {
		t.Errorf("critical threshold = %d", cfg.Monitor.CriticalThreshold)
	}
	if cfg.Monitor.ThrottleWindow != DefaultThrottleWindow {
		t.Errorf("throttle window = %v", cfg.Monitor.ThrottleWindow)
	}

	// Untyped clusters default to plain Kafka.
	if cfg.Clusters[0].Type != ClusterKafka {
		t.Errorf("default type = %q", cfg.Clusters[0].Type)
	}
}

func TestLoadFromPathValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing cluster name",
			content: `
clusters:
  - type: kafka
    bootstrap_servers: localhost:9092
`,
			wantErr: "cluster name is required",
		},
		{
			name: "duplicate names",
			content: `
clusters:
  - name: prod
    bootstrap_servers: localhost:9092
  - name: prod
    bootstrap_servers: localhost:9093
`,
			wantErr: "duplicate cluster name",
		},
		{
			name: "kafka without brokers",
			content: `
clusters:
  - name: prod
    type: kafka
`,
			wantErr: "bootstrap_servers is required",
		},
		{
			name: "msk without arn",
			content: `
clusters:
  - name: prod
    type: msk
    region: us-east-1
`,
			wantErr: "cluster_arn is required",
		},
		{
			name: "msk without region",
			content: `
clusters:
  - name: prod
    type: msk
    cluster_arn: arn:aws:kafka:us-east-1:1:cluster/prod/abc
`,
			wantErr: "region is required",
		},
		{
			name: "unknown type",
			content: `
clusters:
  - name: prod
    type: pulsar
`,
			wantErr: "unknown type",
		},
		{
			name: "sasl without password",
			content: `
clusters:
  - name: prod
    bootstrap_servers: localhost:9092
    auth_mechanism: scram-sha-512
    username: admin
`,
			wantErr: "requires username and password",
		},
		{
			name: "tls cert without key",
			content: `
clusters:
  - name: prod
    bootstrap_servers: localhost:9092
    tls_cert: /etc/kafka/client.pem
`,
			wantErr: "must be provided together",
		},
		{
			name: "warning above critical",
			content: `
clusters:
  - name: prod
    bootstrap_servers: localhost:9092
monitor:
  warning_threshold: 5000
  critical_threshold: 100
`,
			wantErr: "must be below",
		},
		{
			name: "bad interval",
			content: `
clusters:
  - name: prod
    bootstrap_servers: localhost:9092
monitor:
  interval: soon
`,
			wantErr: "parse monitor interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := LoadFromPath(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestClusterLookup(t *testing.T) {
	cfg := &Config{Clusters: []ClusterConfig{{Name: "prod"}, {Name: "staging"}}}

	if _, err := cfg.Cluster("prod"); err != nil {
		t.Errorf("Cluster(prod): %v", err)
	}
	if _, err := cfg.Cluster("missing"); err == nil {
		t.Error("Cluster(missing) succeeded")
	}

	names := cfg.ClusterNames()
	if len(names) != 2 || names[0] != "prod" || names[1] != "staging" {
		t.Errorf("ClusterNames() = %v", names)
	}
}
