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
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
node_id: "island-a"
bind_addr: "127.0.0.1"
bind_port: 9090
end_device_ids:
  - "+4917612345678"
  - "+4917687654321"
message_cache:
  timeout_minutes: 1
  cleanup_interval_seconds: 1
  reset_timeout: true
send_config:
  periodic_send_delay: 2
  relay_queue_size: 2
  bundle_queue_size: 4
  announcement_queue_size: 1
chirpstack:
  topic_prefix: "eu868"
  gateway_ids: ["ac1f09fffe060970"]
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "relay-a"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.NodeID != "island-a" {
		t.Errorf("NodeID = %q, want %q", cfg.NodeID, "island-a")
	}
	if cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Errorf("ListenAddr() = %q, want %q", cfg.ListenAddr(), "127.0.0.1:9090")
	}
	if len(cfg.EndDeviceIDs) != 2 {
		t.Errorf("len(EndDeviceIDs) = %d, want 2", len(cfg.EndDeviceIDs))
	}
	if !cfg.MessageCache.ResetTimeout {
		t.Error("MessageCache.ResetTimeout = false, want true")
	}
	if cfg.CacheTimeout() != time.Minute {
		t.Errorf("CacheTimeout() = %v, want 1m", cfg.CacheTimeout())
	}
	if cfg.SendInterval() != 2*time.Second {
		t.Errorf("SendInterval() = %v, want 2s", cfg.SendInterval())
	}
	if cfg.SendConfig.RelayQueueSize != 2 {
		t.Errorf("RelayQueueSize = %d, want 2", cfg.SendConfig.RelayQueueSize)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}

	// Defaults survive for unset sections.
	if cfg.Protocol.Prefixes.Relay != 0x01 || cfg.Protocol.Prefixes.Announcement != 0x03 {
		t.Errorf("Prefixes = %+v, want defaults", cfg.Protocol.Prefixes)
	}
	if cfg.Radio.TxPower != 14 {
		t.Errorf("Radio.TxPower = %d, want 14", cfg.Radio.TxPower)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
send_config:
  relay_queue_size: 0
radio:
  frequency: 869525000
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"relay_queue_size", "radio.frequency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err.Error(), want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LORARELAY_BIND_PORT", "7000")
	t.Setenv("LORARELAY_END_DEVICE_IDS", "alpha, beta,,gamma")
	t.Setenv("LORARELAY_MQTT_HOST", "env-broker")
	t.Setenv("LORARELAY_JWT_SECRET", "env-secret-key-at-least-32-characters")

	cfg, err := Load(writeConfig(t, "node_id: env-test\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindPort != 7000 {
		t.Errorf("BindPort = %d, want 7000", cfg.BindPort)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(cfg.EndDeviceIDs) != len(want) {
		t.Fatalf("EndDeviceIDs = %v, want %v", cfg.EndDeviceIDs, want)
	}
	for i := range want {
		if cfg.EndDeviceIDs[i] != want[i] {
			t.Errorf("EndDeviceIDs[%d] = %q, want %q", i, cfg.EndDeviceIDs[i], want[i])
		}
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "env-broker")
	}
	if cfg.Security.JWT.Secret == "" {
		t.Error("JWT secret not applied from environment")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "empty node id",
			mutate:  func(c *Config) { c.NodeID = "" },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.BindPort = 70000 },
			wantErr: true,
		},
		{
			name:    "blank end device id",
			mutate:  func(c *Config) { c.EndDeviceIDs = []string{"ok", " "} },
			wantErr: true,
		},
		{
			name:    "zero cache timeout",
			mutate:  func(c *Config) { c.MessageCache.TimeoutMinutes = 0 },
			wantErr: true,
		},
		{
			name:    "zero cleanup interval",
			mutate:  func(c *Config) { c.MessageCache.CleanupIntervalSeconds = 0 },
			wantErr: true,
		},
		{
			name:    "zero send delay",
			mutate:  func(c *Config) { c.SendConfig.PeriodicSendDelay = 0 },
			wantErr: true,
		},
		{
			name:    "zero announcement queue",
			mutate:  func(c *Config) { c.SendConfig.AnnouncementQueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "colliding prefixes",
			mutate:  func(c *Config) { c.Protocol.Prefixes.Bundle = c.Protocol.Prefixes.Relay },
			wantErr: true,
		},
		{
			name:    "data rate out of range",
			mutate:  func(c *Config) { c.Radio.DataRate = 7 },
			wantErr: true,
		},
		{
			name:    "other allowed frequency",
			mutate:  func(c *Config) { c.Radio.Frequency = 868500000 },
			wantErr: false,
		},
		{
			name: "announcement without hop limit",
			mutate: func(c *Config) {
				c.Announcement.Enabled = true
				c.Announcement.HopLimit = 0
			},
			wantErr: true,
		},
		{
			name:    "unknown encoding",
			mutate:  func(c *Config) { c.ChirpStack.Encoding = "xml" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "short JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name:    "valid JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "test-secret-key-at-least-32-chars!" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.NodeID = ""
	cfg.SendConfig.BundleQueueSize = -1
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if got := strings.Count(err.Error(), ";"); got != 2 {
		t.Errorf("expected 3 joined errors, got %q", err.Error())
	}
	if !strings.HasPrefix(err.Error(), "configuration errors:") {
		t.Errorf("error %q lacks configuration errors prefix", err.Error())
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.CleanupInterval(); got != 60*time.Second {
		t.Errorf("CleanupInterval() = %v, want 60s", got)
	}
	if got := cfg.AnnouncementInterval(); got != 300*time.Second {
		t.Errorf("AnnouncementInterval() = %v, want 300s", got)
	}
	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
