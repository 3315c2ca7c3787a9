package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	defaults "github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Flush.Interval != 60*time.Second {
		t.Errorf("expected 60s flush interval, got %v", cfg.Flush.Interval)
	}
	if cfg.Flush.StopTimeout != 60*time.Second {
		t.Errorf("expected 60s stop timeout, got %v", cfg.Flush.StopTimeout)
	}
	if cfg.Store.InsertRetryDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms insert retry delay, got %v", cfg.Store.InsertRetryDelay)
	}
	if cfg.Store.RegisterRetryDelay != time.Second {
		t.Errorf("expected 1s register retry delay, got %v", cfg.Store.RegisterRetryDelay)
	}
	if cfg.MQTT.RegistrationTopic != "device/+/conf" || cfg.MQTT.ReadingTopic != "device/+/realtime" {
		t.Errorf("unexpected topics: %q %q", cfg.MQTT.RegistrationTopic, cfg.MQTT.ReadingTopic)
	}
	if cfg.Kafka.Enabled {
		t.Error("kafka should be disabled by default")
	}
	if cfg.WeatherActive() {
		t.Error("weather should be inactive without an API key")
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
log:
  level: debug
  format: json
store:
  path: /var/lib/telegate/telegate.db
  insert_retry_delay: 2s
flush:
  interval: 30s
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Store.Path != "/var/lib/telegate/telegate.db" {
		t.Errorf("unexpected store path: %s", cfg.Store.Path)
	}
	if cfg.Store.InsertRetryDelay != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Store.InsertRetryDelay)
	}
	if cfg.Flush.Interval != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.Flush.Interval)
	}

	// Untouched fields keep their defaults.
	if cfg.Store.RegisterRetryDelay != defaults.DefaultRegisterRetryDelay {
		t.Errorf("register retry delay lost its default: %v", cfg.Store.RegisterRetryDelay)
	}
	if cfg.MQTT.ReadingTopic != defaults.DefaultReadingTopic {
		t.Errorf("reading topic lost its default: %s", cfg.MQTT.ReadingTopic)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("TELEGATE_TEST_AEMET_KEY", "secret-key")

	cfg, err := Parse([]byte(`
weather:
  enabled: true
  api_key: ${TELEGATE_TEST_AEMET_KEY}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Weather.APIKey != "secret-key" {
		t.Errorf("expected expanded key, got %q", cfg.Weather.APIKey)
	}
	if !cfg.WeatherActive() {
		t.Error("weather should be active with an API key")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("flush: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegate.yaml")
	if err := os.WriteFile(path, []byte("http:\n  listen: 127.0.0.1:9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Listen != "127.0.0.1:9999" {
		t.Errorf("unexpected listen address: %s", cfg.HTTP.Listen)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"zero insert delay", func(c *Config) { c.Store.InsertRetryDelay = 0 }, "store.insert_retry_delay"},
		{"zero register delay", func(c *Config) { c.Store.RegisterRetryDelay = 0 }, "store.register_retry_delay"},
		{"zero flush interval", func(c *Config) { c.Flush.Interval = 0 }, "flush.interval"},
		{"zero stop timeout", func(c *Config) { c.Flush.StopTimeout = 0 }, "flush.stop_timeout"},
		{"broker without host", func(c *Config) { c.MQTT.Broker = "localhost" }, "mqtt.broker"},
		{"same mqtt topics", func(c *Config) { c.MQTT.ReadingTopic = c.MQTT.RegistrationTopic }, "mqtt.reading_topic"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"weather bad url", func(c *Config) {
			c.Weather.Enabled = true
			c.Weather.BaseURL = "opendata"
		}, "weather.base_url"},
		{"weather zero breaker", func(c *Config) {
			c.Weather.Enabled = true
			c.Weather.BreakerFailures = 0
		}, "weather.breaker_failures"},
		{"listen without port", func(c *Config) { c.HTTP.Listen = "localhost" }, "http.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestValidate_DisabledSectionsIgnored(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = false
	cfg.MQTT.Broker = ""
	cfg.Kafka.Brokers = nil
	cfg.Weather.BaseURL = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled sections should not be validated: %v", err)
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""
	cfg.Flush.Interval = 0

	err := cfg.Validate()
	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(verrs.Errors), err)
	}
}
