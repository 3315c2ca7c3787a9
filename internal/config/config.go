// Package config loads the telegated configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/telegate/config"
)

// Config represents the complete daemon configuration.
type Config struct {
	// Log configures the process logger.
	Log LogConfig `yaml:"log"`

	// Store configures the DuckDB store.
	Store StoreConfig `yaml:"store"`

	// Flush configures the flush scheduler.
	Flush FlushConfig `yaml:"flush"`

	// MQTT configures the MQTT ingestion source.
	MQTT MQTTConfig `yaml:"mqtt"`

	// Kafka configures the optional Kafka ingestion source.
	Kafka KafkaConfig `yaml:"kafka"`

	// Weather configures the AEMET poller.
	Weather WeatherConfig `yaml:"weather"`

	// HTTP configures the health, metrics and query API.
	HTTP HTTPConfig `yaml:"http"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// StoreConfig configures the DuckDB store.
type StoreConfig struct {
	// Path is the DuckDB database file.
	Path string `yaml:"path"`

	// MaxOpenConns limits the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`

	// InsertRetryDelay is the pause between failed reading inserts.
	InsertRetryDelay time.Duration `yaml:"insert_retry_delay"`

	// RegisterRetryDelay is the pause between failed device upserts.
	RegisterRetryDelay time.Duration `yaml:"register_retry_delay"`

	// QueryTimeout bounds a single statement. Zero means no bound.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// FlushConfig configures the flush scheduler.
type FlushConfig struct {
	// Interval is the time between flush ticks.
	Interval time.Duration `yaml:"interval"`

	// StopTimeout bounds how long shutdown waits for the scheduler.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// SkipFinalFlush leaves buffered samples unwritten on shutdown.
	SkipFinalFlush bool `yaml:"skip_final_flush"`
}

// MQTTConfig configures the MQTT ingestion source.
type MQTTConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Broker            string        `yaml:"broker"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	RegistrationTopic string        `yaml:"registration_topic"`
	ReadingTopic      string        `yaml:"reading_topic"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
}

// KafkaConfig configures the optional Kafka ingestion source.
type KafkaConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	GroupID           string   `yaml:"group_id"`
	RegistrationTopic string   `yaml:"registration_topic"`
	ReadingTopic      string   `yaml:"reading_topic"`
}

// WeatherConfig configures the AEMET poller.
type WeatherConfig struct {
	// Enabled turns the poller on. It also needs an API key.
	Enabled bool `yaml:"enabled"`

	// APIKey is the AEMET OpenData key. Use ${AEMET_API_KEY} to keep it
	// out of the file.
	APIKey string `yaml:"api_key"`

	BaseURL        string        `yaml:"base_url"`
	Station        string        `yaml:"station"`
	Municipality   string        `yaml:"municipality"`
	Interval       time.Duration `yaml:"interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BreakerFailures is the number of consecutive failures that opens
	// the circuit breaker.
	BreakerFailures uint32 `yaml:"breaker_failures"`

	// BreakerOpenTimeout is how long the breaker stays open.
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

// HTTPConfig configures the health, metrics and query API.
type HTTPConfig struct {
	// Listen is the listen address. Empty disables the server.
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// TLS is enabled when both files are set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// Load reads a YAML file, expands ${VAR} references and validates the
// result. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration built from the package defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Path:               defaults.DefaultDBPath,
			MaxOpenConns:       defaults.DefaultMaxOpenConns,
			InsertRetryDelay:   defaults.DefaultInsertRetryDelay,
			RegisterRetryDelay: defaults.DefaultRegisterRetryDelay,
		},
		Flush: FlushConfig{
			Interval:    defaults.DefaultFlushInterval,
			StopTimeout: defaults.DefaultStopTimeout,
		},
		MQTT: MQTTConfig{
			Enabled:           true,
			Broker:            defaults.DefaultMQTTBroker,
			ClientID:          defaults.DefaultMQTTClientID,
			RegistrationTopic: defaults.DefaultRegistrationTopic,
			ReadingTopic:      defaults.DefaultReadingTopic,
			ConnectTimeout:    defaults.DefaultMQTTConnectTimeout,
		},
		Kafka: KafkaConfig{
			GroupID:           defaults.DefaultKafkaGroupID,
			RegistrationTopic: defaults.DefaultKafkaRegistrationTopic,
			ReadingTopic:      defaults.DefaultKafkaReadingTopic,
		},
		Weather: WeatherConfig{
			BaseURL:            defaults.DefaultAEMETBaseURL,
			Station:            defaults.DefaultAEMETStation,
			Municipality:       defaults.DefaultAEMETMunicipality,
			Interval:           defaults.DefaultWeatherPollInterval,
			RequestTimeout:     defaults.DefaultWeatherRequestTimeout,
			BreakerFailures:    defaults.DefaultBreakerFailures,
			BreakerOpenTimeout: defaults.DefaultBreakerOpenTimeout,
		},
		HTTP: HTTPConfig{
			Listen:       defaults.DefaultHTTPListen,
			ReadTimeout:  defaults.DefaultHTTPReadTimeout,
			WriteTimeout: defaults.DefaultHTTPWriteTimeout,
		},
	}
}

// WeatherActive reports whether the weather poller should run.
func (c *Config) WeatherActive() bool {
	return c.Weather.Enabled && c.Weather.APIKey != ""
}
