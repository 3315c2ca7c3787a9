package config

import (
	"net"
	"net/url"
	"strings"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/logging"
)

// Validate checks the configuration for errors. All problems are reported
// at once.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	c.Log.validate(errs)
	c.Store.validate(errs)
	c.Flush.validate(errs)
	c.MQTT.validate(errs)
	c.Kafka.validate(errs)
	c.Weather.validate(errs)
	c.HTTP.validate(errs)

	return errs.ErrOrNil()
}

func (c *LogConfig) validate(errs *errors.ValidationErrors) {
	if _, err := logging.ParseLevel(c.Level); err != nil {
		errs.AddField("log.level", err.Error())
	}
	switch c.Format {
	case logging.FormatText, logging.FormatJSON, "":
	default:
		errs.AddField("log.format", "must be text or json")
	}
}

func (c *StoreConfig) validate(errs *errors.ValidationErrors) {
	if c.Path == "" {
		errs.AddMissing("store.path")
	}
	if c.MaxOpenConns < 0 {
		errs.AddField("store.max_open_conns", "must not be negative")
	}
	if c.InsertRetryDelay <= 0 {
		errs.AddField("store.insert_retry_delay", "must be positive")
	}
	if c.RegisterRetryDelay <= 0 {
		errs.AddField("store.register_retry_delay", "must be positive")
	}
	if c.QueryTimeout < 0 {
		errs.AddField("store.query_timeout", "must not be negative")
	}
}

func (c *FlushConfig) validate(errs *errors.ValidationErrors) {
	if c.Interval <= 0 {
		errs.AddField("flush.interval", "must be positive")
	}
	if c.StopTimeout <= 0 {
		errs.AddField("flush.stop_timeout", "must be positive")
	}
}

func (c *MQTTConfig) validate(errs *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}
	if c.Broker == "" {
		errs.AddMissing("mqtt.broker")
	} else if u, err := url.Parse(c.Broker); err != nil || u.Host == "" {
		errs.AddField("mqtt.broker", "must be a URL like tcp://host:1883")
	}
	if c.RegistrationTopic == "" {
		errs.AddMissing("mqtt.registration_topic")
	}
	if c.ReadingTopic == "" {
		errs.AddMissing("mqtt.reading_topic")
	}
	if c.RegistrationTopic != "" && c.RegistrationTopic == c.ReadingTopic {
		errs.AddField("mqtt.reading_topic", "must differ from registration_topic")
	}
	if c.ConnectTimeout < 0 {
		errs.AddField("mqtt.connect_timeout", "must not be negative")
	}
}

func (c *KafkaConfig) validate(errs *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}
	if len(c.Brokers) == 0 {
		errs.AddMissing("kafka.brokers")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			errs.AddField("kafka.brokers", "must not contain empty entries")
			break
		}
	}
	if c.GroupID == "" {
		errs.AddMissing("kafka.group_id")
	}
	if c.RegistrationTopic == "" {
		errs.AddMissing("kafka.registration_topic")
	}
	if c.ReadingTopic == "" {
		errs.AddMissing("kafka.reading_topic")
	}
}

func (c *WeatherConfig) validate(errs *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.AddField("weather.base_url", "must be an absolute URL")
	}
	if c.Station == "" {
		errs.AddMissing("weather.station")
	}
	if c.Municipality == "" {
		errs.AddMissing("weather.municipality")
	}
	if c.Interval <= 0 {
		errs.AddField("weather.interval", "must be positive")
	}
	if c.RequestTimeout <= 0 {
		errs.AddField("weather.request_timeout", "must be positive")
	}
	if c.BreakerFailures == 0 {
		errs.AddField("weather.breaker_failures", "must be at least 1")
	}
}

func (c *HTTPConfig) validate(errs *errors.ValidationErrors) {
	if c.Listen == "" {
		return
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs.AddField("http.listen", "must be host:port")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs.AddField("http", "timeouts must not be negative")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs.AddField("http.tls_key_file", "tls_cert_file and tls_key_file must be set together")
	}
}
