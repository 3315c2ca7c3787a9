// Package config provides configuration defaults and utilities
// for the telegate gateway.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via telegate.yaml or environment variables.
package config

import "time"

// =============================================================================
// Flush Defaults
// =============================================================================

const (
	// DefaultFlushInterval is the period of one drain+aggregate+persist cycle.
	// Every device gets at most one stored reading per interval.
	// Override via config: flush.interval
	DefaultFlushInterval = 60 * time.Second

	// DefaultStopTimeout is how long shutdown waits for the flush loop
	// (including the final flush) before giving up.
	// Override via config: flush.stop_timeout
	DefaultStopTimeout = 60 * time.Second
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultDBPath is the DuckDB database file.
	// Override via config: store.path or -db
	DefaultDBPath = "telegate.db"

	// DefaultInsertRetryDelay is the fixed delay between reading insert attempts.
	// Inserts retry until they succeed or the caller is cancelled.
	// Override via config: store.insert_retry_delay
	DefaultInsertRetryDelay = 500 * time.Millisecond

	// DefaultRegisterRetryDelay is the fixed delay between device upsert attempts.
	// Override via config: store.register_retry_delay
	DefaultRegisterRetryDelay = 1 * time.Second

	// DefaultMaxOpenConns bounds the database/sql pool.
	// Override via config: store.max_open_conns
	DefaultMaxOpenConns = 4

	// DefaultReadingsQueryLimit caps reading queries that do not name a limit.
	DefaultReadingsQueryLimit = 1000
)

// =============================================================================
// Ingest Defaults
// =============================================================================

const (
	// DefaultMQTTBroker is the broker the deployed devices publish to.
	// Override via config: mqtt.broker
	DefaultMQTTBroker = "tcp://iothub.sytes.net:1883"

	// DefaultMQTTClientID identifies the gateway on the broker.
	// Override via config: mqtt.client_id
	DefaultMQTTClientID = "telegate"

	// DefaultRegistrationTopic carries {"deviceId": ...} announcements.
	// Override via config: mqtt.registration_topic
	DefaultRegistrationTopic = "device/+/conf"

	// DefaultReadingTopic carries realtime feature readings.
	// Override via config: mqtt.reading_topic
	DefaultReadingTopic = "device/+/realtime"

	// DefaultMQTTConnectTimeout bounds the initial broker connect.
	// Override via config: mqtt.connect_timeout
	DefaultMQTTConnectTimeout = 30 * time.Second

	// DefaultKafkaGroupID is the consumer group of the optional Kafka source.
	// Override via config: kafka.group_id
	DefaultKafkaGroupID = "telegate"

	// DefaultKafkaRegistrationTopic and DefaultKafkaReadingTopic mirror the
	// MQTT topics for deployments that bridge devices through Kafka.
	DefaultKafkaRegistrationTopic = "telegate.registrations"
	DefaultKafkaReadingTopic      = "telegate.readings"

	// DefaultRegistrationQueueSize is the capacity of the registration worker
	// queue. Transport callbacks block when it is full.
	DefaultRegistrationQueueSize = 1024
)

// =============================================================================
// Weather Defaults
// =============================================================================

const (
	// DefaultAEMETBaseURL is the AEMET OpenData API root.
	// Override via config: weather.base_url
	DefaultAEMETBaseURL = "https://opendata.aemet.es/opendata/api"

	// DefaultAEMETStation is the conventional observation station (IDEMA).
	// Override via config: weather.station
	DefaultAEMETStation = "8523X"

	// DefaultAEMETMunicipality is the INE code used for daily forecasts.
	// Override via config: weather.municipality
	DefaultAEMETMunicipality = "12027"

	// DefaultWeatherPollInterval is how often observations and forecasts are fetched.
	// Override via config: weather.interval
	DefaultWeatherPollInterval = time.Hour

	// DefaultWeatherRequestTimeout bounds a single AEMET HTTP request.
	DefaultWeatherRequestTimeout = 15 * time.Second

	// DefaultBreakerFailures is the consecutive failure count that opens the
	// AEMET circuit breaker.
	DefaultBreakerFailures = 3

	// DefaultBreakerOpenTimeout is how long the breaker stays open.
	DefaultBreakerOpenTimeout = 5 * time.Minute
)

// =============================================================================
// HTTP Defaults
// =============================================================================

const (
	// DefaultHTTPListen is the address of the health/metrics/query server.
	// Override via config: http.listen or -listen
	DefaultHTTPListen = ":9180"

	// DefaultHTTPReadTimeout and DefaultHTTPWriteTimeout bound one request.
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
)
