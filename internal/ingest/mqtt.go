package ingest

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
)

// SourceMQTT labels events that arrived over MQTT.
const SourceMQTT = "mqtt"

// MQTTConfig configures an MQTT source.
type MQTTConfig struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	RegistrationTopic string
	ReadingTopic      string
	ConnectTimeout    time.Duration
}

// MQTTSource subscribes to the registration and reading topics and feeds
// every message to a Handler. Subscriptions are renewed on every
// (re)connect; paho delivers messages one at a time in arrival order.
type MQTTSource struct {
	cfg     MQTTConfig
	handler *Handler

	client     mqtt.Client
	subscribed atomic.Bool

	messages atomic.Int64
	connects atomic.Int64
}

// NewMQTTSource creates an MQTT source. Zero config fields take the package
// defaults.
func NewMQTTSource(cfg MQTTConfig, h *Handler) *MQTTSource {
	if cfg.Broker == "" {
		cfg.Broker = config.DefaultMQTTBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = config.DefaultMQTTClientID
	}
	if cfg.RegistrationTopic == "" {
		cfg.RegistrationTopic = config.DefaultRegistrationTopic
	}
	if cfg.ReadingTopic == "" {
		cfg.ReadingTopic = config.DefaultReadingTopic
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = config.DefaultMQTTConnectTimeout
	}

	s := &MQTTSource{cfg: cfg, handler: h}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.subscribed.Store(false)
			log.Warn("mqtt connection lost", "broker", s.cfg.Broker, "error", err)
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// Run connects to the broker and consumes messages until ctx ends.
//
// A broker that is unreachable at startup is not fatal: the client keeps
// retrying in the background and subscribes once it gets through.
func (s *MQTTSource) Run(ctx context.Context) error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		log.Warn("mqtt broker not reachable yet, retrying in background",
			"broker", s.cfg.Broker,
			"timeout", s.cfg.ConnectTimeout)
	} else if err := token.Error(); err != nil {
		return errors.Wrapf(err, "connect to %s", s.cfg.Broker)
	}

	<-ctx.Done()
	s.client.Disconnect(250)
	log.Info("mqtt source stopped",
		"messages", s.messages.Load(),
		"connects", s.connects.Load())
	return nil
}

func (s *MQTTSource) onConnect(c mqtt.Client) {
	s.connects.Add(1)

	filters := map[string]byte{
		s.cfg.RegistrationTopic: 1,
		s.cfg.ReadingTopic:      0,
	}
	token := c.SubscribeMultiple(filters, s.onMessage)
	if !token.WaitTimeout(s.cfg.ConnectTimeout) || token.Error() != nil {
		log.Error("mqtt subscribe failed", "broker", s.cfg.Broker, "error", token.Error())
		return
	}

	s.subscribed.Store(true)
	log.Info("mqtt connected",
		"broker", s.cfg.Broker,
		"registration_topic", s.cfg.RegistrationTopic,
		"reading_topic", s.cfg.ReadingTopic)
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.messages.Add(1)

	switch {
	case topicMatches(s.cfg.ReadingTopic, msg.Topic()):
		_ = s.handler.HandleReading(SourceMQTT, msg.Payload())
	case topicMatches(s.cfg.RegistrationTopic, msg.Topic()):
		_ = s.handler.HandleRegistration(SourceMQTT, msg.Payload())
	default:
		log.Debug("message on unexpected topic", "topic", msg.Topic())
	}
}

// Ready reports whether the source is connected and subscribed.
func (s *MQTTSource) Ready() bool {
	return s.subscribed.Load() && s.client.IsConnectionOpen()
}

// topicMatches reports whether topic matches an MQTT subscription filter
// with + and # wildcards.
func topicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
