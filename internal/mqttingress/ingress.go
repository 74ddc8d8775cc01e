// Package mqttingress accepts device heartbeats published over MQTT and feeds
// them to the same processor the HTTP endpoint uses.
package mqttingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/greenhouse-io/greenhouse/internal/liveness"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/registry"
	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/greenhouse-io/greenhouse/internal/mqttingress")

const (
	// HeartbeatTopic is the subscription filter. The single level wildcard holds the device identifier.
	HeartbeatTopic = "greenhouse/devices/+/heartbeat"

	topicPrefix    = "greenhouse/devices/"
	topicSuffix    = "/heartbeat"
	subscribeQoS   = byte(1)
	connectTimeout = 10 * time.Second
)

var (
	ErrInvalidTopic   = errors.New("topic is not a device heartbeat topic")
	ErrInvalidPayload = errors.New("heartbeat payload is not valid json")
)

// HeartbeatSink records a heartbeat for a device.
type HeartbeatSink interface {
	Process(ctx context.Context, identifier string, secret string, telemetry models.Telemetry) (*liveness.HeartbeatResult, error)
}

// Payload is the message body a device publishes. The device identifier travels in the topic.
type Payload struct {
	Secret string `json:"secret"`
	models.Telemetry
}

type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

type Subscriber struct {
	logger    *zap.SugaredLogger
	processor HeartbeatSink
	options   Options

	mu     sync.Mutex
	client mqtt.Client
	ctx    context.Context
}

func NewSubscriber(logger *zap.SugaredLogger, processor HeartbeatSink, options Options) *Subscriber {
	if options.ClientID == "" {
		options.ClientID = "greenhouse-apiserver"
	}
	return &Subscriber{
		logger:    logger.Named("mqtt"),
		processor: processor,
		options:   options,
		ctx:       context.Background(),
	}
}

// DeviceIDFromTopic extracts the device identifier from a heartbeat topic.
func DeviceIDFromTopic(topic string) (string, error) {
	if !strings.HasPrefix(topic, topicPrefix) || !strings.HasSuffix(topic, topicSuffix) {
		return "", ErrInvalidTopic
	}
	id := strings.TrimSuffix(strings.TrimPrefix(topic, topicPrefix), topicSuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", ErrInvalidTopic
	}
	return id, nil
}

// HandleMessage decodes one heartbeat message and hands it to the processor.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	ctx, span := tracer.Start(ctx, "HandleMessage")
	defer span.End()

	deviceID, err := DeviceIDFromTopic(topic)
	if err != nil {
		return fmt.Errorf("%w: %s", err, topic)
	}
	var body Payload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	_, err = s.processor.Process(ctx, deviceID, body.Secret, body.Telemetry)
	return err
}

// Start connects to the broker and subscribes to the heartbeat topic. Messages are
// processed until Stop is called or ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.options.Broker)
	opts.SetClientID(s.options.ClientID)
	if s.options.Username != "" {
		opts.SetUsername(s.options.Username)
		opts.SetPassword(s.options.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		// Clean sessions lose their subscriptions on reconnect.
		token := client.Subscribe(HeartbeatTopic, subscribeQoS, s.onMessage)
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			s.logger.Errorw("subscribe failed", "topic", HeartbeatTopic, "error", token.Error())
			return
		}
		s.logger.Infow("subscribed", "topic", HeartbeatTopic, "broker", s.options.Broker)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		s.logger.Warnw("connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	err := util.RetryOperation(ctx, 30*time.Second, 10, func() error {
		token := client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("connect to %s timed out", s.options.Broker)
		}
		return token.Error()
	})
	if err != nil {
		return fmt.Errorf("connecting to mqtt broker %s: %w", s.options.Broker, err)
	}

	s.mu.Lock()
	s.client = client
	s.ctx = ctx
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop disconnects from the broker. It is safe to call more than once.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return
	}
	client.Unsubscribe(HeartbeatTopic).WaitTimeout(time.Second)
	client.Disconnect(250)
	s.logger.Info("disconnected")
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic in heartbeat handler", "topic", msg.Topic(), "panic", r)
		}
	}()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	err := s.HandleMessage(ctx, msg.Topic(), msg.Payload())
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrUnknownDevice), errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, registry.ErrMalformedIdentifier), errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidTopic):
		s.logger.Debugw("heartbeat dropped", "topic", msg.Topic(), "error", err)
	default:
		s.logger.Warnw("heartbeat failed", "topic", msg.Topic(), "error", err)
	}
}
