package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/authsvc/apiserver/config"
	"github.com/authsvc/apiserver/types"
	"go.uber.org/zap"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

const (
	attrContentType = "content-type"
	attrPurpose     = "purpose"
	jsonContentType = "application/json"

	defaultContentType = "application/octet-stream"
)

// NewBackend builds the broker selected by cfg.Backend. An empty backend
// yields nil, nil: the caller runs without a broker.
func NewBackend(ctx context.Context, cfg config.MQConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}

// OTPChannel publishes and consumes OTPIssued events on one named channel.
type OTPChannel struct {
	backend Backend
	name    string
	logger  *zap.Logger
}

func NewOTPChannel(backend Backend, name string, logger *zap.Logger) *OTPChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPChannel{backend: backend, name: name, logger: logger}
}

// NotifyOTP publishes event as JSON.
func (c *OTPChannel) NotifyOTP(ctx context.Context, event types.OTPIssued) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	id, err := c.backend.Publish(ctx, c.name, data, map[string]string{
		attrContentType: jsonContentType,
		attrPurpose:     string(event.Purpose),
	})
	if err != nil {
		return fmt.Errorf("publish otp event: %w", err)
	}
	c.logger.Debug("otp event published", zap.String("message_id", id), zap.String("purpose", string(event.Purpose)))
	return nil
}

// Consume delivers events to fn until ctx is done. Undecodable messages are
// logged and acknowledged so they are not redelivered forever.
func (c *OTPChannel) Consume(ctx context.Context, fn func(ctx context.Context, event types.OTPIssued) error) error {
	return c.backend.Subscribe(ctx, c.name, func(ctx context.Context, msg Message) error {
		var event types.OTPIssued
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Warn("dropping malformed otp event", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		return fn(ctx, event)
	})
}

func (c *OTPChannel) Close() error {
	return c.backend.Close()
}

// LogNotifier stands in for a broker and only records that a code was issued.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyOTP(_ context.Context, event types.OTPIssued) error {
	n.logger.Info("otp issued",
		zap.String("email", event.Email),
		zap.String("purpose", string(event.Purpose)),
		zap.Time("issued_at", event.IssuedAt),
	)
	return nil
}
