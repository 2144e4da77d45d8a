package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/authsvc/apiserver/config"
	"github.com/authsvc/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingBackend struct {
	published []Message
	channels  []string
	failWith  error
	closed    bool
}

func (b *recordingBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if b.failWith != nil {
		return "", b.failWith
	}
	b.channels = append(b.channels, channel)
	b.published = append(b.published, Message{ID: "m1", Data: data, Attributes: attrs})
	return "m1", nil
}

func (b *recordingBackend) Subscribe(ctx context.Context, _ string, handler Handler) error {
	for _, msg := range b.published {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}

func TestOTPChannel_RoundTrip(t *testing.T) {
	backend := &recordingBackend{}
	channel := NewOTPChannel(backend, "account-otp", nil)

	event := types.OTPIssued{
		Email:    "a@x.com",
		Purpose:  types.OTPPurposeActivation,
		Code:     "012345",
		IssuedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, channel.NotifyOTP(context.Background(), event))
	assert.Equal(t, []string{"account-otp"}, backend.channels)
	assert.Equal(t, "application/json", backend.published[0].Attributes["content-type"])
	assert.Equal(t, "activation", backend.published[0].Attributes["purpose"])

	var got []types.OTPIssued
	err := channel.Consume(context.Background(), func(_ context.Context, e types.OTPIssued) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, event, got[0])

	require.NoError(t, channel.Close())
	assert.True(t, backend.closed)
}

func TestOTPChannel_PublishError(t *testing.T) {
	backend := &recordingBackend{failWith: errors.New("broker down")}
	channel := NewOTPChannel(backend, "account-otp", nil)

	err := channel.NotifyOTP(context.Background(), types.OTPIssued{Email: "a@x.com"})
	assert.ErrorContains(t, err, "broker down")
}

func TestOTPChannel_DropsMalformed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	backend := &recordingBackend{published: []Message{{ID: "bad", Data: []byte("{nope")}}}
	channel := NewOTPChannel(backend, "account-otp", zap.New(core))

	called := false
	err := channel.Consume(context.Background(), func(context.Context, types.OTPIssued) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 1, logs.FilterMessage("dropping malformed otp event").Len())
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewLogNotifier(zap.New(core))

	require.NoError(t, notifier.NotifyOTP(context.Background(), types.OTPIssued{
		Email:   "a@x.com",
		Purpose: types.OTPPurposePasswordReset,
		Code:    "999999",
	}))
	entries := logs.FilterMessage("otp issued").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "password_reset", entries[0].ContextMap()["purpose"])
	assert.NotContains(t, entries[0].ContextMap(), "code")
}

func TestNewBackend(t *testing.T) {
	backend, err := NewBackend(context.Background(), config.MQConfig{})
	require.NoError(t, err)
	assert.Nil(t, backend)

	_, err = NewBackend(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.ErrorContains(t, err, "unknown mq backend")

	_, err = NewBackend(context.Background(), config.MQConfig{Backend: "rabbitmq"})
	assert.ErrorContains(t, err, "rabbitmq url is required")

	_, err = NewBackend(context.Background(), config.MQConfig{Backend: "pubsub"})
	assert.ErrorContains(t, err, "pubsub project id is required")
}
