package mqttingress

import (
	"context"
	"testing"

	"github.com/greenhouse-io/greenhouse/internal/liveness"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type call struct {
	identifier string
	secret     string
	telemetry  models.Telemetry
}

type fakeSink struct {
	calls []call
	err   error
}

func (f *fakeSink) Process(_ context.Context, identifier string, secret string, telemetry models.Telemetry) (*liveness.HeartbeatResult, error) {
	f.calls = append(f.calls, call{identifier: identifier, secret: secret, telemetry: telemetry})
	if f.err != nil {
		return nil, f.err
	}
	return &liveness.HeartbeatResult{Identifier: identifier, State: models.DeviceStateOnline}, nil
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{topic: "greenhouse/devices/PROJ1-ESP5/heartbeat", want: "PROJ1-ESP5"},
		{topic: "greenhouse/devices/P1000-ESP20/heartbeat", want: "P1000-ESP20"},
		{topic: "greenhouse/devices//heartbeat", wantErr: true},
		{topic: "greenhouse/devices/a/b/heartbeat", wantErr: true},
		{topic: "greenhouse/devices/PROJ1-ESP5/status", wantErr: true},
		{topic: "other/devices/PROJ1-ESP5/heartbeat", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := DeviceIDFromTopic(tt.topic)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleMessage(t *testing.T) {
	sink := &fakeSink{}
	s := NewSubscriber(zaptest.NewLogger(t).Sugar(), sink, Options{Broker: "tcp://127.0.0.1:1883"})

	err := s.HandleMessage(context.Background(), "greenhouse/devices/PROJ2-ESP3/heartbeat",
		[]byte(`{"secret":"abc","signal_strength":-70,"address":"10.0.0.9","firmware_version":"v3.2.0"}`))
	require.NoError(t, err)
	require.Len(t, sink.calls, 1)

	got := sink.calls[0]
	assert.Equal(t, "PROJ2-ESP3", got.identifier)
	assert.Equal(t, "abc", got.secret)
	require.NotNil(t, got.telemetry.SignalStrength)
	assert.Equal(t, -70, *got.telemetry.SignalStrength)
	require.NotNil(t, got.telemetry.ReportedAddress)
	assert.Equal(t, "10.0.0.9", *got.telemetry.ReportedAddress)
	require.NotNil(t, got.telemetry.FirmwareVersion)
	assert.Equal(t, "v3.2.0", *got.telemetry.FirmwareVersion)
}

func TestHandleMessageRejectsBadInput(t *testing.T) {
	sink := &fakeSink{}
	s := NewSubscriber(zaptest.NewLogger(t).Sugar(), sink, Options{})

	err := s.HandleMessage(context.Background(), "greenhouse/devices/PROJ1-ESP1/heartbeat", []byte("{"))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	err = s.HandleMessage(context.Background(), "greenhouse/other", []byte(`{"secret":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidTopic)

	assert.Empty(t, sink.calls)
}

func TestHandleMessagePassesProcessorErrors(t *testing.T) {
	sink := &fakeSink{err: registry.ErrUnauthorized}
	s := NewSubscriber(zaptest.NewLogger(t).Sugar(), sink, Options{})

	err := s.HandleMessage(context.Background(), "greenhouse/devices/PROJ1-ESP1/heartbeat", []byte(`{"secret":"wrong"}`))
	assert.ErrorIs(t, err, registry.ErrUnauthorized)
	assert.Len(t, sink.calls, 1)
}

func TestStopWithoutStart(t *testing.T) {
	s := NewSubscriber(zaptest.NewLogger(t).Sugar(), &fakeSink{}, Options{})
	s.Stop()
	s.Stop()
}
