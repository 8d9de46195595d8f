package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/fleetpulse/core/monitoring"
)

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestRelay_PublishesUnderPrefix(t *testing.T) {
	mc := &mockClient{}
	installMock(t, mc)
	r, err := NewRelay(Config{Broker: "tcp://localhost:1883", QoS: map[string]byte{"relay": 2}}, nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Relay(context.Background(), "vehicle:v1", []byte(`{"id":"e1"}`)))
	require.Len(t, mc.published, 1)
	assert.Equal(t, "fleetpulse/vehicle/v1", mc.published[0].topic)
	assert.Equal(t, byte(2), mc.published[0].qos)
	assert.JSONEq(t, `{"id":"e1"}`, string(mc.published[0].payload))
	assert.Equal(t, "mqtt", r.Name())
	assert.Equal(t, "fleetpulse-relay", mc.opts.ClientID)
}

func TestRelay_Retries(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	installMock(t, mc)
	r, err := NewRelay(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, r.Relay(context.Background(), "fleet:f1", []byte("{}")))
	assert.Len(t, mc.published, 2)
}

func TestRelay_ErrorCaptured(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail}}
	installMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	r, err := NewRelay(Config{Broker: "tcp://localhost:1883", MaxRetries: 2, BackoffMS: 1}, nil)
	require.NoError(t, err)

	err = r.Relay(context.Background(), "fleet:f1", []byte("{}"))
	require.ErrorIs(t, err, fail)
	assert.Len(t, mc.published, 3)
	require.Error(t, mon.err)
	assert.Equal(t, "mqtt", mon.tags["module"])
	assert.Equal(t, "fleetpulse/fleet/f1", mon.tags["topic"])
}

func TestRelay_StopsOnCancel(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail, fail}}
	installMock(t, mc)
	r, err := NewRelay(Config{Broker: "tcp://localhost:1883", MaxRetries: 3, BackoffMS: 1000}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Relay(ctx, "fleet:f1", []byte("{}"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mc.published, 1)
}
