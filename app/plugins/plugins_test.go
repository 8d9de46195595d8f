package plugins

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/config"
	"github.com/kilianp07/fleetpulse/core/factory"
	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/core/prediction"
)

func TestNewRelays_BuildsFromSections(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Redis.Addr = srv.Addr()
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Broadcast.Relays = []factory.ModuleConfig{
		{Type: "redis", Conf: map[string]any{"channel_prefix": "fp:"}},
		{Type: "kafka"},
	}
	cfg.SetDefaults()

	relays, err := NewRelays(cfg, nil)
	require.NoError(t, err)
	require.Len(t, relays, 2)
	assert.Equal(t, "redis", relays[0].Name())
	assert.Equal(t, "kafka", relays[1].Name())

	sub := srv.NewSubscriber()
	sub.Subscribe("fp:fleet:f1")
	require.NoError(t, relays[0].Relay(context.Background(), "fleet:f1", []byte(`{}`)))
	msg := <-sub.Messages()
	assert.Equal(t, "fp:fleet:f1", msg.Channel)

	for _, r := range relays {
		_ = r.Close()
	}
}

func TestNewRelays_UnknownType(t *testing.T) {
	cfg := &config.Config{}
	cfg.Broadcast.Relays = []factory.ModuleConfig{{Type: "carrier-pigeon"}}
	_, err := NewRelays(cfg, nil)
	assert.ErrorIs(t, err, factory.ErrUnknownModule)
}

func TestNewRelays_KafkaNeedsBrokers(t *testing.T) {
	cfg := &config.Config{}
	cfg.Broadcast.Relays = []factory.ModuleConfig{{Type: "kafka"}}
	_, err := NewRelays(cfg, nil)
	assert.Error(t, err)
}

func TestNewRiskScorer(t *testing.T) {
	assert.Nil(t, NewRiskScorer(config.PredictionConfig{}))

	snap := model.VehicleSnapshot{VehicleID: "v1", Speed: 50}
	ctx := context.Background()

	s := NewRiskScorer(config.PredictionConfig{Static: map[string]map[string]float64{"fixed": {"*": 0.3}}})
	score, err := s.Score(ctx, "fixed", snap, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0.3, score)

	s = NewRiskScorer(config.PredictionConfig{
		Static: map[string]map[string]float64{"fixed": {"v1": 0.9}},
		Models: map[string]prediction.LogisticModel{"logit": {Bias: 0}},
	})
	score, err = s.Score(ctx, "fixed", snap, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0.9, score)

	score, err = s.Score(ctx, "logit", snap, time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, score, 1e-9)

	_, err = s.Score(ctx, "missing", snap, time.Minute)
	assert.Error(t, err)
}
