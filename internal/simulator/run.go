package simulator

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/kilianp07/fleetpulse/core/logger"
	"github.com/kilianp07/fleetpulse/core/model"
)

// Sender delivers a tick of location updates.
type Sender interface {
	Send(ctx context.Context, updates []model.LocationUpdate) error
}

// ProfileSender is implemented by senders that can announce vehicle profiles.
type ProfileSender interface {
	SendProfile(ctx context.Context, c model.VehicleCandidate) error
}

// Simulator moves a fleet every interval and sends the resulting updates.
type Simulator struct {
	Vehicles []*Vehicle
	Sender   Sender
	Interval time.Duration
	Log      logger.Logger

	rng    *rand.Rand
	now    func() time.Time
	sent   atomic.Int64
	failed atomic.Int64
}

// New returns a simulator seeded with seed.
func New(vehicles []*Vehicle, sender Sender, interval time.Duration, seed int64) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{
		Vehicles: vehicles,
		Sender:   sender,
		Interval: interval,
		Log:      logger.NopLogger{},
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
	}
}

// Announce sends the profile of every vehicle when the sender supports it.
func (s *Simulator) Announce(ctx context.Context) error {
	ps, ok := s.Sender.(ProfileSender)
	if !ok {
		return nil
	}
	for _, v := range s.Vehicles {
		if err := ps.SendProfile(ctx, v.Profile()); err != nil {
			return err
		}
	}
	return nil
}

// Tick advances every vehicle by one interval and sends the batch.
func (s *Simulator) Tick(ctx context.Context) error {
	at := s.now()
	batch := make([]model.LocationUpdate, len(s.Vehicles))
	for i, v := range s.Vehicles {
		batch[i] = v.Step(s.Interval, s.rng, at)
	}
	if err := s.Sender.Send(ctx, batch); err != nil {
		s.failed.Add(int64(len(batch)))
		return err
	}
	s.sent.Add(int64(len(batch)))
	return nil
}

// Run ticks until ctx is cancelled. Send failures are logged and the
// simulation goes on.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Log.Infof("simulation stopped: %d updates sent, %d failed", s.sent.Load(), s.failed.Load())
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.Log.Warnf("send tick: %v", err)
			}
		}
	}
}

// Stats returns the number of updates sent and failed.
func (s *Simulator) Stats() (sent, failed int64) { return s.sent.Load(), s.failed.Load() }
