package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/fleetpulse/core/events"
	"github.com/kilianp07/fleetpulse/core/model"
)

func geoKey(fleetID string) string {
	if fleetID == "" {
		fleetID = events.DefaultFleet
	}
	return fmt.Sprintf("fleet:%s:geo", fleetID)
}

func stateKey(vehicleID string) string   { return fmt.Sprintf("vehicle:%s:state", vehicleID) }
func profileKey(vehicleID string) string { return fmt.Sprintf("vehicle:%s:profile", vehicleID) }

// FleetState keeps the last known position of every vehicle and its
// dispatch profile. Positions expire after the state TTL; a vehicle without
// a live position is not offered for dispatch.
//
// Layout:
//
//	fleet:<fleet>:geo        GEO set of vehicle positions
//	vehicle:<id>:state       hash of the last update, with TTL
//	vehicle:<id>:profile     hash of availability, utilisation, rating, capabilities
type FleetState struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFleetState wraps client.
func NewFleetState(client *redis.Client, cfg Config) *FleetState {
	cfg.SetDefaults()
	return &FleetState{client: client, ttl: cfg.StateTTL()}
}

// Upsert stores the last update of each vehicle in one pipeline.
func (s *FleetState) Upsert(ctx context.Context, updates []model.LocationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	last := make(map[string]model.LocationUpdate, len(updates))
	order := make([]string, 0, len(updates))
	for _, u := range updates {
		if _, seen := last[u.VehicleID]; !seen {
			order = append(order, u.VehicleID)
		}
		last[u.VehicleID] = u
	}

	pipe := s.client.Pipeline()
	for _, id := range order {
		u := last[id]
		fleet := u.FleetID
		if fleet == "" {
			fleet = events.DefaultFleet
		}
		key := stateKey(id)
		fields := map[string]any{
			"fleet_id":  fleet,
			"lat":       u.Position.Lat,
			"lon":       u.Position.Lon,
			"speed":     u.Speed,
			"heading":   u.Heading,
			"timestamp": u.Timestamp.UnixMilli(),
		}
		if u.VehicleType != "" {
			fields["vehicle_type"] = u.VehicleType
		}
		pipe.HSet(ctx, key, fields)
		if u.BatteryLevel != nil {
			pipe.HSet(ctx, key, "battery_level", *u.BatteryLevel)
		} else {
			pipe.HDel(ctx, key, "battery_level")
		}
		pipe.Expire(ctx, key, s.ttl)
		pipe.GeoAdd(ctx, geoKey(fleet), &redis.GeoLocation{
			Name:      id,
			Longitude: u.Position.Lon,
			Latitude:  u.Position.Lat,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis state pipeline: %w", err)
	}
	return nil
}

// SetProfile stores the dispatch attributes of a vehicle.
func (s *FleetState) SetProfile(ctx context.Context, c model.VehicleCandidate) error {
	fields := map[string]any{
		"available":         c.Available,
		"utilization":       c.CurrentUtilization,
		"rating":            c.Rating,
		"emergency_capable": c.EmergencyCapable,
		"capabilities":      strings.Join(c.Capabilities, ","),
		"vehicle_type":      c.VehicleType,
	}
	if err := s.client.HSet(ctx, profileKey(c.ID), fields).Err(); err != nil {
		return fmt.Errorf("redis set profile %s: %w", c.ID, err)
	}
	return nil
}

// Available lists the vehicles of a fleet with a live position, sorted by
// id. Vehicles whose position expired are pruned from the fleet set.
func (s *FleetState) Available(ctx context.Context, fleetID string) ([]model.VehicleCandidate, error) {
	if fleetID == "" {
		fleetID = events.DefaultFleet
	}
	key := geoKey(fleetID)
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis fleet %s: %w", fleetID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	states, profiles, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.VehicleCandidate, 0, len(ids))
	var stale []any
	for i, id := range ids {
		if len(states[i]) == 0 {
			stale = append(stale, id)
			continue
		}
		c := decodeCandidate(id, states[i], profiles[i])
		if c.FleetID != fleetID {
			// moved to another fleet
			stale = append(stale, id)
			continue
		}
		out = append(out, c)
	}
	if len(stale) > 0 {
		// best effort, the next call retries
		_ = s.client.ZRem(ctx, key, stale...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Vehicle returns what is known about one vehicle.
func (s *FleetState) Vehicle(ctx context.Context, vehicleID string) (model.VehicleCandidate, bool, error) {
	states, profiles, err := s.load(ctx, []string{vehicleID})
	if err != nil {
		return model.VehicleCandidate{}, false, err
	}
	if len(states[0]) == 0 && len(profiles[0]) == 0 {
		return model.VehicleCandidate{}, false, nil
	}
	return decodeCandidate(vehicleID, states[0], profiles[0]), true, nil
}

func (s *FleetState) load(ctx context.Context, ids []string) (states, profiles []map[string]string, err error) {
	pipe := s.client.Pipeline()
	stateCmds := make([]*redis.MapStringStringCmd, len(ids))
	profileCmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		stateCmds[i] = pipe.HGetAll(ctx, stateKey(id))
		profileCmds[i] = pipe.HGetAll(ctx, profileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("redis load vehicles: %w", err)
	}
	states = make([]map[string]string, len(ids))
	profiles = make([]map[string]string, len(ids))
	for i := range ids {
		states[i] = stateCmds[i].Val()
		profiles[i] = profileCmds[i].Val()
	}
	return states, profiles, nil
}

// decodeCandidate merges the state and profile hashes. A vehicle without a
// profile is available with no utilisation.
func decodeCandidate(id string, state, profile map[string]string) model.VehicleCandidate {
	c := model.VehicleCandidate{
		ID:                 id,
		FleetID:            state["fleet_id"],
		Location:           model.Point{Lat: parseFloat(state["lat"]), Lon: parseFloat(state["lon"])},
		Speed:              parseFloat(state["speed"]),
		VehicleType:        profile["vehicle_type"],
		CurrentUtilization: parseFloat(profile["utilization"]),
		Rating:             parseFloat(profile["rating"]),
		EmergencyCapable:   parseBool(profile["emergency_capable"], false),
		Available:          parseBool(profile["available"], true),
	}
	if vt := state["vehicle_type"]; vt != "" {
		c.VehicleType = vt
	}
	if b, ok := state["battery_level"]; ok {
		if v, err := strconv.ParseFloat(b, 64); err == nil {
			c.BatteryLevel = &v
		}
	}
	if caps := profile["capabilities"]; caps != "" {
		c.Capabilities = strings.Split(caps, ",")
	}
	return c
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
