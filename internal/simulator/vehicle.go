package simulator

import (
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

const kmPerDegree = 111.32

// Vehicle is a simulated vehicle doing a random walk.
type Vehicle struct {
	ID               string
	FleetID          string
	Type             string
	Position         model.Point
	Heading          float64 // degrees
	Speed            float64 // km/h
	EmergencyCapable bool
	Battery          *Battery

	cruise float64
}

// Step moves the vehicle for dt and returns its location update stamped at.
// The heading drifts by up to 20 degrees and the speed by 10% per step. A
// vehicle with an empty battery stops and charges.
func (v *Vehicle) Step(dt time.Duration, rng *rand.Rand, at time.Time) model.LocationUpdate {
	v.Heading = math.Mod(v.Heading+(rng.Float64()-0.5)*40+360, 360)
	if v.Battery != nil && v.Battery.Level() <= 0 {
		v.Speed = 0
		v.Battery.Charge(22, dt)
	} else {
		v.Speed = math.Max(0, v.Speed*(0.95+rng.Float64()*0.1))
		if v.Speed == 0 && v.cruise > 0 {
			v.Speed = v.cruise
		}
		km := v.Speed * dt.Hours()
		v.Position = offset(v.Position, km, v.Heading)
		if v.Battery != nil {
			v.Battery.Drive(km)
		}
	}
	u := model.LocationUpdate{
		VehicleID:   v.ID,
		FleetID:     v.FleetID,
		Position:    v.Position,
		Timestamp:   at,
		Speed:       v.Speed,
		Heading:     v.Heading,
		Accuracy:    5,
		VehicleType: v.Type,
	}
	if v.Battery != nil {
		lvl := v.Battery.Level()
		u.BatteryLevel = &lvl
	}
	return u
}

// offset moves p by km along heading on a local flat approximation.
func offset(p model.Point, km, heading float64) model.Point {
	rad := heading * math.Pi / 180
	lat := p.Lat + km*math.Cos(rad)/kmPerDegree
	lon := p.Lon + km*math.Sin(rad)/(kmPerDegree*math.Max(math.Cos(p.Lat*math.Pi/180), 0.01))
	lat = math.Max(-90, math.Min(90, lat))
	if lon > 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return model.Point{Lon: lon, Lat: lat}
}
