package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

// StraightLineRouter estimates travel along the great circle at a constant speed.
type StraightLineRouter struct {
	SpeedKmh float64
}

// Route returns the ETA from the vehicle to dest and an opaque route reference.
func (r StraightLineRouter) Route(ctx context.Context, from, to model.Point) (time.Duration, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	speed := r.SpeedKmh
	if speed <= 0 {
		speed = 40
	}
	km := DistanceKm(from, to)
	eta := time.Duration(km / speed * float64(time.Hour)).Round(time.Second)
	ref := fmt.Sprintf("direct:%.5f,%.5f:%.5f,%.5f", from.Lat, from.Lon, to.Lat, to.Lon)
	return eta, ref, nil
}
