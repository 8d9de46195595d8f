package geofence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetpulse/core/model"
)

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func ms(n int) time.Time { return t0.Add(time.Duration(n) * time.Millisecond) }

func TestDetector_EnterExitReenter(t *testing.T) {
	d := NewDetector(NewStore(4), 5*time.Second)

	tr := d.Detect("V1", NewSet("G1"), ms(0))
	assert.Equal(t, []string{"G1"}, tr.Entries)

	tr = d.Detect("V1", NewSet(), ms(1000))
	assert.Equal(t, []string{"G1"}, tr.Exits, "first exit has no prior exit and is accepted")

	tr = d.Detect("V1", NewSet("G1"), ms(2000))
	assert.Empty(t, tr.Entries)
	assert.Equal(t, []string{"G1"}, tr.SuppressedEntries)
	assert.False(t, d.Store().Membership("V1").Has("G1"), "suppressed entry keeps previous bit")

	// the vehicle is still inside once hysteresis has elapsed
	tr = d.Detect("V1", NewSet("G1"), ms(5001))
	assert.Equal(t, []string{"G1"}, tr.Entries)
	assert.True(t, d.Store().Membership("V1").Has("G1"))
}

func TestDetector_StayingEmitsNothing(t *testing.T) {
	d := NewDetector(NewStore(4), 0)
	require.Equal(t, DefaultMinInterval, d.MinInterval())

	d.Detect("V1", NewSet("G1", "G2"), ms(0))
	tr := d.Detect("V1", NewSet("G1", "G2"), ms(60_000))
	assert.True(t, tr.Empty())
	assert.Equal(t, []string{"G1", "G2"}, tr.Staying)
}

func TestDetector_SuppressionIsPerGeofence(t *testing.T) {
	d := NewDetector(NewStore(4), 5*time.Second)
	d.Detect("V1", NewSet("A"), ms(0))
	d.Detect("V1", NewSet(), ms(100))

	tr := d.Detect("V1", NewSet("A", "B"), ms(200))
	assert.Equal(t, []string{"B"}, tr.Entries)
	assert.Equal(t, []string{"A"}, tr.SuppressedEntries)
	assert.Equal(t, NewSet("B"), d.Store().Membership("V1"))

	// exit of B is the first exit of B; exit hysteresis of A does not apply
	tr = d.Detect("V1", NewSet(), ms(300))
	assert.Equal(t, []string{"B"}, tr.Exits)
}

func TestDetector_ExactlyMinIntervalIsSuppressed(t *testing.T) {
	d := NewDetector(NewStore(1), 5*time.Second)
	d.Detect("V1", NewSet("G"), ms(0))
	d.Detect("V1", NewSet(), ms(10))
	tr := d.Detect("V1", NewSet("G"), ms(5000))
	assert.Equal(t, []string{"G"}, tr.SuppressedEntries)
}

// Accepted transitions of one kind for (vehicle, geofence) are always more
// than the minimum interval apart.
func TestDetector_HysteresisInvariant(t *testing.T) {
	minInterval := 5 * time.Second
	d := NewDetector(NewStore(4), minInterval)
	accepted := map[model.BreachKind][]time.Time{}
	inside := false
	for i := 0; i < 400; i++ {
		at := ms(i * 700)
		inside = !inside
		cur := NewSet()
		if inside {
			cur.Add("G")
		}
		tr := d.Detect("V", cur, at)
		if len(tr.Entries) > 0 {
			accepted[model.BreachEntry] = append(accepted[model.BreachEntry], at)
		}
		if len(tr.Exits) > 0 {
			accepted[model.BreachExit] = append(accepted[model.BreachExit], at)
		}
	}
	for kind, times := range accepted {
		require.NotEmpty(t, times)
		for i := 1; i < len(times); i++ {
			assert.Greater(t, times[i].Sub(times[i-1]), minInterval, "kind %s", kind)
		}
	}
}

func TestDetector_AcceptAndDwell(t *testing.T) {
	d := NewDetector(NewStore(4), 5*time.Second)
	assert.True(t, d.Accept("V1", "Z", model.BreachSpeed, ms(0)))
	assert.False(t, d.Accept("V1", "Z", model.BreachSpeed, ms(3000)))
	assert.True(t, d.Accept("V1", "Z", model.BreachSpeed, ms(5001)))

	assert.False(t, d.DwellDue("V1", "D", time.Minute, ms(0)), "not inside")
	d.Detect("V1", NewSet("D"), ms(0))
	assert.False(t, d.DwellDue("V1", "D", time.Minute, ms(30_000)))
	assert.True(t, d.DwellDue("V1", "D", time.Minute, ms(60_000)))
	assert.False(t, d.DwellDue("V1", "D", time.Minute, ms(120_000)), "once per stay")

	d.Detect("V1", NewSet(), ms(130_000))
	d.Detect("V1", NewSet("D"), ms(140_000))
	assert.True(t, d.DwellDue("V1", "D", time.Minute, ms(200_000)), "new stay")
	assert.False(t, d.DwellDue("V1", "D", 0, ms(400_000)))
}
