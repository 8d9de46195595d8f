package simulator

import (
	"sync"
	"time"
)

// Battery models a traction battery drained by driving.
type Battery struct {
	CapacityKWh float64 // total capacity
	Soc         float64 // state of charge [0,1]
	// ConsumptionKWhPerKm is the energy used per kilometre driven.
	ConsumptionKWhPerKm float64
	mu                  sync.Mutex
}

// Drive removes the energy needed for km kilometres and returns the energy
// actually drawn. An empty battery draws nothing.
func (b *Battery) Drive(km float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if km <= 0 || b.CapacityKWh <= 0 {
		return 0
	}
	needed := km * b.ConsumptionKWhPerKm
	avail := b.Soc * b.CapacityKWh
	if needed > avail {
		needed = avail
	}
	b.Soc -= needed / b.CapacityKWh
	if b.Soc < 0 {
		b.Soc = 0
	}
	return needed
}

// Charge adds energy at powerKW for dt, up to a full battery.
func (b *Battery) Charge(powerKW float64, dt time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if powerKW <= 0 || b.CapacityKWh <= 0 {
		return
	}
	b.Soc += powerKW * dt.Hours() / b.CapacityKWh
	if b.Soc > 1 {
		b.Soc = 1
	}
}

// Level returns the state of charge in percent.
func (b *Battery) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Soc * 100
}
