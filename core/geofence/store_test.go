package geofence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

func TestStore_UnknownVehicle(t *testing.T) {
	s := NewStore(4)
	if m := s.Membership("nope"); m == nil || len(m) != 0 {
		t.Fatalf("expected empty set, got %v", m)
	}
	if got := s.LastTransition("nope", "g", model.BreachEntry); !got.Equal(FarPast) {
		t.Fatalf("expected far past sentinel, got %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("reads must not create state")
	}
}

func TestStore_MembershipIsCopy(t *testing.T) {
	s := NewStore(0)
	s.SetMembership("v1", NewSet("a", "b"))
	m := s.Membership("v1")
	m.Remove("a")
	if !s.Membership("v1").Has("a") {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestStore_RecordTransition(t *testing.T) {
	s := NewStore(2)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.RecordTransition("v1", "g1", model.BreachExit, at)
	if got := s.LastTransition("v1", "g1", model.BreachExit); !got.Equal(at) {
		t.Fatalf("expected %v got %v", at, got)
	}
	if got := s.LastTransition("v1", "g1", model.BreachEntry); !got.Equal(FarPast) {
		t.Fatalf("kinds must be tracked independently, got %v", got)
	}
	s.Forget("v1")
	if s.Len() != 0 {
		t.Fatal("expected vehicle to be forgotten")
	}
}

// Concurrent read-modify-write on the same vehicle must not lose updates.
func TestStore_SingleWriterPerKey(t *testing.T) {
	s := NewStore(8)
	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("g-%d-%d", w, i)
				s.Update("shared", func(tx *Txn) {
					m := tx.Members()
					m.Add(id)
					tx.SetMembers(m)
				})
				s.SetMembership(fmt.Sprintf("own-%d", w), NewSet(id))
			}
		}(w)
	}
	wg.Wait()
	if got := len(s.Membership("shared")); got != workers*perWorker {
		t.Fatalf("lost updates: got %d want %d", got, workers*perWorker)
	}
	if s.Len() != workers+1 {
		t.Fatalf("expected %d vehicles, got %d", workers+1, s.Len())
	}
}
