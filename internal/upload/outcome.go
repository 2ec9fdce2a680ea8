package upload

import (
	"math/rand"
	"sync"
)

// Outcome decides what happens to a record whose progress reached 100.
// Returning nil completes the upload; ErrSimulatedFailure fails it.
type Outcome func(Record) error

// AlwaysSucceed is the production outcome.
func AlwaysSucceed(Record) error { return nil }

// RandomFailure fails completed uploads with probability rate. It is a
// testing hook; rnd may be nil to use a time-seeded source.
func RandomFailure(rate float64, rnd *rand.Rand) Outcome {
	if rate <= 0 {
		return AlwaysSucceed
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	var mu sync.Mutex
	return func(Record) error {
		mu.Lock()
		roll := rnd.Float64()
		mu.Unlock()
		if roll < rate {
			return ErrSimulatedFailure
		}
		return nil
	}
}
