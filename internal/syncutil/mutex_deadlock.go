//go:build deadlock

package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// A remote capture holds the camera lock while it polls the interrupt pipe
// for up to 12000 x 500ms, far past the library's 30s default.
const lockHoldLimit = 2 * time.Hour

func init() {
	deadlock.Opts.DeadlockTimeout = lockHoldLimit
}

// Mutex reports lock-order inversions and over-long holds.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is the deadlock-checked counterpart of sync.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}
