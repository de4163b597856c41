package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps ledger rows, commit events and run reports, and supplies the
// target time for runs without TARGET_TIME.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for default target times. Pass nil to
// reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Clock returns the current time source.
func Clock() clockwork.Clock { return clock }

// Now returns the current UTC time from the package clock.
func Now() time.Time { return clock.Now().UTC() }
