package scheduling

import "time"

// Clock supplies "now" so that past/future rules are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall-clock implementation used by the binaries.
func SystemClock() Clock { return systemClock{} }
