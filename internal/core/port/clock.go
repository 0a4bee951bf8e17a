package port

import "time"

// Clock supplies the current time to time-dependent logic.
type Clock interface {
	Now() time.Time
}
