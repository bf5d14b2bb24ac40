package radio

import "time"

// Clock is the concentrator microsecond counter. It wraps every ~71 minutes;
// compare instants with signed differences, never with < on the raw values.
type Clock interface {
	Now() uint32
}

// MonotonicClock counts microseconds since its creation
type MonotonicClock struct {
	epoch time.Time
}

// NewMonotonicClock starts the counter at zero
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{epoch: time.Now()}
}

// Now returns the current counter value
func (c *MonotonicClock) Now() uint32 {
	return uint32(time.Since(c.epoch).Microseconds())
}

// Until returns the wall duration until counter value t, negative when t has passed
func Until(c Clock, t uint32) time.Duration {
	return time.Duration(int32(t-c.Now())) * time.Microsecond
}
