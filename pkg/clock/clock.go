package clock

import "time"

// Clock supplies the current instant for expiry evaluation.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Fixed always reports the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time {
	return time.Time(f)
}

// Or returns a Fixed clock at *override when it is set, else c.
func Or(c Clock, override *time.Time) Clock {
	if override != nil {
		return Fixed(*override)
	}
	if c == nil {
		return Real{}
	}
	return c
}
