package event

import "time"

var clockBase = time.Now()

// NowNanos returns nanoseconds on the process monotonic clock. All event
// timestamps and timer deadlines in the filter chain share this clock, so
// deadline arithmetic is immune to wall-clock jumps.
func NowNanos() int64 {
	return time.Since(clockBase).Nanoseconds()
}
