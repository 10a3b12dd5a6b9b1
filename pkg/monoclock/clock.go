//go:build linux

package monoclock

import (
	"time"

	"golang.org/x/sys/unix"
)

const nanosecondsPerSecond = int64(1_000_000_000)

// TimePoint is a monotonic instant split into seconds and nanoseconds.
// A normalized time point keeps |nanoseconds| below one second and never
// lets the two parts carry opposite signs.
type TimePoint struct {
	seconds     int64
	nanoseconds int64
}

func FromSecondsAndNanoseconds(seconds int64, nanoseconds int64) TimePoint {
	tp := TimePoint{seconds: seconds, nanoseconds: nanoseconds}
	tp.normalize()
	return tp
}

func Now() TimePoint {
	ts := unix.Timespec{}
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return FromSecondsAndNanoseconds(ts.Sec, ts.Nsec)
}

func (tp TimePoint) Seconds() int64 {
	return tp.seconds
}

func (tp TimePoint) Nanoseconds() int64 {
	return tp.nanoseconds
}

func (tp TimePoint) Add(d time.Duration) TimePoint {
	return FromSecondsAndNanoseconds(tp.seconds, tp.nanoseconds+d.Nanoseconds())
}

func (tp TimePoint) Sub(other TimePoint) time.Duration {
	return time.Duration((tp.seconds-other.seconds)*nanosecondsPerSecond + (tp.nanoseconds - other.nanoseconds))
}

func (tp TimePoint) Before(other TimePoint) bool {
	if tp.seconds == other.seconds {
		return tp.nanoseconds < other.nanoseconds
	}
	return tp.seconds < other.seconds
}

func (tp TimePoint) After(other TimePoint) bool {
	return other.Before(tp)
}

func (tp TimePoint) Equal(other TimePoint) bool {
	return tp.seconds == other.seconds && tp.nanoseconds == other.nanoseconds
}

func (tp *TimePoint) normalize() {
	extra := tp.nanoseconds / nanosecondsPerSecond
	tp.seconds += extra
	tp.nanoseconds -= extra * nanosecondsPerSecond
	if tp.seconds < 0 && tp.nanoseconds > 0 {
		tp.seconds++
		tp.nanoseconds -= nanosecondsPerSecond
	} else if tp.seconds > 0 && tp.nanoseconds < 0 {
		tp.seconds--
		tp.nanoseconds += nanosecondsPerSecond
	}
}
