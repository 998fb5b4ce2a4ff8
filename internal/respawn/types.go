package respawn

import "time"

// TimerKind identifies one of the two aligned respawn timers.
type TimerKind int

const (
	Timer10m TimerKind = iota
	Timer2h
)

func (k TimerKind) String() string {
	switch k {
	case Timer10m:
		return "10m"
	case Timer2h:
		return "2h"
	default:
		return "unknown"
	}
}

// Period returns the alignment period for the timer kind.
func (k TimerKind) Period() time.Duration {
	if k == Timer2h {
		return Period2h
	}
	return Period10m
}

const (
	Period10m = 10 * time.Minute
	Period2h  = 2 * time.Hour

	// DefaultMaxChannels caps the voice channel fanout list.
	DefaultMaxChannels = 10

	// DefaultMinSleep floors the trigger loop's wait so two already-due
	// timers cannot busy-loop it.
	DefaultMinSleep = 100 * time.Millisecond

	// DefaultCollisionWindow is how close the two next-fire instants must be
	// to count as colliding (2h wins the tie-break).
	DefaultCollisionWindow = 30 * time.Second
)

// Repeat is a timer's play-count / inter-play gap pair.
type Repeat struct {
	Plays int
	GapMs int
}

func (r Repeat) Gap() time.Duration { return time.Duration(r.GapMs) * time.Millisecond }
