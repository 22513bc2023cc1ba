// Package clock extrapolates playback positions from timestamped state.
package clock

import "time"

// Reconcile returns the position a track has reached at now, given the
// position that was stored at lastUpdate. A paused track stays where it was.
// Reconcile has no side effects; equal inputs always give equal outputs.
func Reconcile(position float64, playing bool, lastUpdate, now time.Time) float64 {
	if !playing {
		return position
	}
	return max(0, position+now.Sub(lastUpdate).Seconds())
}

// Millis converts t to unix milliseconds, the wire representation of time.
// The zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
