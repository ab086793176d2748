package bidding

import (
	"time"
)

// MinimumBid returns the lowest acceptable amount.  The first bid on a
// lot may equal the starting price; later bids must beat the current
// highest by at least one increment.
func MinimumBid(base int64, hasBid bool, increment int64) int64 {
	if !hasBid {
		return base
	}
	return base + normalizeIncrement(increment)
}

// NextValidAmount rounds amount up to the next value reachable from
// base in whole increments.
func NextValidAmount(base, amount, increment int64) int64 {
	inc := normalizeIncrement(increment)
	diff := amount - base
	if diff <= 0 {
		return base
	}
	steps := (diff + inc - 1) / inc
	return base + steps*inc
}

// IsAligned reports whether amount sits a non-negative whole number of
// increments above base.
func IsAligned(base, amount, increment int64) bool {
	diff := amount - base
	return diff >= 0 && diff%normalizeIncrement(increment) == 0
}

// an auction without a configured increment accepts any integer step
func normalizeIncrement(increment int64) int64 {
	if increment < 1 {
		return 1
	}
	return increment
}

// SoftCloseEnd decides whether a bid accepted at now extends a lot
// ending at end.  It only fires while 0 < end-now <= threshold and never
// moves the end earlier.
func SoftCloseEnd(now, end time.Time, threshold, extension time.Duration) (time.Time, bool) {
	remaining := end.Sub(now)
	if remaining <= 0 || remaining > threshold {
		return end, false
	}
	candidate := now.Add(extension)
	if !candidate.After(end) {
		return end, false
	}
	return candidate, true
}
