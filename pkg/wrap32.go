package protocol

// Wrap32 is a 32-bit sequence number in modular arithmetic, as carried on
// the wire in a TCP segment. Absolute (64-bit, non-wrapping) sequence
// numbers are recovered with Unwrap against a checkpoint.
type Wrap32 uint32

// Wrap converts an absolute sequence number to its wrapped value relative to
// the given zero point.
func Wrap(n uint64, zeroPoint Wrap32) Wrap32 {
	return Wrap32(uint32(n) + uint32(zeroPoint))
}

// Add advances the wrapped value by n, wrapping modulo 2^32.
func (w Wrap32) Add(n uint32) Wrap32 {
	return Wrap32(uint32(w) + n)
}

// Unwrap returns the absolute sequence number a such that Wrap(a, zeroPoint)
// equals w and |a - checkpoint| is minimized. Ties go to the smaller a.
// Searching the period of the checkpoint and its two neighbors is enough:
// adjacent candidates differ by exactly 2^32.
func (w Wrap32) Unwrap(zeroPoint Wrap32, checkpoint uint64) uint64 {
	const periodLength = 1 << 32
	base := uint64(uint32(w) - uint32(zeroPoint))

	period := checkpoint >> 32
	firstPeriod := period
	if period > 0 {
		firstPeriod = period - 1
	}
	candidates := [3]uint64{
		base + firstPeriod*periodLength,
		base + period*periodLength,
		base + (period+1)*periodLength,
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if unsignedDistance(c, checkpoint) < unsignedDistance(best, checkpoint) {
			best = c
		}
	}
	return best
}

func unsignedDistance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
