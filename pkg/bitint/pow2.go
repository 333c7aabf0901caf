// SPDX-License-Identifier: MIT
/*
Package bitint holds the power-of-two helpers used to validate FFT sizes.
Both functions are branch-light and allocation free, so they may be called
from the audio thread.

	size := bitint.NextPowerOfTwo(300) // 512
	ok := bitint.IsPowerOfTwo(size)    // true
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= n. Values below 1
// return 1. Subtracting one first keeps exact powers unchanged: for 8,
// bits.Len(7) is 3 and 1<<3 is 8 again.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of
// two has one bit set, so clearing the lowest set bit leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NearestPowerOfTwo returns whichever power of two is closest to n,
// preferring the larger one on a tie. It is used to suggest a valid FFT
// size in error messages.
func NearestPowerOfTwo(n int) int {
	hi := NextPowerOfTwo(n)
	lo := hi >> 1
	if lo == 0 || hi-n <= n-lo {
		return hi
	}
	return lo
}
