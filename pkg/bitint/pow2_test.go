// SPDX-License-Identifier: MIT
package bitint

import (
	"fmt"
	"testing"
)

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{-10, 1},
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{256, 256},
		{300, 512},
		{1000, 1024},
		{16385, 32768},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d→%d", tt.n, tt.want), func(t *testing.T) {
			if got := NextPowerOfTwo(tt.n); got != tt.want {
				t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.want)
			}
		})
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 2, 32, 256, 2048, 32768} {
		if !IsPowerOfTwo(n) {
			t.Errorf("IsPowerOfTwo(%d) = false", n)
		}
	}
	for _, n := range []int{-8, 0, 3, 300, 1000, 32767} {
		if IsPowerOfTwo(n) {
			t.Errorf("IsPowerOfTwo(%d) = true", n)
		}
	}
}

func TestNearestPowerOfTwo(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{0, 1},
		{1, 1},
		{3, 4}, // tie goes up
		{300, 256},
		{400, 512},
		{384, 512},
		{1000, 1024},
	}
	for _, tt := range tests {
		if got := NearestPowerOfTwo(tt.n); got != tt.want {
			t.Errorf("NearestPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestZeroAllocs(t *testing.T) {
	allocs := testing.AllocsPerRun(100, func() {
		_ = NextPowerOfTwo(1000)
		_ = IsPowerOfTwo(1024)
	})
	if allocs != 0 {
		t.Errorf("allocs = %f, want 0", allocs)
	}
}

func BenchmarkNextPowerOfTwo(b *testing.B) {
	for i := range b.N {
		_ = NextPowerOfTwo(i)
	}
}
