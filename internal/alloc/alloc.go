// Package alloc provides the overflow-checked sizing primitives the
// builder arena uses to compute buffer growth. Go's allocator already
// guarantees alignment for byte slices, so unlike the C original this
// package never hands back a raw pointer — only checked integer
// arithmetic over sizes.
package alloc

import (
	"errors"
	"math"
)

// ErrOverflow is returned when a requested size computation would
// overflow a machine int.
var ErrOverflow = errors.New("alloc: size computation overflows")

// Size computes count*size, failing with ErrOverflow instead of
// wrapping silently. Mirrors the overflow discipline of the C
// original's alloc(alignment, count, size) without the alignment
// argument, which Go's runtime already guarantees.
func Size(count, size int) (int, error) {
	if count < 0 || size < 0 {
		return 0, ErrOverflow
	}
	if count == 0 || size == 0 {
		return 0, nil
	}
	if count > math.MaxInt/size {
		return 0, ErrOverflow
	}
	return count * size, nil
}

// GrowTarget returns the new capacity needed to hold inUse+want bytes,
// rounded up to the next multiple of page (the arena's page-sized
// growth policy, §4.C). It panics if inUse+want would overflow since
// that indicates a logic error upstream rather than recoverable input.
func GrowTarget(inUse, want, page int) int {
	if inUse < 0 || want < 0 || page <= 0 {
		panic("alloc: invalid GrowTarget arguments")
	}
	if inUse > math.MaxInt-want {
		panic("alloc: GrowTarget overflow")
	}
	needed := inUse + want
	if needed%page == 0 {
		return needed
	}
	// ceil(needed/page) * page, checked against overflow.
	quotient := needed/page + 1
	if quotient > math.MaxInt/page {
		panic("alloc: GrowTarget overflow")
	}
	return quotient * page
}
