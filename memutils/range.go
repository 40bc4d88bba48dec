package memutils

import (
	"github.com/cockroachdb/errors"
)

// Range is a half-open byte region [Start, End) within some linear allocation. It is the
// single source of layout arithmetic in this module: higher layers build buffer layouts
// with Extend and carve sub-allocations out of fixed regions with Alloc, so that alignment
// handling stays in one place.
//
// A zero Range is an empty region beginning at offset 0.
type Range struct {
	Start int
	End   int
}

// NewRange returns the region [0, size).
func NewRange(size int) Range {
	return Range{End: size}
}

// Size returns the length of the region in bytes.
func (r Range) Size() int {
	return r.End - r.Start
}

// IsEmpty returns true when the region contains no bytes.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Extend appends a new sub-region of the provided length after the current end of this
// range, aligning its start to the provided alignment, and grows this range's end to cover
// it. The returned Range is the carved sub-region. alignment must be a power of two.
//
// Extend is used while a layout is still being planned: the receiver tracks the total
// extent of everything appended so far.
func (r *Range) Extend(length int, alignment uint) Range {
	DebugCheckPow2(alignment, "range alignment")

	start := AlignUp(r.End, alignment)
	sub := Range{
		Start: start,
		End:   start + length,
	}
	r.End = sub.End
	return sub
}

// Alloc carves a sub-region of the provided size from the front of this range, aligning
// its start to the provided alignment, and advances this range's start past it. Unlike
// Extend, the range's end is fixed: if the aligned sub-region would cross End, Alloc fails
// with NoFitError and the receiver is left unchanged. alignment must be a power of two.
//
// Alloc is used once a layout has been committed to a fixed-capacity allocation.
func (r *Range) Alloc(size int, alignment uint) (Range, error) {
	DebugCheckPow2(alignment, "range alignment")

	start := AlignUp(r.Start, alignment)
	end := start + size
	if end > r.End {
		return Range{}, errors.Wrapf(NoFitError, "requested %d bytes (alignment %d), %d bytes remain", size, alignment, r.End-r.Start)
	}

	r.Start = end
	return Range{Start: start, End: end}, nil
}

// Reset rewinds the region to cover [0, size), discarding any carving done so far.
func (r *Range) Reset(size int) {
	r.Start = 0
	r.End = size
}
