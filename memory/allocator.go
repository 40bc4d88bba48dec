package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/memutils"
)

// Allocator is the common contract of the allocation strategies in this package. A
// strategy satisfies requests for bound device memory according to its own policy; callers
// choose the strategy that matches a resource group's lifetime.
//
// Allocators are not safe for concurrent use: all calls must come from the goroutine that
// owns the rendering context.
type Allocator interface {
	// Allocate returns a memory chunk satisfying the request in the requested
	// classification. Failures are OutOfMemoryError, UnsupportedMemoryTypeError or an
	// error marked with DeviceError.
	Allocate(request Request, class Class) (Allocation, error)
	// Free releases a chunk and resets it to the empty sentinel. Freeing an empty
	// allocation is a no-op; each live allocation must be freed at most once, by the
	// resource that owns it.
	Free(allocation *Allocation) error
	// Stats reports the device memory currently held by this strategy.
	Stats() memutils.Statistics
	// Destroy releases everything the strategy still holds. It must be called exactly
	// once, after every resource backed by this strategy has been destroyed; live
	// allocations at Destroy time are a leak and are reported as an error (and panic
	// under the debug_forge build tag).
	Destroy() error
}

// FindTypeIndex scans the physical device's memory-type table and returns the first index
// that is both permitted by typeBits and whose property flags are a superset of required.
// It fails with UnsupportedMemoryTypeError when no entry matches.
func FindTypeIndex(types []core1_0.MemoryType, typeBits uint32, required core1_0.MemoryPropertyFlags) (int, error) {
	for typeIndex, memoryType := range types {
		if typeBits&(1<<uint32(typeIndex)) == 0 {
			continue
		}
		if memoryType.PropertyFlags&required == required {
			return typeIndex, nil
		}
	}

	return -1, errors.Wrapf(UnsupportedMemoryTypeError, "type bits 0b%b, required properties %s", typeBits, required)
}

func (c Class) findTypeIndex(types []core1_0.MemoryType, request Request) (int, error) {
	typeIndex, err := FindTypeIndex(types, request.TypeBits, c.PropertyFlags())
	if err != nil {
		return -1, errors.Wrapf(err, "classification %s", c)
	}
	return typeIndex, nil
}
