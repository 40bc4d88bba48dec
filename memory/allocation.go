package memory

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memutils"
)

// Request describes memory that a just-created resource needs: how much, at what
// alignment, and which memory types the device permits for it. It is a pure value derived
// from a device requirements query and carries no ownership.
type Request struct {
	Size      int
	Alignment uint
	TypeBits  uint32
}

// NewRequest converts a device memory-requirements query into a Request.
func NewRequest(requirements core1_0.MemoryRequirements) Request {
	return Request{
		Size:      requirements.Size,
		Alignment: uint(requirements.Alignment),
		TypeBits:  requirements.MemoryTypeBits,
	}
}

// Allocation is a chunk of bound device memory: a byte range within some device
// allocation, which may be the whole allocation (DefaultAllocator) or a sub-range of a
// shared pool (StaticAllocator, PageAllocator). Allocations for host-accessible
// classifications carry a persistent mapping for their range.
//
// An Allocation is owned by exactly one resource. The zero value is the empty sentinel:
// freeing resets the allocation to it, and freeing an empty allocation is a no-op.
type Allocation struct {
	memory    device.Memory
	block     memutils.Range
	typeIndex int
	mapped    unsafe.Pointer
}

// Memory returns the device memory this chunk was carved from.
func (a *Allocation) Memory() device.Memory {
	return a.memory
}

// Offset returns the chunk's byte offset within its device memory.
func (a *Allocation) Offset() int {
	return a.block.Start
}

// Size returns the chunk's length in bytes.
func (a *Allocation) Size() int {
	return a.block.Size()
}

// TypeIndex returns the memory type index the chunk was allocated from.
func (a *Allocation) TypeIndex() int {
	return a.typeIndex
}

// MappedData returns the persistent host mapping for this chunk, already adjusted for the
// chunk's offset, or nil for device-local allocations.
func (a *Allocation) MappedData() unsafe.Pointer {
	return a.mapped
}

// IsEmpty reports whether this is the empty sentinel.
func (a *Allocation) IsEmpty() bool {
	return a.memory.IsNil()
}

func (a *Allocation) clear() {
	*a = Allocation{}
}
