package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memutils"
	"golang.org/x/exp/slog"
)

// StaticAllocator satisfies requests out of pools planned up front: the caller registers
// every request it expects to make with AddAllocation, Commit makes one device allocation
// per memory type sized to the aligned sum of the plan, and Allocate then bump-allocates
// sub-ranges out of the committed pools. Free is a no-op; the pools are torn down as a
// whole at Destroy.
//
// Allocating more than was planned for a memory type fails with OutOfMemoryError. The
// strategy suits load-once resource groups whose sizes are fully known before any memory
// is committed, which the two-phase prepare/finalize protocol is designed to produce.
type StaticAllocator struct {
	dev    device.Device
	logger *slog.Logger

	pools     [common.MaxMemoryTypes]*staticPool
	committed bool
	destroyed bool
	stats     memutils.DetailedStatistics
}

type staticPool struct {
	typeIndex int

	// plan's end accumulates padded request sizes; cursor carves the committed pool
	plan   memutils.Range
	cursor memutils.Range

	memory device.Memory
	mapped unsafe.Pointer
}

var _ Allocator = &StaticAllocator{}

func NewStaticAllocator(dev device.Device, logger *slog.Logger) *StaticAllocator {
	a := &StaticAllocator{
		dev:    dev,
		logger: logger,
	}
	a.stats.Clear()
	return a
}

// AddAllocation registers one future request with the plan. It may only be called before
// Commit.
func (a *StaticAllocator) AddAllocation(request Request, class Class) error {
	if a.committed {
		return errors.New("StaticAllocator plan is already committed")
	}

	typeIndex, err := class.findTypeIndex(a.dev.MemoryTypes(), request)
	if err != nil {
		return err
	}

	pool := a.pools[typeIndex]
	if pool == nil {
		pool = &staticPool{typeIndex: typeIndex}
		a.pools[typeIndex] = pool
	}

	// Reserve worst-case alignment padding so the committed pool can satisfy the planned
	// requests in any allocation order, not just the order they were registered in.
	slop := int(request.Alignment)
	if slop > 0 {
		slop--
	}
	pool.plan.End += request.Size + slop
	return nil
}

// Commit makes the planned device allocation for every memory type in the plan and maps
// the host-visible ones persistently. On any failure, pools committed so far are released
// and the allocator is left uncommitted.
func (a *StaticAllocator) Commit() error {
	if a.committed {
		return errors.New("StaticAllocator committed twice")
	}

	for typeIndex := 0; typeIndex < common.MaxMemoryTypes; typeIndex++ {
		pool := a.pools[typeIndex]
		if pool == nil {
			continue
		}

		err := a.commitPool(pool)
		if err != nil {
			a.releasePools()
			return err
		}
	}

	a.committed = true
	return nil
}

func (a *StaticAllocator) commitPool(pool *staticPool) error {
	size := pool.plan.End

	a.logger.Debug("StaticAllocator::Commit",
		slog.Int("MemoryTypeIndex", pool.typeIndex),
		slog.Int("PlannedBytes", size),
	)

	memory, err := a.dev.AllocateMemory(size, pool.typeIndex)
	if err != nil {
		return MarkDeviceError(err)
	}

	hostVisible := a.dev.MemoryTypes()[pool.typeIndex].PropertyFlags&ClassHostVisible.PropertyFlags() != 0
	if hostVisible {
		pool.mapped, err = a.dev.MapMemory(memory, 0, size)
		if err != nil {
			a.dev.FreeMemory(memory)
			return MarkDeviceError(err)
		}
	}

	pool.memory = memory
	pool.cursor = memutils.NewRange(size)
	a.stats.AddBlock(size)
	return nil
}

func (a *StaticAllocator) Allocate(request Request, class Class) (Allocation, error) {
	if !a.committed {
		return Allocation{}, errors.New("StaticAllocator used before Commit")
	}

	typeIndex, err := class.findTypeIndex(a.dev.MemoryTypes(), request)
	if err != nil {
		return Allocation{}, err
	}

	pool := a.pools[typeIndex]
	if pool == nil {
		return Allocation{}, errors.Wrapf(OutOfMemoryError, "no memory was planned for memory type %d", typeIndex)
	}

	sub, err := pool.cursor.Alloc(request.Size, request.Alignment)
	if err != nil {
		return Allocation{}, errors.Wrapf(OutOfMemoryError,
			"memory type %d exhausted its plan of %d bytes: %v", typeIndex, pool.plan.End, err)
	}

	var mapped unsafe.Pointer
	if pool.mapped != nil {
		mapped = unsafe.Add(pool.mapped, sub.Start)
	}

	a.stats.AddAllocation(sub.Size())

	return Allocation{
		memory:    pool.memory,
		block:     sub,
		typeIndex: typeIndex,
		mapped:    mapped,
	}, nil
}

// Free resets the allocation to the empty sentinel. The underlying pool range is not
// reclaimed; static pools live until Destroy.
func (a *StaticAllocator) Free(allocation *Allocation) error {
	if allocation.IsEmpty() {
		return nil
	}

	a.stats.RemoveAllocation(allocation.Size())
	allocation.clear()
	return nil
}

func (a *StaticAllocator) Stats() memutils.Statistics {
	return a.stats.Statistics
}

// DetailedStats returns the statistics with allocation size extremes and a snapshot of
// each committed pool's unconsumed tail as an unused range.
func (a *StaticAllocator) DetailedStats() memutils.DetailedStatistics {
	detailed := a.stats
	for typeIndex := 0; typeIndex < common.MaxMemoryTypes; typeIndex++ {
		pool := a.pools[typeIndex]
		if pool == nil || pool.memory.IsNil() {
			continue
		}
		if remaining := pool.cursor.Size(); remaining > 0 {
			detailed.AddUnusedRange(remaining)
		}
	}
	return detailed
}

func (a *StaticAllocator) Validate() error {
	if a.destroyed {
		return errors.New("StaticAllocator destroyed twice")
	}
	return nil
}

func (a *StaticAllocator) Destroy() error {
	memutils.DebugValidate(a)
	err := a.Validate()
	if err != nil {
		return err
	}

	a.releasePools()
	a.destroyed = true
	return nil
}

func (a *StaticAllocator) releasePools() {
	for typeIndex := 0; typeIndex < common.MaxMemoryTypes; typeIndex++ {
		pool := a.pools[typeIndex]
		if pool == nil || pool.memory.IsNil() {
			continue
		}

		if pool.mapped != nil {
			a.dev.UnmapMemory(pool.memory)
			pool.mapped = nil
		}
		a.dev.FreeMemory(pool.memory)
		a.stats.RemoveBlock(pool.cursor.End)
		pool.memory = device.Memory{}
	}
}
