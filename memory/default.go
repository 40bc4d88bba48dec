package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memutils"
	"golang.org/x/exp/slog"
)

// DefaultAllocator makes one device memory allocation per request, sized exactly to the
// request, and frees it outright when the chunk is freed. It is the simplest strategy but
// every resource consumes one of the platform's limited device allocations, so it suits
// small scenes and bootstrap paths rather than bulk loading.
type DefaultAllocator struct {
	dev    device.Device
	logger *slog.Logger

	stats     memutils.DetailedStatistics
	destroyed bool
}

var _ Allocator = &DefaultAllocator{}

func NewDefaultAllocator(dev device.Device, logger *slog.Logger) *DefaultAllocator {
	a := &DefaultAllocator{
		dev:    dev,
		logger: logger,
	}
	a.stats.Clear()
	return a
}

func (a *DefaultAllocator) Allocate(request Request, class Class) (Allocation, error) {
	typeIndex, err := class.findTypeIndex(a.dev.MemoryTypes(), request)
	if err != nil {
		return Allocation{}, err
	}

	maxAllocations := a.dev.Limits().MaxMemoryAllocationCount
	if maxAllocations > 0 && a.stats.BlockCount >= maxAllocations {
		return Allocation{}, errors.Wrapf(OutOfMemoryError, "device allocation count limit of %d reached", maxAllocations)
	}

	a.logger.Debug("DefaultAllocator::Allocate",
		slog.Int("Size", request.Size),
		slog.String("Class", class.String()),
		slog.Int("MemoryTypeIndex", typeIndex),
	)

	memory, err := a.dev.AllocateMemory(request.Size, typeIndex)
	if err != nil {
		return Allocation{}, MarkDeviceError(err)
	}

	var mapped unsafe.Pointer
	if class.HostAccess() {
		mapped, err = a.dev.MapMemory(memory, 0, request.Size)
		if err != nil {
			a.dev.FreeMemory(memory)
			return Allocation{}, MarkDeviceError(err)
		}
	}

	a.stats.AddBlock(request.Size)
	a.stats.AddAllocation(request.Size)

	return Allocation{
		memory:    memory,
		block:     memutils.Range{Start: 0, End: request.Size},
		typeIndex: typeIndex,
		mapped:    mapped,
	}, nil
}

func (a *DefaultAllocator) Free(allocation *Allocation) error {
	if allocation.IsEmpty() {
		return nil
	}

	a.dev.FreeMemory(allocation.memory)
	a.stats.RemoveAllocation(allocation.Size())
	a.stats.RemoveBlock(allocation.Size())
	allocation.clear()
	return nil
}

func (a *DefaultAllocator) Stats() memutils.Statistics {
	return a.stats.Statistics
}

// DetailedStats returns the statistics with allocation size extremes. Every block is sized
// exactly to its allocation, so there are never unused ranges to report.
func (a *DefaultAllocator) DetailedStats() memutils.DetailedStatistics {
	return a.stats
}

// Validate returns an error if the allocator holds allocations that should have been freed
// or has already been destroyed.
func (a *DefaultAllocator) Validate() error {
	if a.destroyed {
		return errors.New("DefaultAllocator destroyed twice")
	}
	if a.stats.AllocationCount != 0 {
		return errors.Newf("DefaultAllocator destroyed with %d live allocations (%d bytes)",
			a.stats.AllocationCount, a.stats.AllocationBytes)
	}
	return nil
}

func (a *DefaultAllocator) Destroy() error {
	memutils.DebugValidate(a)
	err := a.Validate()
	a.destroyed = true
	if err != nil {
		a.logger.Error("leaked allocations at DefaultAllocator teardown",
			slog.Any("error", err),
			slog.String("Stats", memutils.StatsString(&a.stats.Statistics)),
		)
	}
	return err
}
