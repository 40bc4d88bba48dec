package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memutils"
	"golang.org/x/exp/slog"
)

const defaultPageSize = 64 * 1024 * 1024

type PageAllocatorOptions struct {
	// PageSize is the size of each standard page. Defaults to 64MiB when zero. Requests
	// larger than half a page bypass the page pool and get a dedicated device allocation.
	PageSize int
}

// PageAllocator bump-allocates out of fixed-size pages, one page list per memory type.
// Individual frees only decrement the page's live count; when the count reaches zero
// the page's cursor resets so the whole page can be reused. One empty standard page is
// retained per memory type to absorb steady-state churn, further empties are returned
// to the device.
type PageAllocator struct {
	dev      device.Device
	logger   *slog.Logger
	pageSize int

	pages        [common.MaxMemoryTypes][]*page
	pageByMemory *swiss.Map[device.Memory, *page]

	destroyed bool
	stats     memutils.DetailedStatistics
}

type page struct {
	memory    device.Memory
	typeIndex int
	size      int

	cursor memutils.Range
	mapped unsafe.Pointer

	live      int
	dedicated bool
}

var _ Allocator = &PageAllocator{}

func NewPageAllocator(dev device.Device, logger *slog.Logger, options PageAllocatorOptions) *PageAllocator {
	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	a := &PageAllocator{
		dev:          dev,
		logger:       logger,
		pageSize:     pageSize,
		pageByMemory: swiss.NewMap[device.Memory, *page](32),
	}
	a.stats.Clear()
	return a
}

func (a *PageAllocator) Allocate(request Request, class Class) (Allocation, error) {
	typeIndex, err := class.findTypeIndex(a.dev.MemoryTypes(), request)
	if err != nil {
		return Allocation{}, err
	}

	if request.Size > a.pageSize/2 {
		return a.allocateDedicated(request, typeIndex)
	}

	for _, candidate := range a.pages[typeIndex] {
		if candidate.dedicated {
			continue
		}

		sub, err := candidate.cursor.Alloc(request.Size, request.Alignment)
		if err != nil {
			continue
		}
		return a.finishAllocate(candidate, sub, typeIndex), nil
	}

	newPage, err := a.createPage(typeIndex, a.pageSize, false)
	if err != nil {
		return Allocation{}, err
	}

	sub, err := newPage.cursor.Alloc(request.Size, request.Alignment)
	if err != nil {
		// a fresh page always fits a request no larger than half the page
		return Allocation{}, errors.Wrapf(err, "request of %d bytes did not fit an empty %d-byte page", request.Size, a.pageSize)
	}
	return a.finishAllocate(newPage, sub, typeIndex), nil
}

func (a *PageAllocator) allocateDedicated(request Request, typeIndex int) (Allocation, error) {
	dedicated, err := a.createPage(typeIndex, request.Size, true)
	if err != nil {
		return Allocation{}, err
	}

	sub, err := dedicated.cursor.Alloc(request.Size, request.Alignment)
	if err != nil {
		return Allocation{}, errors.Wrapf(err, "dedicated page of %d bytes did not fit its own request", request.Size)
	}
	return a.finishAllocate(dedicated, sub, typeIndex), nil
}

func (a *PageAllocator) finishAllocate(p *page, sub memutils.Range, typeIndex int) Allocation {
	p.live++
	a.stats.AddAllocation(sub.Size())

	var mapped unsafe.Pointer
	if p.mapped != nil {
		mapped = unsafe.Add(p.mapped, sub.Start)
	}

	return Allocation{
		memory:    p.memory,
		block:     sub,
		typeIndex: typeIndex,
		mapped:    mapped,
	}
}

func (a *PageAllocator) createPage(typeIndex int, size int, dedicated bool) (*page, error) {
	maxAllocations := a.dev.Limits().MaxMemoryAllocationCount
	if maxAllocations > 0 && a.stats.BlockCount >= maxAllocations {
		return nil, errors.Wrapf(OutOfMemoryError,
			"the device limit of %d memory allocations has been reached", maxAllocations)
	}

	a.logger.Debug("PageAllocator::createPage",
		slog.Int("MemoryTypeIndex", typeIndex),
		slog.Int("Size", size),
		slog.Bool("Dedicated", dedicated),
	)

	memory, err := a.dev.AllocateMemory(size, typeIndex)
	if err != nil {
		return nil, MarkDeviceError(err)
	}

	var mapped unsafe.Pointer
	hostVisible := a.dev.MemoryTypes()[typeIndex].PropertyFlags&ClassHostVisible.PropertyFlags() != 0
	if hostVisible {
		mapped, err = a.dev.MapMemory(memory, 0, size)
		if err != nil {
			a.dev.FreeMemory(memory)
			return nil, MarkDeviceError(err)
		}
	}

	p := &page{
		memory:    memory,
		typeIndex: typeIndex,
		size:      size,
		cursor:    memutils.NewRange(size),
		mapped:    mapped,
		dedicated: dedicated,
	}
	a.pages[typeIndex] = append(a.pages[typeIndex], p)
	a.pageByMemory.Put(memory, p)
	a.stats.AddBlock(size)
	return p, nil
}

func (a *PageAllocator) Free(allocation *Allocation) error {
	if allocation.IsEmpty() {
		return nil
	}

	p, ok := a.pageByMemory.Get(allocation.Memory())
	if !ok {
		return errors.Newf("allocation's memory does not belong to this allocator: %+v", allocation.Memory())
	}

	a.stats.RemoveAllocation(allocation.Size())
	allocation.clear()

	p.live--
	if p.live > 0 {
		return nil
	}

	if p.dedicated {
		a.releasePage(p)
		return nil
	}

	p.cursor.Reset(p.size)
	if a.countEmptyPages(p.typeIndex) > 1 {
		a.releasePage(p)
	}
	return nil
}

func (a *PageAllocator) countEmptyPages(typeIndex int) int {
	var count int
	for _, p := range a.pages[typeIndex] {
		if !p.dedicated && p.live == 0 {
			count++
		}
	}
	return count
}

func (a *PageAllocator) releasePage(p *page) {
	if p.mapped != nil {
		a.dev.UnmapMemory(p.memory)
		p.mapped = nil
	}
	a.dev.FreeMemory(p.memory)
	a.pageByMemory.Delete(p.memory)
	a.stats.RemoveBlock(p.size)

	list := a.pages[p.typeIndex]
	for i, candidate := range list {
		if candidate == p {
			a.pages[p.typeIndex] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (a *PageAllocator) Stats() memutils.Statistics {
	return a.stats.Statistics
}

// DetailedStats returns the statistics with allocation size extremes and a snapshot of
// every page's unconsumed tail as an unused range.
func (a *PageAllocator) DetailedStats() memutils.DetailedStatistics {
	detailed := a.stats
	for typeIndex := 0; typeIndex < common.MaxMemoryTypes; typeIndex++ {
		for _, p := range a.pages[typeIndex] {
			if remaining := p.cursor.Size(); remaining > 0 {
				detailed.AddUnusedRange(remaining)
			}
		}
	}
	return detailed
}

func (a *PageAllocator) Validate() error {
	if a.destroyed {
		return errors.New("PageAllocator destroyed twice")
	}
	if a.stats.AllocationCount > 0 {
		return errors.Newf("PageAllocator has %d unfreed allocations", a.stats.AllocationCount)
	}
	return nil
}

func (a *PageAllocator) Destroy() error {
	memutils.DebugValidate(a)
	if a.destroyed {
		return errors.New("PageAllocator destroyed twice")
	}

	if a.stats.AllocationCount > 0 {
		a.logger.Error("PageAllocator destroyed with unfreed allocations",
			slog.Int("AllocationCount", a.stats.AllocationCount),
			slog.String("Stats", memutils.StatsString(&a.stats.Statistics)),
		)
	}

	for typeIndex := 0; typeIndex < common.MaxMemoryTypes; typeIndex++ {
		for len(a.pages[typeIndex]) > 0 {
			a.releasePage(a.pages[typeIndex][0])
		}
	}

	a.destroyed = true
	if a.stats.AllocationCount > 0 {
		return errors.Newf("PageAllocator destroyed with %d unfreed allocations", a.stats.AllocationCount)
	}
	return nil
}
