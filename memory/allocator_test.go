package memory_test

import (
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/device/devicetest"
	"github.com/vkngwrapper/forge/memory"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout))
}

func TestFindTypeIndex(t *testing.T) {
	types := []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
	}

	// bit 0 is excluded by the type bits and bit 1 lacks coherence, so the first
	// acceptable entry is index 2
	typeIndex, err := memory.FindTypeIndex(types, 0b0110, memory.ClassHostCoherent.PropertyFlags())
	require.NoError(t, err)
	require.Equal(t, 2, typeIndex)

	typeIndex, err = memory.FindTypeIndex(types, 0b1001, memory.ClassDeviceLocal.PropertyFlags())
	require.NoError(t, err)
	require.Equal(t, 0, typeIndex)

	// index 3 is device-local only
	_, err = memory.FindTypeIndex(types, 0b1000, memory.ClassHostVisible.PropertyFlags())
	require.ErrorIs(t, err, memory.UnsupportedMemoryTypeError)
}

func TestDefaultAllocatorRoundTrip(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())

	request := memory.Request{Size: 1024, Alignment: 16, TypeBits: 0b11}

	deviceAlloc, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 0, deviceAlloc.TypeIndex())
	require.Equal(t, 0, deviceAlloc.Offset())
	require.Equal(t, 1024, deviceAlloc.Size())
	require.Nil(t, deviceAlloc.MappedData())

	hostAlloc, err := allocator.Allocate(request, memory.ClassHostCoherent)
	require.NoError(t, err)
	require.Equal(t, 1, hostAlloc.TypeIndex())
	require.NotNil(t, hostAlloc.MappedData())

	// the mapping writes through to the allocation's backing store
	*(*byte)(hostAlloc.MappedData()) = 0xAB
	require.Equal(t, byte(0xAB), fake.MemoryContents(hostAlloc.Memory())[0])

	stats := allocator.Stats()
	require.Equal(t, 2, stats.BlockCount)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 2048, stats.AllocationBytes)

	require.NoError(t, allocator.Free(&deviceAlloc))
	require.NoError(t, allocator.Free(&hostAlloc))
	require.True(t, deviceAlloc.IsEmpty())

	// freeing the empty sentinel is a no-op
	require.NoError(t, allocator.Free(&deviceAlloc))

	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, fake.LiveMemories())
}

func TestDefaultAllocatorAllocationCeiling(t *testing.T) {
	fake := devicetest.NewFake()
	fake.DeviceLimits.MaxMemoryAllocationCount = 2
	allocator := memory.NewDefaultAllocator(fake, testLogger())

	request := memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}

	first, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)
	second, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)

	_, err = allocator.Allocate(request, memory.ClassDeviceLocal)
	require.ErrorIs(t, err, memory.OutOfMemoryError)

	require.NoError(t, allocator.Free(&first))

	third, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)

	require.NoError(t, allocator.Free(&second))
	require.NoError(t, allocator.Free(&third))
	require.NoError(t, allocator.Destroy())
}

func TestDefaultAllocatorDeviceFailure(t *testing.T) {
	fake := devicetest.NewFake()
	fake.FailOps["AllocateMemory"] = errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY")
	allocator := memory.NewDefaultAllocator(fake, testLogger())

	_, err := allocator.Allocate(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal)
	require.ErrorIs(t, err, memory.DeviceError)

	require.NoError(t, allocator.Destroy())
}

func TestDefaultAllocatorLeakDetection(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())

	_, err := allocator.Allocate(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal)
	require.NoError(t, err)

	require.Error(t, allocator.Destroy())
}

func TestStaticAllocatorPlanAndCommit(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewStaticAllocator(fake, testLogger())

	deviceRequest := memory.Request{Size: 100, Alignment: 16, TypeBits: 0b11}
	hostRequest := memory.Request{Size: 50, Alignment: 4, TypeBits: 0b11}

	require.NoError(t, allocator.AddAllocation(deviceRequest, memory.ClassDeviceLocal))
	require.NoError(t, allocator.AddAllocation(deviceRequest, memory.ClassDeviceLocal))
	require.NoError(t, allocator.AddAllocation(hostRequest, memory.ClassHostCoherent))

	// allocating before Commit is a contract violation
	_, err := allocator.Allocate(deviceRequest, memory.ClassDeviceLocal)
	require.Error(t, err)

	require.NoError(t, allocator.Commit())

	// one device allocation per planned memory type
	require.Equal(t, 2, fake.LiveMemories())
	stats := allocator.Stats()
	require.Equal(t, 2, stats.BlockCount)
	// each planned request reserves its size plus worst-case alignment padding, so
	// the device-local pool is 2*(100+15) and the host pool is 50+3
	require.Equal(t, 230+53, stats.BlockBytes)

	first, err := allocator.Allocate(deviceRequest, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 0, first.Offset())
	require.Nil(t, first.MappedData())

	second, err := allocator.Allocate(deviceRequest, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, first.Memory(), second.Memory())
	require.Equal(t, 112, second.Offset())

	// only padding slop remains, not room for a third request
	_, err = allocator.Allocate(deviceRequest, memory.ClassDeviceLocal)
	require.ErrorIs(t, err, memory.OutOfMemoryError)

	host, err := allocator.Allocate(hostRequest, memory.ClassHostCoherent)
	require.NoError(t, err)
	require.NotNil(t, host.MappedData())
	*(*byte)(host.MappedData()) = 0x7F
	require.Equal(t, byte(0x7F), fake.MemoryContents(host.Memory())[host.Offset()])

	require.NoError(t, allocator.Free(&first))
	require.NoError(t, allocator.Free(&second))
	require.NoError(t, allocator.Free(&host))
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, fake.LiveMemories())
}

func TestStaticAllocatorReorderedAllocates(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewStaticAllocator(fake, testLogger())

	big := memory.Request{Size: 100, Alignment: 16, TypeBits: 0b11}
	small := memory.Request{Size: 50, Alignment: 4, TypeBits: 0b11}

	require.NoError(t, allocator.AddAllocation(big, memory.ClassDeviceLocal))
	require.NoError(t, allocator.AddAllocation(small, memory.ClassDeviceLocal))
	require.NoError(t, allocator.Commit())

	// allocating in the reverse of the planned order still fits: the plan reserves
	// alignment padding for every request regardless of where it lands
	first, err := allocator.Allocate(small, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 0, first.Offset())

	second, err := allocator.Allocate(big, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 64, second.Offset())

	require.NoError(t, allocator.Free(&first))
	require.NoError(t, allocator.Free(&second))
	require.NoError(t, allocator.Destroy())
}

func TestStaticAllocatorUnplannedType(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewStaticAllocator(fake, testLogger())

	require.NoError(t, allocator.AddAllocation(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal))
	require.NoError(t, allocator.Commit())

	// nothing was planned for the host-visible type
	_, err := allocator.Allocate(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}, memory.ClassHostCoherent)
	require.ErrorIs(t, err, memory.OutOfMemoryError)

	require.NoError(t, allocator.Destroy())
}

func TestStaticAllocatorAddAfterCommit(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewStaticAllocator(fake, testLogger())

	require.NoError(t, allocator.Commit())
	require.Error(t, allocator.AddAllocation(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal))
	require.NoError(t, allocator.Destroy())
}

func TestStaticAllocatorCommitFailureReleasesPools(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewStaticAllocator(fake, testLogger())

	require.NoError(t, allocator.AddAllocation(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b01}, memory.ClassDeviceLocal))
	require.NoError(t, allocator.AddAllocation(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b10}, memory.ClassHostCoherent))

	// the host pool's persistent map fails after the device pool committed
	fake.FailOps["MapMemory"] = errors.New("VK_ERROR_MEMORY_MAP_FAILED")

	err := allocator.Commit()
	require.ErrorIs(t, err, memory.DeviceError)
	require.Equal(t, 0, fake.LiveMemories())

	require.NoError(t, allocator.Destroy())
}

func TestPageAllocatorSharesPages(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewPageAllocator(fake, testLogger(), memory.PageAllocatorOptions{PageSize: 1024})

	request := memory.Request{Size: 100, Alignment: 16, TypeBits: 0b11}

	first, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)
	second, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)

	// both requests fit the same 1KiB page
	require.Equal(t, first.Memory(), second.Memory())
	require.Equal(t, 1, fake.LiveMemories())
	require.Equal(t, 112, second.Offset())

	// a different memory type gets its own page
	host, err := allocator.Allocate(request, memory.ClassHostCoherent)
	require.NoError(t, err)
	require.NotEqual(t, first.Memory(), host.Memory())
	require.NotNil(t, host.MappedData())
	require.Equal(t, 2, fake.LiveMemories())

	require.NoError(t, allocator.Free(&first))
	require.NoError(t, allocator.Free(&second))
	require.NoError(t, allocator.Free(&host))
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, fake.LiveMemories())
}

func TestPageAllocatorResetsEmptyPage(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewPageAllocator(fake, testLogger(), memory.PageAllocatorOptions{PageSize: 256})

	request := memory.Request{Size: 128, Alignment: 1, TypeBits: 0b01}

	first, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)
	second, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)
	pageMemory := first.Memory()

	require.NoError(t, allocator.Free(&first))
	require.NoError(t, allocator.Free(&second))

	// the page emptied and reset, so the next request reuses it from offset zero
	third, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, pageMemory, third.Memory())
	require.Equal(t, 0, third.Offset())
	require.Equal(t, 1, fake.LiveMemories())

	require.NoError(t, allocator.Free(&third))

	// one empty page is retained for reuse
	require.Equal(t, 1, fake.LiveMemories())

	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, fake.LiveMemories())
}

func TestPageAllocatorSpillsToNewPage(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewPageAllocator(fake, testLogger(), memory.PageAllocatorOptions{PageSize: 256})

	request := memory.Request{Size: 100, Alignment: 1, TypeBits: 0b01}

	var allocs []memory.Allocation
	for i := 0; i < 3; i++ {
		alloc, err := allocator.Allocate(request, memory.ClassDeviceLocal)
		require.NoError(t, err)
		allocs = append(allocs, alloc)
	}

	// two fit the first page, the third spills
	require.Equal(t, allocs[0].Memory(), allocs[1].Memory())
	require.NotEqual(t, allocs[0].Memory(), allocs[2].Memory())
	require.Equal(t, 2, fake.LiveMemories())

	for i := range allocs {
		require.NoError(t, allocator.Free(&allocs[i]))
	}
	require.NoError(t, allocator.Destroy())
}

func TestPageAllocatorDedicated(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewPageAllocator(fake, testLogger(), memory.PageAllocatorOptions{PageSize: 256})

	// larger than half a page, so it bypasses the page pool
	big, err := allocator.Allocate(memory.Request{Size: 200, Alignment: 1, TypeBits: 0b01}, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 200, big.Size())
	require.Equal(t, 1, fake.LiveMemories())

	// dedicated pages are released immediately, not retained
	require.NoError(t, allocator.Free(&big))
	require.Equal(t, 0, fake.LiveMemories())

	require.NoError(t, allocator.Destroy())
}

func TestPageAllocatorLeakDetection(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewPageAllocator(fake, testLogger(), memory.PageAllocatorOptions{})

	alloc, err := allocator.Allocate(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal)
	require.NoError(t, err)
	require.False(t, alloc.IsEmpty())

	require.Error(t, allocator.Destroy())
	// pages are still released so the device does not leak
	require.Equal(t, 0, fake.LiveMemories())
}

func TestPageAllocatorZeroAllocationLimit(t *testing.T) {
	fake := devicetest.NewFake()
	// a zero limit means the device did not report one, not that nothing may be allocated
	fake.DeviceLimits.MaxMemoryAllocationCount = 0
	allocator := memory.NewPageAllocator(fake, testLogger(), memory.PageAllocatorOptions{PageSize: 256})

	alloc, err := allocator.Allocate(memory.Request{Size: 64, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal)
	require.NoError(t, err)

	require.NoError(t, allocator.Free(&alloc))
	require.NoError(t, allocator.Destroy())
}

func TestPageAllocatorDetailedStats(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewPageAllocator(fake, testLogger(), memory.PageAllocatorOptions{PageSize: 256})

	first, err := allocator.Allocate(memory.Request{Size: 100, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal)
	require.NoError(t, err)
	second, err := allocator.Allocate(memory.Request{Size: 40, Alignment: 1, TypeBits: 0b11}, memory.ClassDeviceLocal)
	require.NoError(t, err)

	detailed := allocator.DetailedStats()
	require.Equal(t, 2, detailed.AllocationCount)
	require.Equal(t, 40, detailed.AllocationSizeMin)
	require.Equal(t, 100, detailed.AllocationSizeMax)
	// one page with a 116-byte tail past the two allocations
	require.Equal(t, 1, detailed.UnusedRangeCount)
	require.Equal(t, 116, detailed.UnusedRangeSizeMin)
	require.Equal(t, 116, detailed.UnusedRangeSizeMax)

	require.NoError(t, allocator.Free(&first))
	require.NoError(t, allocator.Free(&second))
	require.NoError(t, allocator.Destroy())
}

func TestStaticAllocatorDetailedStats(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewStaticAllocator(fake, testLogger())

	request := memory.Request{Size: 100, Alignment: 1, TypeBits: 0b11}
	require.NoError(t, allocator.AddAllocation(request, memory.ClassDeviceLocal))
	require.NoError(t, allocator.AddAllocation(request, memory.ClassDeviceLocal))
	require.NoError(t, allocator.Commit())

	alloc, err := allocator.Allocate(request, memory.ClassDeviceLocal)
	require.NoError(t, err)

	// one planned request consumed, the other's reservation is the pool's unused tail
	detailed := allocator.DetailedStats()
	require.Equal(t, 100, detailed.AllocationSizeMin)
	require.Equal(t, 100, detailed.AllocationSizeMax)
	require.Equal(t, 1, detailed.UnusedRangeCount)
	require.Equal(t, 100, detailed.UnusedRangeSizeMax)

	require.NoError(t, allocator.Free(&alloc))
	require.NoError(t, allocator.Destroy())
}

func TestRequestFromRequirements(t *testing.T) {
	request := memory.NewRequest(core1_0.MemoryRequirements{
		Size:           4096,
		Alignment:      256,
		MemoryTypeBits: 0b101,
	})
	require.Equal(t, 4096, request.Size)
	require.Equal(t, uint(256), request.Alignment)
	require.Equal(t, uint32(0b101), request.TypeBits)
}

