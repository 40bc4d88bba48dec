package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics describes the device memory held by an allocator strategy: how many device
// allocations (blocks) it has made, how many sub-allocations are live within them, and the
// byte totals of each.
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockBytes = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// AddBlock records a new device allocation of the provided size.
func (s *Statistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size
}

// RemoveBlock removes a device allocation of the provided size.
func (s *Statistics) RemoveBlock(size int) {
	s.BlockCount--
	s.BlockBytes -= size
}

// AddAllocation records a new live sub-allocation of the provided size.
func (s *Statistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
}

// RemoveAllocation removes a live sub-allocation of the provided size.
func (s *Statistics) RemoveAllocation(size int) {
	s.AllocationCount--
	s.AllocationBytes -= size
}

// DetailedStatistics extends Statistics with size extremes and unused-range accounting.
// Allocation extremes grow as allocations are recorded and are not shrunk by removal, so
// over an allocator's lifetime they behave as high-water marks; unused ranges describe a
// single snapshot and are recorded into a fresh copy per query.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

// AddUnusedRange records one contiguous region of block memory that holds no allocation.
func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}
	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

// AddAllocation records a new live sub-allocation of the provided size, tracking size
// extremes as well as the totals.
func (s *DetailedStatistics) AddAllocation(size int) {
	s.Statistics.AddAllocation(size)

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}
	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}
	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}
	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}
	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// PrintJson populates a json object with this structure's data
func (s *DetailedStatistics) PrintJson(objState *jwriter.ObjectState) {
	s.Statistics.PrintJson(objState)
	objState.Name("UnusedRangeCount").Int(s.UnusedRangeCount)
	objState.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
	objState.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	objState.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
	objState.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
}

// PrintJson populates a json object with this structure's data
func (s *Statistics) PrintJson(objState *jwriter.ObjectState) {
	objState.Name("BlockCount").Int(s.BlockCount)
	objState.Name("AllocationCount").Int(s.AllocationCount)
	objState.Name("BlockBytes").Int(s.BlockBytes)
	objState.Name("AllocationBytes").Int(s.AllocationBytes)
}

// StatsString renders the provided statistics as a JSON string, for inclusion in logs and
// diagnostics dumps.
func StatsString(s *Statistics) string {
	writer := jwriter.NewWriter()
	objState := writer.Object()
	s.PrintJson(&objState)
	objState.End()

	return string(writer.Bytes())
}
