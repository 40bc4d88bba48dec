package memory

import (
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Class identifies which kind of physical memory pool a resource must be bound into. It is
// a closed set: every allocation request in this module is tagged with exactly one Class,
// and the Class decides the property flags a candidate memory type must carry.
type Class uint32

const (
	// ClassDeviceLocal memory lives on the device and is not mappable. Used for
	// resources the host never touches after upload.
	ClassDeviceLocal Class = iota
	// ClassHostVisible memory is mappable by the host but may require explicit cache
	// flushes on non-coherent platforms.
	ClassHostVisible
	// ClassHostCoherent memory is mappable and coherent: host writes become visible to
	// the device without explicit flushes. Persistently-mapped resources use this.
	ClassHostCoherent
)

var classMapping = map[Class]string{
	ClassDeviceLocal:  "DeviceLocal",
	ClassHostVisible:  "HostVisible",
	ClassHostCoherent: "HostCoherent",
}

func (c Class) String() string {
	return classMapping[c]
}

// PropertyFlags returns the memory property flags a memory type must include (as a
// superset) to satisfy this classification.
func (c Class) PropertyFlags() core1_0.MemoryPropertyFlags {
	switch c {
	case ClassHostVisible:
		return core1_0.MemoryPropertyHostVisible
	case ClassHostCoherent:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	default:
		return core1_0.MemoryPropertyDeviceLocal
	}
}

// HostAccess returns true when resources bound into this classification are expected to
// be written through a persistent mapping.
func (c Class) HostAccess() bool {
	return c == ClassHostVisible || c == ClassHostCoherent
}
