// Package resource owns finished device objects. Raw kinds pair a device handle with the
// metadata needed to destroy or rebind it, a Store keeps one generational arena per raw
// kind, and the two-phase builder in this package turns create-info configs into stored
// resources without binding memory until the caller has aggregated every requirement.
package resource

import (
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memory"
)

// RawMemory is an arena-owned memory allocation. It exists for memory the Store owns
// directly rather than through an allocator strategy, such as pack staging buffers whose
// lifetime matches the pack's.
type RawMemory struct {
	Allocation memory.Allocation
	Allocator  memory.Allocator
}

func (r RawMemory) Release(dev device.Device) error {
	return r.Allocator.Free(&r.Allocation)
}

// RawBuffer is an arena-owned buffer handle plus the allocation backing it.
type RawBuffer struct {
	Buffer     device.Buffer
	Size       int
	Allocation memory.Allocation
	Allocator  memory.Allocator
}

func (r RawBuffer) Release(dev device.Device) error {
	dev.DestroyBuffer(r.Buffer)
	return r.Allocator.Free(&r.Allocation)
}

// RawImage is an arena-owned image handle plus the allocation backing it.
type RawImage struct {
	Image      device.Image
	Width      int
	Height     int
	Allocation memory.Allocation
	Allocator  memory.Allocator
}

func (r RawImage) Release(dev device.Device) error {
	dev.DestroyImage(r.Image)
	return r.Allocator.Free(&r.Allocation)
}

// RawImageView is an arena-owned image view. Views borrow their image and own no memory.
type RawImageView struct {
	View device.ImageView
}

func (r RawImageView) Release(dev device.Device) error {
	dev.DestroyImageView(r.View)
	return nil
}
