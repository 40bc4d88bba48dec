package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/arena"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memory"
)

// PartialBuffer is a buffer shell with deterministic memory requirements but no backing
// memory. It is produced by PrepareBuffer and must be consumed exactly once, by Finalize
// or Abandon; a second consumption panics, since it means two owners believe they hold
// the shell.
type PartialBuffer struct {
	buffer   device.Buffer
	size     int
	request  memory.Request
	class    memory.Class
	consumed bool
}

// PrepareBuffer creates a buffer shell on the device and queries its memory requirement.
// No memory is allocated or bound.
func PrepareBuffer(dev device.Device, info core1_0.BufferCreateInfo, class memory.Class) (*PartialBuffer, error) {
	buffer, err := dev.CreateBuffer(info)
	if err != nil {
		return nil, errors.Wrapf(memory.MarkDeviceError(err), "creating a %d-byte buffer shell", info.Size)
	}

	return &PartialBuffer{
		buffer:  buffer,
		size:    info.Size,
		request: memory.NewRequest(dev.BufferMemoryRequirements(buffer)),
		class:   class,
	}, nil
}

// Requirement returns the allocation request the shell will need at Finalize time. Pure
// query; callers aggregate requirements across many partials before allocating anything.
func (p *PartialBuffer) Requirement() memory.Request {
	return p.request
}

// Class returns the memory classification the shell was prepared for.
func (p *PartialBuffer) Class() memory.Class {
	return p.class
}

// Finalize allocates memory for the shell through the provided strategy, binds it, and
// stores the finished buffer. On failure the shell is destroyed; either way the partial
// is consumed.
func (p *PartialBuffer) Finalize(dev device.Device, allocator memory.Allocator, store *Store) (Buffer, error) {
	p.consume("buffer")

	allocation, err := allocator.Allocate(p.request, p.class)
	if err != nil {
		dev.DestroyBuffer(p.buffer)
		return Buffer{}, errors.Wrapf(err, "allocating %d bytes (%s) for a buffer", p.request.Size, p.class)
	}

	err = dev.BindBufferMemory(p.buffer, allocation.Memory(), allocation.Offset())
	if err != nil {
		dev.DestroyBuffer(p.buffer)
		err = errors.CombineErrors(memory.MarkDeviceError(err), allocator.Free(&allocation))
		return Buffer{}, errors.Wrap(err, "binding buffer memory")
	}

	index := Push(store, RawBuffer{
		Buffer:     p.buffer,
		Size:       p.size,
		Allocation: allocation,
		Allocator:  allocator,
	})
	return Buffer{Index: index, Size: p.size}, nil
}

// Abandon destroys the shell without ever binding memory, for teardown paths where a
// sibling resource's preparation failed. The partial is consumed.
func (p *PartialBuffer) Abandon(dev device.Device) {
	p.consume("buffer")
	dev.DestroyBuffer(p.buffer)
}

func (p *PartialBuffer) consume(kind string) {
	if p.consumed {
		panic("partial " + kind + " consumed twice")
	}
	p.consumed = true
}

// Buffer is a finished, memory-backed buffer stored in a Store.
type Buffer struct {
	Index arena.Index[RawBuffer]
	Size  int
}

// MappedData returns the buffer's persistent mapping, or nil for device-local buffers.
func (b Buffer) MappedData(store *Store) (unsafe.Pointer, error) {
	raw, err := Entry(store, b.Index)
	if err != nil {
		return nil, err
	}
	return raw.Allocation.MappedData(), nil
}

// PartialImage is an image shell awaiting memory, the image counterpart of PartialBuffer.
type PartialImage struct {
	image    device.Image
	width    int
	height   int
	request  memory.Request
	class    memory.Class
	consumed bool
}

// PrepareImage creates an image shell on the device and queries its memory requirement.
func PrepareImage(dev device.Device, info core1_0.ImageCreateInfo, class memory.Class) (*PartialImage, error) {
	image, err := dev.CreateImage(info)
	if err != nil {
		return nil, errors.Wrapf(memory.MarkDeviceError(err),
			"creating a %dx%d image shell", info.Extent.Width, info.Extent.Height)
	}

	return &PartialImage{
		image:   image,
		width:   info.Extent.Width,
		height:  info.Extent.Height,
		request: memory.NewRequest(dev.ImageMemoryRequirements(image)),
		class:   class,
	}, nil
}

func (p *PartialImage) Requirement() memory.Request {
	return p.request
}

func (p *PartialImage) Class() memory.Class {
	return p.class
}

func (p *PartialImage) Finalize(dev device.Device, allocator memory.Allocator, store *Store) (Image, error) {
	p.consume("image")

	allocation, err := allocator.Allocate(p.request, p.class)
	if err != nil {
		dev.DestroyImage(p.image)
		return Image{}, errors.Wrapf(err, "allocating %d bytes (%s) for an image", p.request.Size, p.class)
	}

	err = dev.BindImageMemory(p.image, allocation.Memory(), allocation.Offset())
	if err != nil {
		dev.DestroyImage(p.image)
		err = errors.CombineErrors(memory.MarkDeviceError(err), allocator.Free(&allocation))
		return Image{}, errors.Wrap(err, "binding image memory")
	}

	index := Push(store, RawImage{
		Image:      p.image,
		Width:      p.width,
		Height:     p.height,
		Allocation: allocation,
		Allocator:  allocator,
	})
	return Image{Index: index, Width: p.width, Height: p.height}, nil
}

func (p *PartialImage) Abandon(dev device.Device) {
	p.consume("image")
	dev.DestroyImage(p.image)
}

func (p *PartialImage) consume(kind string) {
	if p.consumed {
		panic("partial " + kind + " consumed twice")
	}
	p.consumed = true
}

// Image is a finished, memory-backed image stored in a Store.
type Image struct {
	Index  arena.Index[RawImage]
	Width  int
	Height int
}

// MappedData returns the image's persistent mapping, or nil for device-local images.
func (i Image) MappedData(store *Store) (unsafe.Pointer, error) {
	raw, err := Entry(store, i.Index)
	if err != nil {
		return nil, err
	}
	return raw.Allocation.MappedData(), nil
}

// View is a finished image view stored in a Store.
type View struct {
	Index arena.Index[RawImageView]
}

// CreateView creates a view over a finished image and stores it. Views have no partial
// phase: they need no memory, so there is nothing to aggregate.
func CreateView(dev device.Device, store *Store, image Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (View, error) {
	raw, err := Entry(store, image.Index)
	if err != nil {
		return View{}, err
	}

	view, err := dev.CreateImageView(device.ImageViewInfo{
		Image:    raw.Image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	})
	if err != nil {
		return View{}, errors.Wrap(memory.MarkDeviceError(err), "creating an image view")
	}

	return View{Index: Push(store, RawImageView{View: view})}, nil
}
