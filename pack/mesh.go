package pack

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memory"
	"github.com/vkngwrapper/forge/memutils"
	"github.com/vkngwrapper/forge/resource"
)

// MeshData is the CPU-side payload of one mesh: its vertices in format V and its indices.
type MeshData[V any] struct {
	Vertices []V
	Indices  []uint32
}

// Mesh records where one mesh landed within its pack's buffer. Offsets are byte offsets
// suitable for vertex-buffer and index-buffer bind calls.
type Mesh struct {
	VertexRange memutils.Range
	IndexRange  memutils.Range
	VertexCount int
	IndexCount  int
}

// TransferFunc copies size bytes from a staging buffer to a device-local buffer. The
// implementation records and submits the copy command; this module stays out of command
// submission entirely.
type TransferFunc func(src, dst device.Buffer, size int) error

// MeshPackConfig selects where a mesh pack's buffer lives. The zero value is a
// device-local pack, which requires a Transfer hook for the staging upload.
type MeshPackConfig struct {
	Class    memory.Class
	Transfer TransferFunc
}

// MeshPack owns one buffer holding every mesh of one vertex format: all vertex data
// first, then all index data, each mesh's sub-ranges recorded in submission order.
type MeshPack[V any] struct {
	buffer resource.Buffer
	items  []Mesh
}

// PartialMeshPack is a mesh pack whose buffer shells exist but own no memory yet.
type PartialMeshPack[V any] struct {
	items    []MeshData[V]
	ranges   []Mesh
	total    int
	class    memory.Class
	shell    *resource.PartialBuffer
	staging  *resource.PartialBuffer
	transfer TransferFunc
}

// PrepareMeshPack lays out the pack's single buffer, creates its shell (plus a staging
// shell for device-local packs) and computes memory requirements. No memory is allocated.
func PrepareMeshPack[V any](dev device.Device, items []MeshData[V], config MeshPackConfig) (*PartialMeshPack[V], error) {
	if len(items) == 0 {
		return nil, errors.New("a mesh pack needs at least one mesh")
	}
	deviceLocal := !config.Class.HostAccess()
	if deviceLocal && config.Transfer == nil {
		return nil, errors.New("a device-local mesh pack needs a transfer hook")
	}

	var zero V
	vertexAlign := uint(unsafe.Alignof(zero))
	if vertexAlign < 4 {
		vertexAlign = 4
	}
	vertexSize := int(unsafe.Sizeof(zero))

	var layout memutils.Range
	ranges := make([]Mesh, len(items))
	for i, item := range items {
		ranges[i].VertexRange = layout.Extend(len(item.Vertices)*vertexSize, vertexAlign)
		ranges[i].VertexCount = len(item.Vertices)
	}
	for i, item := range items {
		ranges[i].IndexRange = layout.Extend(len(item.Indices)*4, 4)
		ranges[i].IndexCount = len(item.Indices)
	}
	total := layout.End

	usage := core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageIndexBuffer
	if deviceLocal {
		usage |= core1_0.BufferUsageTransferDst
	}

	shell, err := resource.PrepareBuffer(dev, core1_0.BufferCreateInfo{
		Size:        total,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	}, config.Class)
	if err != nil {
		return nil, errors.Wrap(err, "preparing a mesh pack buffer")
	}

	var staging *resource.PartialBuffer
	if deviceLocal {
		staging, err = resource.PrepareBuffer(dev, core1_0.BufferCreateInfo{
			Size:        total,
			Usage:       core1_0.BufferUsageTransferSrc,
			SharingMode: core1_0.SharingModeExclusive,
		}, memory.ClassHostCoherent)
		if err != nil {
			shell.Abandon(dev)
			return nil, errors.Wrap(err, "preparing a mesh pack staging buffer")
		}
	}

	return &PartialMeshPack[V]{
		items:    items,
		ranges:   ranges,
		total:    total,
		class:    config.Class,
		shell:    shell,
		staging:  staging,
		transfer: config.Transfer,
	}, nil
}

// Requirements returns the allocation requests the pack will need at Finalize time.
func (p *PartialMeshPack[V]) Requirements() []PendingRequest {
	pending := []PendingRequest{{Request: p.shell.Requirement(), Class: p.class}}
	if p.staging != nil {
		pending = append(pending, PendingRequest{Request: p.staging.Requirement(), Class: memory.ClassHostCoherent})
	}
	return pending
}

// Finalize allocates and binds the pack's buffer, writes every mesh's data (through a
// staging buffer and the transfer hook for device-local packs) and returns the finished
// pack.
func (p *PartialMeshPack[V]) Finalize(dev device.Device, allocator memory.Allocator, store *resource.Store) (*MeshPack[V], error) {
	buffer, err := p.shell.Finalize(dev, allocator, store)
	if err != nil {
		if p.staging != nil {
			p.staging.Abandon(dev)
		}
		return nil, err
	}

	if p.staging == nil {
		mapped, err := buffer.MappedData(store)
		if err != nil {
			return nil, err
		}
		p.writeAll(mappedBytes(mapped, p.total))
		return &MeshPack[V]{buffer: buffer, items: p.ranges}, nil
	}

	stagingBuffer, err := p.staging.Finalize(dev, allocator, store)
	if err != nil {
		return nil, errors.CombineErrors(err, releaseBuffer(dev, store, buffer))
	}

	mapped, err := stagingBuffer.MappedData(store)
	if err != nil {
		return nil, errors.CombineErrors(err, errors.CombineErrors(
			releaseBuffer(dev, store, stagingBuffer), releaseBuffer(dev, store, buffer)))
	}
	p.writeAll(mappedBytes(mapped, p.total))

	src, err := resource.Entry(store, stagingBuffer.Index)
	if err != nil {
		return nil, err
	}
	dst, err := resource.Entry(store, buffer.Index)
	if err != nil {
		return nil, err
	}

	err = p.transfer(src.Buffer, dst.Buffer, p.total)

	// the staging buffer has served its purpose whether or not the transfer worked
	err = errors.CombineErrors(err, releaseBuffer(dev, store, stagingBuffer))
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrap(err, "uploading a mesh pack"),
			releaseBuffer(dev, store, buffer))
	}

	return &MeshPack[V]{buffer: buffer, items: p.ranges}, nil
}

// Abandon destroys the pack's shells without binding memory.
func (p *PartialMeshPack[V]) Abandon(dev device.Device) {
	p.shell.Abandon(dev)
	if p.staging != nil {
		p.staging.Abandon(dev)
	}
}

func (p *PartialMeshPack[V]) writeAll(dst []byte) {
	for i, item := range p.items {
		mesh := p.ranges[i]
		copy(dst[mesh.VertexRange.Start:mesh.VertexRange.End], rawBytes(item.Vertices))
		copy(dst[mesh.IndexRange.Start:mesh.IndexRange.End], rawBytes(item.Indices))
	}
}

func releaseBuffer(dev device.Device, store *resource.Store, buffer resource.Buffer) error {
	raw, err := resource.Pop(store, buffer.Index)
	if err != nil {
		return err
	}
	return raw.Release(dev)
}

// Buffer returns the pack's backing buffer, for vertex and index bind calls.
func (p *MeshPack[V]) Buffer() resource.Buffer {
	return p.buffer
}

// Len returns the number of meshes in the pack.
func (p *MeshPack[V]) Len() int {
	return len(p.items)
}

// Item returns the recorded ranges for one mesh, in submission order.
func (p *MeshPack[V]) Item(index int) Mesh {
	return p.items[index]
}

// Items returns every mesh's recorded ranges in submission order.
func (p *MeshPack[V]) Items() []Mesh {
	return p.items
}

// Destroy releases the pack's buffer and the allocation backing it.
func (p *MeshPack[V]) Destroy(dev device.Device, store *resource.Store) error {
	return releaseBuffer(dev, store, p.buffer)
}
