package pack_test

import (
	"fmt"
	"os"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/device/devicetest"
	"github.com/vkngwrapper/forge/memory"
	"github.com/vkngwrapper/forge/pack"
	"github.com/vkngwrapper/forge/resource"
	"golang.org/x/exp/slog"
)

type vertex struct {
	X, Y, Z float32
	U, V    float32
}

type flatVertex struct {
	X, Y float32
}

type litMaterial struct {
	Color     [4]float32
	Shininess float32
	_         [12]byte
}

type litShader struct{}
type unusedShader struct{}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout))
}

func byteView[T any](items []T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&items[0])), len(items)*int(unsafe.Sizeof(items[0])))
}

func triangle(base float32) pack.MeshData[vertex] {
	return pack.MeshData[vertex]{
		Vertices: []vertex{
			{X: base, Y: 0, Z: 0},
			{X: base, Y: 1, Z: 0},
			{X: base, Y: 0, Z: 1},
		},
		Indices: []uint32{0, 1, 2},
	}
}

func TestHandleCodec(t *testing.T) {
	handle := pack.NewMeshHandle[vertex](7, 42)
	require.Equal(t, 7, handle.Pack())
	require.Equal(t, 42, handle.Item())

	flat := handle.Uint64()
	require.Equal(t, uint64(7)<<32|42, flat)
	require.Equal(t, handle, pack.MeshHandleFromUint64[vertex](flat))

	material := pack.NewMaterialHandle[litMaterial](3, 9)
	require.Equal(t, material, pack.MaterialHandleFromUint64[litMaterial](material.Uint64()))
}

func TestEraseDowncastRoundTrip(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())
	var store resource.Store

	partial, err := pack.PrepareMeshPack(fake, []pack.MeshData[vertex]{triangle(0)}, pack.MeshPackConfig{
		Class: memory.ClassHostCoherent,
	})
	require.NoError(t, err)
	meshPack, err := partial.Finalize(fake, allocator, &store)
	require.NoError(t, err)

	erased := pack.Erase(meshPack)

	recovered, err := pack.Downcast[*pack.MeshPack[vertex]](erased)
	require.NoError(t, err)
	require.Equal(t, meshPack, recovered)

	// the same data under a different vertex format must not come back
	_, err = pack.Downcast[*pack.MeshPack[flatVertex]](erased)
	require.ErrorIs(t, err, pack.InvalidTypeError)

	require.False(t, recovered.Buffer().Index.IsZero())
	require.NoError(t, recovered.Destroy(fake, &store))
	require.NoError(t, store.Destroy(fake))
	require.NoError(t, allocator.Destroy())
}

func TestMeshPackLayout(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())
	var store resource.Store

	meshes := []pack.MeshData[vertex]{
		{Vertices: make([]vertex, 2), Indices: []uint32{0, 1, 0}},
		{Vertices: make([]vertex, 3), Indices: []uint32{0, 1, 2}},
		{Vertices: make([]vertex, 1), Indices: []uint32{0, 0, 0}},
	}

	partial, err := pack.PrepareMeshPack(fake, meshes, pack.MeshPackConfig{Class: memory.ClassHostCoherent})
	require.NoError(t, err)
	meshPack, err := partial.Finalize(fake, allocator, &store)
	require.NoError(t, err)

	require.Equal(t, 3, meshPack.Len())

	// all vertex data first, contiguous and in submission order
	const vertexSize = int(unsafe.Sizeof(vertex{}))
	require.Equal(t, 0, meshPack.Item(0).VertexRange.Start)
	require.Equal(t, 2*vertexSize, meshPack.Item(1).VertexRange.Start)
	require.Equal(t, 5*vertexSize, meshPack.Item(2).VertexRange.Start)
	require.Equal(t, 2, meshPack.Item(0).VertexCount)

	// then all index data
	indexStart := 6 * vertexSize
	require.Equal(t, indexStart, meshPack.Item(0).IndexRange.Start)
	require.Equal(t, indexStart+12, meshPack.Item(1).IndexRange.Start)
	require.Equal(t, indexStart+24, meshPack.Item(2).IndexRange.Start)
	require.Equal(t, 3, meshPack.Item(2).IndexCount)

	// one buffer backs the whole pack
	require.Equal(t, indexStart+36, meshPack.Buffer().Size)

	// the mesh data actually landed at its recorded ranges
	raw, err := resource.Entry(&store, meshPack.Buffer().Index)
	require.NoError(t, err)
	backing := fake.MemoryContents(raw.Allocation.Memory())
	item := meshPack.Item(1)
	require.Equal(t, byteView(meshes[1].Indices), backing[item.IndexRange.Start:item.IndexRange.End])

	require.NoError(t, store.Destroy(fake))
	require.NoError(t, allocator.Destroy())
}

func TestMeshPackStagingTransfer(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())
	var store resource.Store

	var transferSrc, transferDst device.Buffer
	transfers := 0
	transfer := func(src, dst device.Buffer, size int) error {
		transferSrc, transferDst = src, dst
		transfers++
		srcMemory, srcOffset, _ := fake.BufferBinding(src)
		dstMemory, dstOffset, _ := fake.BufferBinding(dst)
		copy(fake.MemoryContents(dstMemory)[dstOffset:dstOffset+size],
			fake.MemoryContents(srcMemory)[srcOffset:srcOffset+size])
		return nil
	}

	mesh := triangle(1)
	partial, err := pack.PrepareMeshPack(fake, []pack.MeshData[vertex]{mesh}, pack.MeshPackConfig{
		Class:    memory.ClassDeviceLocal,
		Transfer: transfer,
	})
	require.NoError(t, err)

	meshPack, err := partial.Finalize(fake, allocator, &store)
	require.NoError(t, err)
	require.Equal(t, 1, transfers)

	// the staging buffer is gone; only the device-local buffer and its memory remain
	require.Equal(t, 1, fake.LiveMemories())
	require.NotEqual(t, transferSrc, transferDst)

	raw, err := resource.Entry(&store, meshPack.Buffer().Index)
	require.NoError(t, err)
	require.Equal(t, transferDst, raw.Buffer)

	// the upload reached the device-local backing
	item := meshPack.Item(0)
	backing := fake.MemoryContents(raw.Allocation.Memory())
	require.Equal(t, byteView(mesh.Vertices), backing[item.VertexRange.Start:item.VertexRange.End])

	require.NoError(t, store.Destroy(fake))
	require.NoError(t, allocator.Destroy())
}

func TestMeshPackDeviceLocalNeedsTransfer(t *testing.T) {
	fake := devicetest.NewFake()

	_, err := pack.PrepareMeshPack(fake, []pack.MeshData[vertex]{triangle(0)}, pack.MeshPackConfig{
		Class: memory.ClassDeviceLocal,
	})
	require.Error(t, err)
	require.Equal(t, 0, fake.LiveObjects())
}

func TestMeshPackTransferFailureCleansUp(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())
	var store resource.Store

	transferErr := errors.New("queue submission failed")
	partial, err := pack.PrepareMeshPack(fake, []pack.MeshData[vertex]{triangle(0)}, pack.MeshPackConfig{
		Class:    memory.ClassDeviceLocal,
		Transfer: func(src, dst device.Buffer, size int) error { return transferErr },
	})
	require.NoError(t, err)

	_, err = partial.Finalize(fake, allocator, &store)
	require.ErrorIs(t, err, transferErr)
	require.Equal(t, 0, fake.LiveObjects())
	require.Equal(t, 0, store.Len())

	require.NoError(t, allocator.Destroy())
}

func TestMaterialPackDescriptors(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())
	var store resource.Store

	materials := []pack.MaterialData[litMaterial]{
		{Uniform: litMaterial{Color: [4]float32{1, 0, 0, 1}, Shininess: 32}},
		{
			Uniform: litMaterial{Color: [4]float32{0, 1, 0, 1}},
			Texture: &pack.TextureData{
				Width:  2,
				Height: 2,
				Format: core1_0.FormatR8G8B8A8SRGB,
				Pixels: []byte{
					255, 0, 0, 255, 0, 255, 0, 255,
					0, 0, 255, 255, 255, 255, 255, 255,
				},
			},
		},
	}

	partial, err := pack.PrepareMaterialPack(fake, materials)
	require.NoError(t, err)
	materialPack, err := partial.Finalize(fake, allocator, &store)
	require.NoError(t, err)

	require.Equal(t, 2, materialPack.Len())

	// uniform slices are strided to the device's offset alignment
	stride := materialPack.UniformStride()
	require.Equal(t, 256, stride)
	require.Equal(t, 0, materialPack.UniformOffset(0))
	require.Equal(t, 256, materialPack.UniformOffset(1))

	// each set got its uniform slice; the textured item also got its sampler write
	writes := fake.DescriptorWrites()
	require.Len(t, writes, 3)
	require.Equal(t, materialPack.Set(0), writes[0].Set)
	require.Equal(t, core1_0.DescriptorTypeUniformBuffer, writes[0].DescriptorType)
	require.Equal(t, 0, writes[0].Buffers[0].Offset)
	require.Equal(t, stride, writes[0].Buffers[0].Range)
	require.Equal(t, materialPack.Set(1), writes[1].Set)
	require.Equal(t, 256, writes[1].Buffers[0].Offset)
	require.Equal(t, core1_0.DescriptorTypeCombinedImageSampler, writes[2].DescriptorType)
	require.Equal(t, materialPack.Set(1), writes[2].Set)

	// uniform data landed at its strided offsets
	uniformMemory, uniformOffset, bound := fake.BufferBinding(writes[0].Buffers[0].Buffer)
	require.True(t, bound)
	contents := fake.MemoryContents(uniformMemory)
	uniformSize := int(unsafe.Sizeof(litMaterial{}))
	require.Equal(t, byteView(materials[:1])[:uniformSize],
		contents[uniformOffset:uniformOffset+uniformSize])

	require.NoError(t, materialPack.Destroy(fake, &store))
	require.NoError(t, store.Destroy(fake))
	require.Equal(t, 0, fake.LiveObjects())
	require.NoError(t, allocator.Destroy())
}

func TestShaderPackDestroyOrder(t *testing.T) {
	fake := devicetest.NewFake()
	var store resource.Store

	shaderPack, err := pack.BuildShaderPack[litShader](fake, pack.ShaderConfig{
		VertexCode:   []uint32{0x07230203, 1},
		FragmentCode: []uint32{0x07230203, 2},
		DescriptorBindings: []core1_0.DescriptorSetLayoutBinding{
			{Binding: 0, DescriptorType: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: core1_0.StageVertex},
		},
		Topology: core1_0.PrimitiveTopologyTriangleList,
		Extent:   core1_0.Extent2D{Width: 640, Height: 480},
	})
	require.NoError(t, err)

	pipeline := shaderPack.Pipeline()
	layout := shaderPack.Layout()
	setLayout := shaderPack.SetLayout()

	require.NoError(t, shaderPack.Destroy(fake, &store))
	require.Equal(t, 0, fake.LiveObjects())

	pipelineAt := fake.CallIndex(fmt.Sprintf("DestroyPipeline(%d)", pipeline.ID))
	layoutAt := fake.CallIndex(fmt.Sprintf("DestroyPipelineLayout(%d)", layout.ID))
	setLayoutAt := fake.CallIndex(fmt.Sprintf("DestroyDescriptorSetLayout(%d)", setLayout.ID))
	require.NotEqual(t, -1, pipelineAt)
	require.Less(t, pipelineAt, layoutAt)
	require.Less(t, layoutAt, setLayoutAt)
}

func TestBuilderLoadAndLookup(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewStaticAllocator(fake, testLogger())
	var store resource.Store

	builder := pack.NewBuilder(fake, &store, testLogger())

	meshes := []pack.MeshData[vertex]{triangle(0), triangle(1), triangle(2)}
	handles, err := pack.AddMeshPack(builder, meshes, pack.MeshPackConfig{Class: memory.ClassHostCoherent})
	require.NoError(t, err)
	require.Len(t, handles, 3)
	require.Equal(t, 0, handles[0].Pack())
	require.Equal(t, 2, handles[2].Item())

	materialHandles, err := pack.AddMaterialPack(builder, []pack.MaterialData[litMaterial]{
		{Uniform: litMaterial{Shininess: 8}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, materialHandles[0].Pack())

	require.NoError(t, pack.AddShaderPack[litShader](builder, pack.ShaderConfig{
		VertexCode:   []uint32{0x07230203},
		FragmentCode: []uint32{0x07230203},
		Topology:     core1_0.PrimitiveTopologyTriangleList,
		Extent:       core1_0.Extent2D{Width: 64, Height: 64},
	}))

	// the static allocator was planned and committed by Build
	list, err := builder.Build(allocator)
	require.NoError(t, err)
	require.Equal(t, 3, list.Len())

	meshPack, ok := pack.TryGet[*pack.MeshPack[vertex]](list)
	require.True(t, ok)
	require.Equal(t, 3, meshPack.Len())
	item := meshPack.Item(handles[1].Item())
	require.Equal(t, 3, item.VertexCount)

	_, ok = pack.TryGet[*pack.MaterialPack[litMaterial]](list)
	require.True(t, ok)
	_, ok = pack.TryGet[*pack.ShaderPack[litShader]](list)
	require.True(t, ok)

	// an unregistered format is absent, not mistyped
	_, ok = pack.TryGet[*pack.MeshPack[flatVertex]](list)
	require.False(t, ok)
	_, ok = pack.TryGet[*pack.ShaderPack[unusedShader]](list)
	require.False(t, ok)

	require.NoError(t, list.Destroy(fake, &store))
	require.NoError(t, store.Destroy(fake))
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, fake.LiveObjects())
}

func TestBuilderFailureLeavesNothing(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())
	var store resource.Store

	builder := pack.NewBuilder(fake, &store, testLogger())

	_, err := pack.AddMeshPack(builder, []pack.MeshData[vertex]{triangle(0)},
		pack.MeshPackConfig{Class: memory.ClassHostCoherent})
	require.NoError(t, err)

	require.NoError(t, pack.AddShaderPack[litShader](builder, pack.ShaderConfig{
		VertexCode:   []uint32{0x07230203},
		FragmentCode: []uint32{0x07230203},
	}))

	fake.FailOps["CreateGraphicsPipeline"] = errors.New("VK_ERROR_UNKNOWN")

	_, err = builder.Build(allocator)
	require.Error(t, err)
	require.Equal(t, 0, fake.LiveObjects())
	require.Equal(t, 0, store.Len())

	require.NoError(t, allocator.Destroy())
}

func TestDestructionOrdering(t *testing.T) {
	fake := devicetest.NewFake()
	allocator := memory.NewDefaultAllocator(fake, testLogger())
	var store resource.Store

	builder := pack.NewBuilder(fake, &store, testLogger())
	_, err := pack.AddMeshPack(builder, []pack.MeshData[vertex]{triangle(0)},
		pack.MeshPackConfig{Class: memory.ClassHostCoherent})
	require.NoError(t, err)

	list, err := builder.Build(allocator)
	require.NoError(t, err)

	meshPack, ok := pack.TryGet[*pack.MeshPack[vertex]](list)
	require.True(t, ok)
	raw, err := resource.Entry(&store, meshPack.Buffer().Index)
	require.NoError(t, err)
	buffer := raw.Buffer
	backing := raw.Allocation.Memory()

	require.NoError(t, list.Destroy(fake, &store))

	// the pack's device object goes before the memory backing it
	bufferAt := fake.CallIndex(fmt.Sprintf("DestroyBuffer(%d)", buffer.ID))
	memoryAt := fake.CallIndex(fmt.Sprintf("FreeMemory(%d)", backing.ID))
	require.NotEqual(t, -1, bufferAt)
	require.NotEqual(t, -1, memoryAt)
	require.Less(t, bufferAt, memoryAt)

	require.NoError(t, store.Destroy(fake))
	require.NoError(t, allocator.Destroy())
}
