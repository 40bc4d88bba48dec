package device

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// Device is the boundary between this module and the underlying graphics API. It exposes
// exactly the primitive create/destroy calls, memory-requirement queries and memory
// operations that resource management needs; instance/queue management, command recording
// and presentation live above it.
//
// All calls are synchronous and must be made from the single goroutine that owns the
// rendering context. Destroy* methods never fail: by the time a handle reaches a destroy
// call the object is known-live, and the driver reports nothing useful.
type Device interface {
	CreateBuffer(info core1_0.BufferCreateInfo) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	BufferMemoryRequirements(buffer Buffer) core1_0.MemoryRequirements
	BindBufferMemory(buffer Buffer, memory Memory, offset int) error

	CreateImage(info core1_0.ImageCreateInfo) (Image, error)
	DestroyImage(image Image)
	ImageMemoryRequirements(image Image) core1_0.MemoryRequirements
	BindImageMemory(image Image, memory Memory, offset int) error

	CreateImageView(info ImageViewInfo) (ImageView, error)
	DestroyImageView(view ImageView)

	CreateSampler(info core1_0.SamplerCreateInfo) (Sampler, error)
	DestroySampler(sampler Sampler)

	CreateShaderModule(code []uint32) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)

	CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)

	CreateDescriptorPool(maxSets int, poolSizes []core1_0.DescriptorPoolSize) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	AllocateDescriptorSets(pool DescriptorPool, layout DescriptorSetLayout, count int) ([]DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error

	CreatePipelineLayout(info PipelineLayoutInfo) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)

	CreateGraphicsPipeline(info PipelineInfo) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	AllocateMemory(size int, memoryTypeIndex int) (Memory, error)
	FreeMemory(memory Memory)
	MapMemory(memory Memory, offset, size int) (unsafe.Pointer, error)
	UnmapMemory(memory Memory)

	// MemoryTypes returns the physical device's memory-type table, indexed by memory
	// type index.
	MemoryTypes() []core1_0.MemoryType
	Limits() *core1_0.PhysicalDeviceLimits
}

// ImageViewInfo describes a view over an Image. It mirrors the underlying API's image
// view creation parameters with the image expressed as an opaque handle.
type ImageViewInfo struct {
	Image            Image
	ViewType         core1_0.ImageViewType
	Format           core1_0.Format
	Components       core1_0.ComponentMapping
	SubresourceRange core1_0.ImageSubresourceRange
}

// DescriptorWrite describes a single descriptor binding update against one set. Exactly
// one of Buffers or Images should be populated, matching DescriptorType.
type DescriptorWrite struct {
	Set            DescriptorSet
	Binding        int
	ArrayElement   int
	DescriptorType core1_0.DescriptorType

	Buffers []BufferDescriptor
	Images  []ImageDescriptor
}

// BufferDescriptor points a descriptor at a sub-range of a buffer.
type BufferDescriptor struct {
	Buffer Buffer
	Offset int
	Range  int
}

// ImageDescriptor points a descriptor at a sampled image.
type ImageDescriptor struct {
	Sampler     Sampler
	View        ImageView
	ImageLayout core1_0.ImageLayout
}

// PipelineLayoutInfo describes a pipeline layout in terms of opaque set-layout handles.
type PipelineLayoutInfo struct {
	SetLayouts         []DescriptorSetLayout
	PushConstantRanges []core1_0.PushConstantRange
}

// PipelineInfo is the fixed-function and shader state needed to build one graphics
// pipeline. State this module has no opinion on (blending, rasterization) is pinned to
// conventional defaults by the Device implementation.
type PipelineInfo struct {
	VertexShader   ShaderModule
	FragmentShader ShaderModule
	Layout         PipelineLayout
	RenderPass     RenderPass
	Subpass        int

	VertexBindings   []core1_0.VertexInputBindingDescription
	VertexAttributes []core1_0.VertexInputAttributeDescription
	Topology         core1_0.PrimitiveTopology
	Extent           core1_0.Extent2D
}
