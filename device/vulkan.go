package device

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/forge/memutils"
)

// VulkanDevice implements Device over a vkngwrapper core1_0.Device. It owns the mapping
// from opaque handle IDs to the driver objects behind them; resource management above it
// only ever sees the IDs.
type VulkanDevice struct {
	device    core1_0.Device
	callbacks *driver.AllocationCallbacks

	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	limits           *core1_0.PhysicalDeviceLimits

	nextID uint64

	buffers         *swiss.Map[uint64, core1_0.Buffer]
	images          *swiss.Map[uint64, core1_0.Image]
	imageViews      *swiss.Map[uint64, core1_0.ImageView]
	samplers        *swiss.Map[uint64, core1_0.Sampler]
	shaderModules   *swiss.Map[uint64, core1_0.ShaderModule]
	setLayouts      *swiss.Map[uint64, core1_0.DescriptorSetLayout]
	descriptorPools *swiss.Map[uint64, core1_0.DescriptorPool]
	descriptorSets  *swiss.Map[uint64, core1_0.DescriptorSet]
	pipelineLayouts *swiss.Map[uint64, core1_0.PipelineLayout]
	pipelines       *swiss.Map[uint64, core1_0.Pipeline]
	memories        *swiss.Map[uint64, core1_0.DeviceMemory]
	renderPasses    *swiss.Map[uint64, core1_0.RenderPass]
}

var _ Device = &VulkanDevice{}

// NewVulkanDevice wraps a logical device and the physical device it was created from.
// allocationCallbacks may be nil.
func NewVulkanDevice(
	physicalDevice core1_0.PhysicalDevice,
	device core1_0.Device,
	allocationCallbacks *driver.AllocationCallbacks,
) (*VulkanDevice, error) {
	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	err = memutils.CheckPow2(uint(properties.Limits.NonCoherentAtomSize), "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	return &VulkanDevice{
		device:    device,
		callbacks: allocationCallbacks,

		memoryProperties: physicalDevice.MemoryProperties(),
		limits:           properties.Limits,

		buffers:         swiss.NewMap[uint64, core1_0.Buffer](42),
		images:          swiss.NewMap[uint64, core1_0.Image](42),
		imageViews:      swiss.NewMap[uint64, core1_0.ImageView](42),
		samplers:        swiss.NewMap[uint64, core1_0.Sampler](8),
		shaderModules:   swiss.NewMap[uint64, core1_0.ShaderModule](8),
		setLayouts:      swiss.NewMap[uint64, core1_0.DescriptorSetLayout](8),
		descriptorPools: swiss.NewMap[uint64, core1_0.DescriptorPool](8),
		descriptorSets:  swiss.NewMap[uint64, core1_0.DescriptorSet](42),
		pipelineLayouts: swiss.NewMap[uint64, core1_0.PipelineLayout](8),
		pipelines:       swiss.NewMap[uint64, core1_0.Pipeline](8),
		memories:        swiss.NewMap[uint64, core1_0.DeviceMemory](42),
		renderPasses:    swiss.NewMap[uint64, core1_0.RenderPass](8),
	}, nil
}

// WrapRenderPass registers a render pass created by the presentation layer so pipelines
// built through this Device can reference it. The caller retains ownership.
func (d *VulkanDevice) WrapRenderPass(renderPass core1_0.RenderPass) RenderPass {
	id := d.allocID()
	d.renderPasses.Put(id, renderPass)
	return RenderPass{ID: id}
}

func (d *VulkanDevice) allocID() uint64 {
	d.nextID++
	return d.nextID
}

func lookup[T any](m *swiss.Map[uint64, T], id uint64, kind string) T {
	value, ok := m.Get(id)
	if !ok {
		panic(errors.Newf("unknown or destroyed %s handle %d", kind, id))
	}
	return value
}

func (d *VulkanDevice) CreateBuffer(info core1_0.BufferCreateInfo) (Buffer, error) {
	buffer, _, err := d.device.CreateBuffer(d.callbacks, info)
	if err != nil {
		return Buffer{}, errors.Wrap(err, "creating buffer")
	}

	id := d.allocID()
	d.buffers.Put(id, buffer)
	return Buffer{ID: id}, nil
}

func (d *VulkanDevice) DestroyBuffer(buffer Buffer) {
	lookup(d.buffers, buffer.ID, "buffer").Destroy(d.callbacks)
	d.buffers.Delete(buffer.ID)
}

func (d *VulkanDevice) BufferMemoryRequirements(buffer Buffer) core1_0.MemoryRequirements {
	return *lookup(d.buffers, buffer.ID, "buffer").MemoryRequirements()
}

func (d *VulkanDevice) BindBufferMemory(buffer Buffer, memory Memory, offset int) error {
	_, err := lookup(d.buffers, buffer.ID, "buffer").BindBufferMemory(
		lookup(d.memories, memory.ID, "memory"), offset)
	if err != nil {
		return errors.Wrapf(err, "binding buffer memory at offset %d", offset)
	}
	return nil
}

func (d *VulkanDevice) CreateImage(info core1_0.ImageCreateInfo) (Image, error) {
	image, _, err := d.device.CreateImage(d.callbacks, info)
	if err != nil {
		return Image{}, errors.Wrap(err, "creating image")
	}

	id := d.allocID()
	d.images.Put(id, image)
	return Image{ID: id}, nil
}

func (d *VulkanDevice) DestroyImage(image Image) {
	lookup(d.images, image.ID, "image").Destroy(d.callbacks)
	d.images.Delete(image.ID)
}

func (d *VulkanDevice) ImageMemoryRequirements(image Image) core1_0.MemoryRequirements {
	return *lookup(d.images, image.ID, "image").MemoryRequirements()
}

func (d *VulkanDevice) BindImageMemory(image Image, memory Memory, offset int) error {
	_, err := lookup(d.images, image.ID, "image").BindImageMemory(
		lookup(d.memories, memory.ID, "memory"), offset)
	if err != nil {
		return errors.Wrapf(err, "binding image memory at offset %d", offset)
	}
	return nil
}

func (d *VulkanDevice) CreateImageView(info ImageViewInfo) (ImageView, error) {
	view, _, err := d.device.CreateImageView(d.callbacks, core1_0.ImageViewCreateInfo{
		Image:            lookup(d.images, info.Image.ID, "image"),
		ViewType:         info.ViewType,
		Format:           info.Format,
		Components:       info.Components,
		SubresourceRange: info.SubresourceRange,
	})
	if err != nil {
		return ImageView{}, errors.Wrap(err, "creating image view")
	}

	id := d.allocID()
	d.imageViews.Put(id, view)
	return ImageView{ID: id}, nil
}

func (d *VulkanDevice) DestroyImageView(view ImageView) {
	lookup(d.imageViews, view.ID, "image view").Destroy(d.callbacks)
	d.imageViews.Delete(view.ID)
}

func (d *VulkanDevice) CreateSampler(info core1_0.SamplerCreateInfo) (Sampler, error) {
	sampler, _, err := d.device.CreateSampler(d.callbacks, info)
	if err != nil {
		return Sampler{}, errors.Wrap(err, "creating sampler")
	}

	id := d.allocID()
	d.samplers.Put(id, sampler)
	return Sampler{ID: id}, nil
}

func (d *VulkanDevice) DestroySampler(sampler Sampler) {
	lookup(d.samplers, sampler.ID, "sampler").Destroy(d.callbacks)
	d.samplers.Delete(sampler.ID)
}

func (d *VulkanDevice) CreateShaderModule(code []uint32) (ShaderModule, error) {
	module, _, err := d.device.CreateShaderModule(d.callbacks, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return ShaderModule{}, errors.Wrap(err, "creating shader module")
	}

	id := d.allocID()
	d.shaderModules.Put(id, module)
	return ShaderModule{ID: id}, nil
}

func (d *VulkanDevice) DestroyShaderModule(module ShaderModule) {
	lookup(d.shaderModules, module.ID, "shader module").Destroy(d.callbacks)
	d.shaderModules.Delete(module.ID)
}

func (d *VulkanDevice) CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (DescriptorSetLayout, error) {
	layout, _, err := d.device.CreateDescriptorSetLayout(d.callbacks, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return DescriptorSetLayout{}, errors.Wrap(err, "creating descriptor set layout")
	}

	id := d.allocID()
	d.setLayouts.Put(id, layout)
	return DescriptorSetLayout{ID: id}, nil
}

func (d *VulkanDevice) DestroyDescriptorSetLayout(layout DescriptorSetLayout) {
	lookup(d.setLayouts, layout.ID, "descriptor set layout").Destroy(d.callbacks)
	d.setLayouts.Delete(layout.ID)
}

func (d *VulkanDevice) CreateDescriptorPool(maxSets int, poolSizes []core1_0.DescriptorPoolSize) (DescriptorPool, error) {
	pool, _, err := d.device.CreateDescriptorPool(d.callbacks, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   maxSets,
		PoolSizes: poolSizes,
	})
	if err != nil {
		return DescriptorPool{}, errors.Wrap(err, "creating descriptor pool")
	}

	id := d.allocID()
	d.descriptorPools.Put(id, pool)
	return DescriptorPool{ID: id}, nil
}

func (d *VulkanDevice) DestroyDescriptorPool(pool DescriptorPool) {
	lookup(d.descriptorPools, pool.ID, "descriptor pool").Destroy(d.callbacks)
	d.descriptorPools.Delete(pool.ID)
}

func (d *VulkanDevice) AllocateDescriptorSets(pool DescriptorPool, layout DescriptorSetLayout, count int) ([]DescriptorSet, error) {
	setLayout := lookup(d.setLayouts, layout.ID, "descriptor set layout")
	layouts := make([]core1_0.DescriptorSetLayout, count)
	for i := 0; i < count; i++ {
		layouts[i] = setLayout
	}

	sets, _, err := d.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: lookup(d.descriptorPools, pool.ID, "descriptor pool"),
		SetLayouts:     layouts,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %d descriptor sets", count)
	}

	handles := make([]DescriptorSet, count)
	for i, set := range sets {
		id := d.allocID()
		d.descriptorSets.Put(id, set)
		handles[i] = DescriptorSet{ID: id}
	}
	return handles, nil
}

func (d *VulkanDevice) UpdateDescriptorSets(writes []DescriptorWrite) error {
	writeInfos := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for _, write := range writes {
		info := core1_0.WriteDescriptorSet{
			DstSet:          lookup(d.descriptorSets, write.Set.ID, "descriptor set"),
			DstBinding:      write.Binding,
			DstArrayElement: write.ArrayElement,
			DescriptorType:  write.DescriptorType,
		}

		for _, buffer := range write.Buffers {
			info.BufferInfo = append(info.BufferInfo, core1_0.DescriptorBufferInfo{
				Buffer: lookup(d.buffers, buffer.Buffer.ID, "buffer"),
				Offset: buffer.Offset,
				Range:  buffer.Range,
			})
		}
		for _, image := range write.Images {
			info.ImageInfo = append(info.ImageInfo, core1_0.DescriptorImageInfo{
				Sampler:     lookup(d.samplers, image.Sampler.ID, "sampler"),
				ImageView:   lookup(d.imageViews, image.View.ID, "image view"),
				ImageLayout: image.ImageLayout,
			})
		}

		writeInfos = append(writeInfos, info)
	}

	err := d.device.UpdateDescriptorSets(writeInfos, nil)
	if err != nil {
		return errors.Wrap(err, "updating descriptor sets")
	}
	return nil
}

func (d *VulkanDevice) CreatePipelineLayout(info PipelineLayoutInfo) (PipelineLayout, error) {
	setLayouts := make([]core1_0.DescriptorSetLayout, len(info.SetLayouts))
	for i, layout := range info.SetLayouts {
		setLayouts[i] = lookup(d.setLayouts, layout.ID, "descriptor set layout")
	}

	layout, _, err := d.device.CreatePipelineLayout(d.callbacks, core1_0.PipelineLayoutCreateInfo{
		SetLayouts:         setLayouts,
		PushConstantRanges: info.PushConstantRanges,
	})
	if err != nil {
		return PipelineLayout{}, errors.Wrap(err, "creating pipeline layout")
	}

	id := d.allocID()
	d.pipelineLayouts.Put(id, layout)
	return PipelineLayout{ID: id}, nil
}

func (d *VulkanDevice) DestroyPipelineLayout(layout PipelineLayout) {
	lookup(d.pipelineLayouts, layout.ID, "pipeline layout").Destroy(d.callbacks)
	d.pipelineLayouts.Delete(layout.ID)
}

func (d *VulkanDevice) CreateGraphicsPipeline(info PipelineInfo) (Pipeline, error) {
	createInfo := core1_0.GraphicsPipelineCreateInfo{
		Stages: []core1_0.PipelineShaderStageCreateInfo{
			{
				Stage:  core1_0.StageVertex,
				Module: lookup(d.shaderModules, info.VertexShader.ID, "shader module"),
				Name:   "main",
			},
			{
				Stage:  core1_0.StageFragment,
				Module: lookup(d.shaderModules, info.FragmentShader.ID, "shader module"),
				Name:   "main",
			},
		},
		VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   info.VertexBindings,
			VertexAttributeDescriptions: info.VertexAttributes,
		},
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology: info.Topology,
		},
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{
				{
					Width:    float32(info.Extent.Width),
					Height:   float32(info.Extent.Height),
					MaxDepth: 1,
				},
			},
			Scissors: []core1_0.Rect2D{
				{Extent: info.Extent},
			},
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			PolygonMode: core1_0.PolygonModeFill,
			CullMode:    core1_0.CullModeBack,
			FrontFace:   core1_0.FrontFaceCounterClockwise,
			LineWidth:   1,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			RasterizationSamples: core1_0.Samples1,
			MinSampleShading:     1,
		},
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			Attachments: []core1_0.PipelineColorBlendAttachmentState{
				{
					ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen |
						core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
				},
			},
		},
		Layout:     lookup(d.pipelineLayouts, info.Layout.ID, "pipeline layout"),
		RenderPass: lookup(d.renderPasses, info.RenderPass.ID, "render pass"),
		Subpass:    info.Subpass,
	}

	pipelines, _, err := d.device.CreateGraphicsPipelines(nil, d.callbacks, []core1_0.GraphicsPipelineCreateInfo{createInfo})
	if err != nil {
		return Pipeline{}, errors.Wrap(err, "creating graphics pipeline")
	}

	id := d.allocID()
	d.pipelines.Put(id, pipelines[0])
	return Pipeline{ID: id}, nil
}

func (d *VulkanDevice) DestroyPipeline(pipeline Pipeline) {
	lookup(d.pipelines, pipeline.ID, "pipeline").Destroy(d.callbacks)
	d.pipelines.Delete(pipeline.ID)
}

func (d *VulkanDevice) AllocateMemory(size int, memoryTypeIndex int) (Memory, error) {
	memory, _, err := d.device.AllocateMemory(d.callbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return Memory{}, errors.Wrapf(err, "allocating %d bytes from memory type %d", size, memoryTypeIndex)
	}

	id := d.allocID()
	d.memories.Put(id, memory)
	return Memory{ID: id}, nil
}

func (d *VulkanDevice) FreeMemory(memory Memory) {
	lookup(d.memories, memory.ID, "memory").Free(d.callbacks)
	d.memories.Delete(memory.ID)
}

func (d *VulkanDevice) MapMemory(memory Memory, offset, size int) (unsafe.Pointer, error) {
	ptr, _, err := lookup(d.memories, memory.ID, "memory").Map(offset, size, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %d bytes at offset %d", size, offset)
	}
	return ptr, nil
}

func (d *VulkanDevice) UnmapMemory(memory Memory) {
	lookup(d.memories, memory.ID, "memory").Unmap()
}

func (d *VulkanDevice) MemoryTypes() []core1_0.MemoryType {
	return d.memoryProperties.MemoryTypes
}

func (d *VulkanDevice) Limits() *core1_0.PhysicalDeviceLimits {
	return d.limits
}
