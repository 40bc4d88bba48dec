package pack

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/resource"
)

// ShaderConfig is everything a shader pack needs to build its pipeline: the compiled
// SPIR-V stages, the descriptor bindings the shaders declare, and the fixed-function
// state the pipeline is specialized to.
type ShaderConfig struct {
	VertexCode   []uint32
	FragmentCode []uint32

	DescriptorBindings []core1_0.DescriptorSetLayoutBinding
	PushConstantRanges []core1_0.PushConstantRange

	VertexBindings   []core1_0.VertexInputBindingDescription
	VertexAttributes []core1_0.VertexInputAttributeDescription
	Topology         core1_0.PrimitiveTopology
	Extent           core1_0.Extent2D
	RenderPass       device.RenderPass
	Subpass          int
}

// ShaderPack owns one shader program's device objects: both shader modules, the
// descriptor-set layout its bindings declare, the pipeline layout, and the graphics
// pipeline itself. The type parameter tags the pack with the program it represents so
// pipelines for different programs cannot be confused in a pack list; it has no runtime
// representation.
type ShaderPack[S any] struct {
	vertex    device.ShaderModule
	fragment  device.ShaderModule
	setLayout device.DescriptorSetLayout
	layout    device.PipelineLayout
	pipeline  device.Pipeline
}

// BuildShaderPack creates the pack's objects in dependency order, unwinding everything
// built so far if a later step fails. Shader packs own no memory, so there is no partial
// phase.
func BuildShaderPack[S any](dev device.Device, config ShaderConfig) (*ShaderPack[S], error) {
	pack := &ShaderPack[S]{}

	vertex, err := dev.CreateShaderModule(config.VertexCode)
	if err != nil {
		return nil, errors.Wrap(err, "creating the vertex shader module")
	}
	pack.vertex = vertex

	fragment, err := dev.CreateShaderModule(config.FragmentCode)
	if err != nil {
		pack.unwind(dev)
		return nil, errors.Wrap(err, "creating the fragment shader module")
	}
	pack.fragment = fragment

	setLayout, err := dev.CreateDescriptorSetLayout(config.DescriptorBindings)
	if err != nil {
		pack.unwind(dev)
		return nil, errors.Wrap(err, "creating the shader set layout")
	}
	pack.setLayout = setLayout

	layout, err := dev.CreatePipelineLayout(device.PipelineLayoutInfo{
		SetLayouts:         []device.DescriptorSetLayout{setLayout},
		PushConstantRanges: config.PushConstantRanges,
	})
	if err != nil {
		pack.unwind(dev)
		return nil, errors.Wrap(err, "creating the pipeline layout")
	}
	pack.layout = layout

	pipeline, err := dev.CreateGraphicsPipeline(device.PipelineInfo{
		VertexShader:     vertex,
		FragmentShader:   fragment,
		Layout:           layout,
		RenderPass:       config.RenderPass,
		Subpass:          config.Subpass,
		VertexBindings:   config.VertexBindings,
		VertexAttributes: config.VertexAttributes,
		Topology:         config.Topology,
		Extent:           config.Extent,
	})
	if err != nil {
		pack.unwind(dev)
		return nil, errors.Wrap(err, "creating the graphics pipeline")
	}
	pack.pipeline = pipeline

	return pack, nil
}

// Pipeline returns the pack's graphics pipeline, for bind calls during frame recording.
func (p *ShaderPack[S]) Pipeline() device.Pipeline {
	return p.pipeline
}

// Layout returns the pipeline layout, for descriptor-set bind calls.
func (p *ShaderPack[S]) Layout() device.PipelineLayout {
	return p.layout
}

// SetLayout returns the descriptor-set layout the shader's bindings declare.
func (p *ShaderPack[S]) SetLayout() device.DescriptorSetLayout {
	return p.setLayout
}

// unwind destroys whatever has been built, in strict reverse creation order.
func (p *ShaderPack[S]) unwind(dev device.Device) {
	if !p.pipeline.IsNil() {
		dev.DestroyPipeline(p.pipeline)
		p.pipeline = device.Pipeline{}
	}
	if !p.layout.IsNil() {
		dev.DestroyPipelineLayout(p.layout)
		p.layout = device.PipelineLayout{}
	}
	if !p.setLayout.IsNil() {
		dev.DestroyDescriptorSetLayout(p.setLayout)
		p.setLayout = device.DescriptorSetLayout{}
	}
	if !p.fragment.IsNil() {
		dev.DestroyShaderModule(p.fragment)
		p.fragment = device.ShaderModule{}
	}
	if !p.vertex.IsNil() {
		dev.DestroyShaderModule(p.vertex)
		p.vertex = device.ShaderModule{}
	}
}

// Destroy releases the pack's pipeline, layouts and modules in reverse creation order.
func (p *ShaderPack[S]) Destroy(dev device.Device, store *resource.Store) error {
	p.unwind(dev)
	return nil
}
