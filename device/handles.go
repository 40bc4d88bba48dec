package device

// Handles in this package are opaque numeric identifiers for device-side objects. They are
// plain values: copying one never duplicates the underlying object, and a zero handle is
// always nil. How an ID maps to a driver object is private to the Device implementation.

// Memory identifies a device memory allocation.
type Memory struct {
	ID uint64
}

func (m Memory) IsNil() bool { return m.ID == 0 }

// Buffer identifies a device buffer object, which may or may not have memory bound.
type Buffer struct {
	ID uint64
}

func (b Buffer) IsNil() bool { return b.ID == 0 }

// Image identifies a device image object, which may or may not have memory bound.
type Image struct {
	ID uint64
}

func (i Image) IsNil() bool { return i.ID == 0 }

// ImageView identifies a view over an Image.
type ImageView struct {
	ID uint64
}

func (v ImageView) IsNil() bool { return v.ID == 0 }

// Sampler identifies a device sampler object.
type Sampler struct {
	ID uint64
}

func (s Sampler) IsNil() bool { return s.ID == 0 }

// ShaderModule identifies a compiled shader module.
type ShaderModule struct {
	ID uint64
}

func (s ShaderModule) IsNil() bool { return s.ID == 0 }

// DescriptorSetLayout identifies a descriptor set layout.
type DescriptorSetLayout struct {
	ID uint64
}

func (l DescriptorSetLayout) IsNil() bool { return l.ID == 0 }

// DescriptorPool identifies a descriptor pool. Destroying the pool releases every set
// allocated from it.
type DescriptorPool struct {
	ID uint64
}

func (p DescriptorPool) IsNil() bool { return p.ID == 0 }

// DescriptorSet identifies a descriptor set allocated from a DescriptorPool.
type DescriptorSet struct {
	ID uint64
}

func (s DescriptorSet) IsNil() bool { return s.ID == 0 }

// PipelineLayout identifies a pipeline layout.
type PipelineLayout struct {
	ID uint64
}

func (l PipelineLayout) IsNil() bool { return l.ID == 0 }

// Pipeline identifies a graphics pipeline.
type Pipeline struct {
	ID uint64
}

func (p Pipeline) IsNil() bool { return p.ID == 0 }

// RenderPass identifies a render pass owned by the presentation layer. This module never
// creates or destroys render passes; pipelines only reference one.
type RenderPass struct {
	ID uint64
}

func (r RenderPass) IsNil() bool { return r.ID == 0 }
