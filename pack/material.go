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

const (
	uniformBinding = 0
	textureBinding = 1
)

// TextureData is the CPU-side payload of one sampled texture, tightly packed pixels in
// the given format.
type TextureData struct {
	Width  int
	Height int
	Format core1_0.Format
	Pixels []byte
}

// MaterialData is the CPU-side payload of one material: its uniform block in format M and
// an optional sampled texture.
type MaterialData[M any] struct {
	Uniform M
	Texture *TextureData
}

// MaterialPack owns the device objects behind every material of one uniform format: a
// single persistently-mapped uniform buffer sliced per item, the items' textures with
// their views, one shared sampler, and one descriptor set per item allocated from one
// pool. Destroyed as a unit.
type MaterialPack[M any] struct {
	uniforms resource.Buffer
	stride   int

	images []resource.Image
	views  []resource.View

	sampler   device.Sampler
	setLayout device.DescriptorSetLayout
	pool      device.DescriptorPool
	sets      []device.DescriptorSet
}

// PartialMaterialPack is a material pack whose buffer and image shells exist but own no
// memory yet.
type PartialMaterialPack[M any] struct {
	items  []MaterialData[M]
	stride int

	uniformShell *resource.PartialBuffer
	imageShells  []*resource.PartialImage // indexed like items, nil for untextured
}

// PrepareMaterialPack creates the pack's uniform-buffer shell and one image shell per
// textured item. Uniform ranges are strided to the device's minimum uniform-buffer
// offset alignment so each item's slice can be bound independently.
func PrepareMaterialPack[M any](dev device.Device, items []MaterialData[M]) (*PartialMaterialPack[M], error) {
	if len(items) == 0 {
		return nil, errors.New("a material pack needs at least one material")
	}

	var zero M
	stride := memutils.AlignUp(int(unsafe.Sizeof(zero)), uint(dev.Limits().MinUniformBufferOffsetAlignment))

	uniformShell, err := resource.PrepareBuffer(dev, core1_0.BufferCreateInfo{
		Size:        stride * len(items),
		Usage:       core1_0.BufferUsageUniformBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, memory.ClassHostCoherent)
	if err != nil {
		return nil, errors.Wrap(err, "preparing a material pack uniform buffer")
	}

	imageShells := make([]*resource.PartialImage, len(items))
	for i, item := range items {
		if item.Texture == nil {
			continue
		}

		// linear tiling keeps the texel layout host-writable, so textures upload
		// through the persistent mapping without a staging pass
		imageShells[i], err = resource.PrepareImage(dev, core1_0.ImageCreateInfo{
			ImageType:     core1_0.ImageType2D,
			Format:        item.Texture.Format,
			Extent:        core1_0.Extent3D{Width: item.Texture.Width, Height: item.Texture.Height, Depth: 1},
			MipLevels:     1,
			ArrayLayers:   1,
			Samples:       core1_0.Samples1,
			Tiling:        core1_0.ImageTilingLinear,
			Usage:         core1_0.ImageUsageSampled,
			SharingMode:   core1_0.SharingModeExclusive,
			InitialLayout: core1_0.ImageLayoutPreInitialized,
		}, memory.ClassHostCoherent)
		if err != nil {
			uniformShell.Abandon(dev)
			for _, shell := range imageShells[:i] {
				if shell != nil {
					shell.Abandon(dev)
				}
			}
			return nil, errors.Wrapf(err, "preparing the texture for material %d", i)
		}
	}

	return &PartialMaterialPack[M]{
		items:        items,
		stride:       stride,
		uniformShell: uniformShell,
		imageShells:  imageShells,
	}, nil
}

// Requirements returns the allocation requests the pack will need at Finalize time.
func (p *PartialMaterialPack[M]) Requirements() []PendingRequest {
	pending := []PendingRequest{{Request: p.uniformShell.Requirement(), Class: memory.ClassHostCoherent}}
	for _, shell := range p.imageShells {
		if shell != nil {
			pending = append(pending, PendingRequest{Request: shell.Requirement(), Class: memory.ClassHostCoherent})
		}
	}
	return pending
}

// Abandon destroys every shell without binding memory.
func (p *PartialMaterialPack[M]) Abandon(dev device.Device) {
	p.uniformShell.Abandon(dev)
	for _, shell := range p.imageShells {
		if shell != nil {
			shell.Abandon(dev)
		}
	}
}

// Finalize backs the shells with memory, uploads uniform and texel data through their
// persistent mappings, then builds the descriptor machinery: shared sampler, set layout,
// pool, one set per item, and the writes pointing each set at its uniform slice and
// texture.
func (p *PartialMaterialPack[M]) Finalize(dev device.Device, allocator memory.Allocator, store *resource.Store) (*MaterialPack[M], error) {
	pack := &MaterialPack[M]{stride: p.stride}

	uniforms, err := p.uniformShell.Finalize(dev, allocator, store)
	if err != nil {
		p.abandonImagesFrom(dev, 0)
		return nil, err
	}
	pack.uniforms = uniforms

	mapped, err := uniforms.MappedData(store)
	if err != nil {
		p.abandonImagesFrom(dev, 0)
		return nil, errors.CombineErrors(err, pack.Destroy(dev, store))
	}
	uniformBytes := mappedBytes(mapped, p.stride*len(p.items))
	for i := range p.items {
		copy(uniformBytes[i*p.stride:], rawBytes([]M{p.items[i].Uniform}))
	}

	for i, shell := range p.imageShells {
		if shell == nil {
			pack.images = append(pack.images, resource.Image{})
			pack.views = append(pack.views, resource.View{})
			continue
		}

		image, err := shell.Finalize(dev, allocator, store)
		if err != nil {
			p.abandonImagesFrom(dev, i+1)
			return nil, errors.CombineErrors(err, pack.Destroy(dev, store))
		}
		pack.images = append(pack.images, image)

		texels, err := image.MappedData(store)
		if err != nil {
			p.abandonImagesFrom(dev, i+1)
			return nil, errors.CombineErrors(err, pack.Destroy(dev, store))
		}
		// TODO honor the image's row pitch instead of assuming tight packing
		copy(mappedBytes(texels, len(p.items[i].Texture.Pixels)), p.items[i].Texture.Pixels)

		view, err := resource.CreateView(dev, store, image, p.items[i].Texture.Format, core1_0.ImageAspectColor)
		if err != nil {
			p.abandonImagesFrom(dev, i+1)
			return nil, errors.CombineErrors(err, pack.Destroy(dev, store))
		}
		pack.views = append(pack.views, view)
	}

	err = pack.buildDescriptors(dev, store, p.anyTextures())
	if err != nil {
		return nil, errors.CombineErrors(err, pack.Destroy(dev, store))
	}
	return pack, nil
}

func (p *PartialMaterialPack[M]) abandonImagesFrom(dev device.Device, start int) {
	for _, shell := range p.imageShells[start:] {
		if shell != nil {
			shell.Abandon(dev)
		}
	}
}

func (p *PartialMaterialPack[M]) anyTextures() bool {
	for _, shell := range p.imageShells {
		if shell != nil {
			return true
		}
	}
	return false
}

func (p *MaterialPack[M]) buildDescriptors(dev device.Device, store *resource.Store, textured bool) error {
	count := len(p.images)

	bindings := []core1_0.DescriptorSetLayoutBinding{
		{
			Binding:         uniformBinding,
			DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      core1_0.StageFragment | core1_0.StageVertex,
		},
	}
	poolSizes := []core1_0.DescriptorPoolSize{
		{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: count},
	}

	if textured {
		sampler, err := dev.CreateSampler(core1_0.SamplerCreateInfo{
			MagFilter:    core1_0.FilterLinear,
			MinFilter:    core1_0.FilterLinear,
			MipmapMode:   core1_0.SamplerMipmapModeLinear,
			AddressModeU: core1_0.SamplerAddressModeRepeat,
			AddressModeV: core1_0.SamplerAddressModeRepeat,
			AddressModeW: core1_0.SamplerAddressModeRepeat,
			MaxLod:       1,
		})
		if err != nil {
			return errors.Wrap(err, "creating the material sampler")
		}
		p.sampler = sampler

		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         textureBinding,
			DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      core1_0.StageFragment,
		})
		poolSizes = append(poolSizes, core1_0.DescriptorPoolSize{
			Type: core1_0.DescriptorTypeCombinedImageSampler, DescriptorCount: count,
		})
	}

	setLayout, err := dev.CreateDescriptorSetLayout(bindings)
	if err != nil {
		return errors.Wrap(err, "creating the material set layout")
	}
	p.setLayout = setLayout

	pool, err := dev.CreateDescriptorPool(count, poolSizes)
	if err != nil {
		return errors.Wrap(err, "creating the material descriptor pool")
	}
	p.pool = pool

	sets, err := dev.AllocateDescriptorSets(pool, setLayout, count)
	if err != nil {
		return errors.Wrap(err, "allocating material descriptor sets")
	}
	p.sets = sets

	rawUniforms, err := resource.Entry(store, p.uniforms.Index)
	if err != nil {
		return err
	}

	var writes []device.DescriptorWrite
	for i, set := range sets {
		writes = append(writes, device.DescriptorWrite{
			Set:            set,
			Binding:        uniformBinding,
			DescriptorType: core1_0.DescriptorTypeUniformBuffer,
			Buffers: []device.BufferDescriptor{
				{Buffer: rawUniforms.Buffer, Offset: i * p.stride, Range: p.stride},
			},
		})

		if p.views[i].Index.IsZero() {
			continue
		}
		rawView, err := resource.Entry(store, p.views[i].Index)
		if err != nil {
			return err
		}
		writes = append(writes, device.DescriptorWrite{
			Set:            set,
			Binding:        textureBinding,
			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,
			Images: []device.ImageDescriptor{
				{Sampler: p.sampler, View: rawView.View, ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal},
			},
		})
	}

	return errors.Wrap(dev.UpdateDescriptorSets(writes), "writing material descriptors")
}

// Len returns the number of materials in the pack.
func (p *MaterialPack[M]) Len() int {
	return len(p.images)
}

// Set returns the descriptor set for one material, in submission order.
func (p *MaterialPack[M]) Set(index int) device.DescriptorSet {
	return p.sets[index]
}

// UniformOffset returns the byte offset of one material's uniform slice within the
// pack's uniform buffer.
func (p *MaterialPack[M]) UniformOffset(index int) int {
	return index * p.stride
}

// UniformStride returns the aligned per-item stride of the uniform buffer.
func (p *MaterialPack[M]) UniformStride() int {
	return p.stride
}

// Destroy releases the pack's descriptor machinery, textures, views and uniform buffer,
// in reverse dependency order.
func (p *MaterialPack[M]) Destroy(dev device.Device, store *resource.Store) error {
	var err error

	if !p.pool.IsNil() {
		dev.DestroyDescriptorPool(p.pool)
		p.pool = device.DescriptorPool{}
	}
	if !p.setLayout.IsNil() {
		dev.DestroyDescriptorSetLayout(p.setLayout)
		p.setLayout = device.DescriptorSetLayout{}
	}
	if !p.sampler.IsNil() {
		dev.DestroySampler(p.sampler)
		p.sampler = device.Sampler{}
	}

	for _, view := range p.views {
		if view.Index.IsZero() {
			continue
		}
		raw, popErr := resource.Pop(store, view.Index)
		if popErr != nil {
			err = errors.CombineErrors(err, popErr)
			continue
		}
		err = errors.CombineErrors(err, raw.Release(dev))
	}
	for _, image := range p.images {
		if image.Index.IsZero() {
			continue
		}
		raw, popErr := resource.Pop(store, image.Index)
		if popErr != nil {
			err = errors.CombineErrors(err, popErr)
			continue
		}
		err = errors.CombineErrors(err, raw.Release(dev))
	}

	return errors.CombineErrors(err, releaseBuffer(dev, store, p.uniforms))
}
