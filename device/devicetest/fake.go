// Package devicetest provides an in-memory Device implementation for tests. It hands out
// real mappable backing for memory allocations, tracks live objects per kind, and records
// every call in order so tests can assert construction and destruction sequences.
package devicetest

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/forge/device"
)

// Fake implements device.Device without a GPU. The zero value is not usable; construct
// with NewFake.
type Fake struct {
	// Types is the memory-type table reported by MemoryTypes. Override before use to
	// model a specific platform.
	Types []core1_0.MemoryType
	// DeviceLimits is returned by Limits.
	DeviceLimits core1_0.PhysicalDeviceLimits
	// FailOps maps a method name (e.g. "CreateBuffer") to an error that method will
	// return while the entry is present.
	FailOps map[string]error

	nextID uint64
	calls  []string

	memories    map[uint64][]byte
	mapped      map[uint64]bool
	buffers     map[uint64]core1_0.BufferCreateInfo
	bufferBinds map[uint64]binding
	images      map[uint64]core1_0.ImageCreateInfo
	imageBinds  map[uint64]binding
	views       map[uint64]device.ImageViewInfo
	samplers    map[uint64]bool
	modules     map[uint64][]uint32
	setLayouts  map[uint64][]core1_0.DescriptorSetLayoutBinding
	pools       map[uint64]int
	sets        map[uint64]uint64 // set -> owning pool
	pipeLayouts map[uint64]bool
	pipelines   map[uint64]bool
	writes      []device.DescriptorWrite
}

type binding struct {
	Memory device.Memory
	Offset int
}

var _ device.Device = &Fake{}

// NewFake returns a fake with a two-entry memory-type table (device-local at index 0,
// host-visible+coherent at index 1) and permissive limits.
func NewFake() *Fake {
	return &Fake{
		Types: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
		},
		DeviceLimits: core1_0.PhysicalDeviceLimits{
			MaxMemoryAllocationCount:        4096,
			NonCoherentAtomSize:             1,
			BufferImageGranularity:          1,
			MinUniformBufferOffsetAlignment: 256,
		},
		FailOps: map[string]error{},

		memories:    map[uint64][]byte{},
		mapped:      map[uint64]bool{},
		buffers:     map[uint64]core1_0.BufferCreateInfo{},
		bufferBinds: map[uint64]binding{},
		images:      map[uint64]core1_0.ImageCreateInfo{},
		imageBinds:  map[uint64]binding{},
		views:       map[uint64]device.ImageViewInfo{},
		samplers:    map[uint64]bool{},
		modules:     map[uint64][]uint32{},
		setLayouts:  map[uint64][]core1_0.DescriptorSetLayoutBinding{},
		pools:       map[uint64]int{},
		sets:        map[uint64]uint64{},
		pipeLayouts: map[uint64]bool{},
		pipelines:   map[uint64]bool{},
	}
}

func (f *Fake) record(op string, id uint64) {
	f.calls = append(f.calls, fmt.Sprintf("%s(%d)", op, id))
}

func (f *Fake) fail(op string) error {
	return f.FailOps[op]
}

func (f *Fake) id() uint64 {
	f.nextID++
	return f.nextID
}

// Calls returns every recorded call in order, formatted "Op(handleID)".
func (f *Fake) Calls() []string {
	return f.calls
}

// CallIndex returns the position of the first recorded call equal to the provided string,
// or -1 if it never happened.
func (f *Fake) CallIndex(call string) int {
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// LiveObjects returns the number of device objects (of every kind, memory included) that
// have been created but not destroyed. Zero after teardown means nothing leaked.
func (f *Fake) LiveObjects() int {
	return len(f.memories) + len(f.buffers) + len(f.images) + len(f.views) +
		len(f.samplers) + len(f.modules) + len(f.setLayouts) + len(f.pools) +
		len(f.sets) + len(f.pipeLayouts) + len(f.pipelines)
}

// LiveMemories returns the number of outstanding memory allocations.
func (f *Fake) LiveMemories() int {
	return len(f.memories)
}

// MemoryContents returns the backing bytes of a live allocation.
func (f *Fake) MemoryContents(memory device.Memory) []byte {
	backing, ok := f.memories[memory.ID]
	if !ok {
		panic(fmt.Sprintf("unknown memory handle %d", memory.ID))
	}
	return backing
}

// BufferBinding reports the memory and offset a buffer was bound to.
func (f *Fake) BufferBinding(buffer device.Buffer) (device.Memory, int, bool) {
	bind, ok := f.bufferBinds[buffer.ID]
	return bind.Memory, bind.Offset, ok
}

// DescriptorWrites returns every write passed to UpdateDescriptorSets, in order.
func (f *Fake) DescriptorWrites() []device.DescriptorWrite {
	return f.writes
}

func (f *Fake) CreateBuffer(info core1_0.BufferCreateInfo) (device.Buffer, error) {
	if err := f.fail("CreateBuffer"); err != nil {
		return device.Buffer{}, err
	}
	id := f.id()
	f.buffers[id] = info
	f.record("CreateBuffer", id)
	return device.Buffer{ID: id}, nil
}

func (f *Fake) DestroyBuffer(buffer device.Buffer) {
	mustLive(f.buffers, buffer.ID, "buffer")
	delete(f.buffers, buffer.ID)
	delete(f.bufferBinds, buffer.ID)
	f.record("DestroyBuffer", buffer.ID)
}

func (f *Fake) BufferMemoryRequirements(buffer device.Buffer) core1_0.MemoryRequirements {
	info := f.buffers[buffer.ID]
	return core1_0.MemoryRequirements{
		Size:           info.Size,
		Alignment:      16,
		MemoryTypeBits: (1 << uint32(len(f.Types))) - 1,
	}
}

func (f *Fake) BindBufferMemory(buffer device.Buffer, memory device.Memory, offset int) error {
	if err := f.fail("BindBufferMemory"); err != nil {
		return err
	}
	mustLive(f.buffers, buffer.ID, "buffer")
	mustLive(f.memories, memory.ID, "memory")
	if _, bound := f.bufferBinds[buffer.ID]; bound {
		panic(fmt.Sprintf("buffer %d bound twice", buffer.ID))
	}
	f.bufferBinds[buffer.ID] = binding{Memory: memory, Offset: offset}
	f.record("BindBufferMemory", buffer.ID)
	return nil
}

func (f *Fake) CreateImage(info core1_0.ImageCreateInfo) (device.Image, error) {
	if err := f.fail("CreateImage"); err != nil {
		return device.Image{}, err
	}
	id := f.id()
	f.images[id] = info
	f.record("CreateImage", id)
	return device.Image{ID: id}, nil
}

func (f *Fake) DestroyImage(image device.Image) {
	mustLive(f.images, image.ID, "image")
	delete(f.images, image.ID)
	delete(f.imageBinds, image.ID)
	f.record("DestroyImage", image.ID)
}

func (f *Fake) ImageMemoryRequirements(image device.Image) core1_0.MemoryRequirements {
	info := f.images[image.ID]
	// 4 bytes per texel, tightly packed
	size := info.Extent.Width * info.Extent.Height * 4
	if size < 1 {
		size = 1
	}
	return core1_0.MemoryRequirements{
		Size:           size,
		Alignment:      16,
		MemoryTypeBits: (1 << uint32(len(f.Types))) - 1,
	}
}

func (f *Fake) BindImageMemory(image device.Image, memory device.Memory, offset int) error {
	if err := f.fail("BindImageMemory"); err != nil {
		return err
	}
	mustLive(f.images, image.ID, "image")
	mustLive(f.memories, memory.ID, "memory")
	f.imageBinds[image.ID] = binding{Memory: memory, Offset: offset}
	f.record("BindImageMemory", image.ID)
	return nil
}

func (f *Fake) CreateImageView(info device.ImageViewInfo) (device.ImageView, error) {
	if err := f.fail("CreateImageView"); err != nil {
		return device.ImageView{}, err
	}
	mustLive(f.images, info.Image.ID, "image")
	id := f.id()
	f.views[id] = info
	f.record("CreateImageView", id)
	return device.ImageView{ID: id}, nil
}

func (f *Fake) DestroyImageView(view device.ImageView) {
	mustLive(f.views, view.ID, "image view")
	delete(f.views, view.ID)
	f.record("DestroyImageView", view.ID)
}

func (f *Fake) CreateSampler(info core1_0.SamplerCreateInfo) (device.Sampler, error) {
	if err := f.fail("CreateSampler"); err != nil {
		return device.Sampler{}, err
	}
	id := f.id()
	f.samplers[id] = true
	f.record("CreateSampler", id)
	return device.Sampler{ID: id}, nil
}

func (f *Fake) DestroySampler(sampler device.Sampler) {
	mustLive(f.samplers, sampler.ID, "sampler")
	delete(f.samplers, sampler.ID)
	f.record("DestroySampler", sampler.ID)
}

func (f *Fake) CreateShaderModule(code []uint32) (device.ShaderModule, error) {
	if err := f.fail("CreateShaderModule"); err != nil {
		return device.ShaderModule{}, err
	}
	id := f.id()
	f.modules[id] = code
	f.record("CreateShaderModule", id)
	return device.ShaderModule{ID: id}, nil
}

func (f *Fake) DestroyShaderModule(module device.ShaderModule) {
	mustLive(f.modules, module.ID, "shader module")
	delete(f.modules, module.ID)
	f.record("DestroyShaderModule", module.ID)
}

func (f *Fake) CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (device.DescriptorSetLayout, error) {
	if err := f.fail("CreateDescriptorSetLayout"); err != nil {
		return device.DescriptorSetLayout{}, err
	}
	id := f.id()
	f.setLayouts[id] = bindings
	f.record("CreateDescriptorSetLayout", id)
	return device.DescriptorSetLayout{ID: id}, nil
}

func (f *Fake) DestroyDescriptorSetLayout(layout device.DescriptorSetLayout) {
	mustLive(f.setLayouts, layout.ID, "descriptor set layout")
	delete(f.setLayouts, layout.ID)
	f.record("DestroyDescriptorSetLayout", layout.ID)
}

func (f *Fake) CreateDescriptorPool(maxSets int, poolSizes []core1_0.DescriptorPoolSize) (device.DescriptorPool, error) {
	if err := f.fail("CreateDescriptorPool"); err != nil {
		return device.DescriptorPool{}, err
	}
	id := f.id()
	f.pools[id] = maxSets
	f.record("CreateDescriptorPool", id)
	return device.DescriptorPool{ID: id}, nil
}

func (f *Fake) DestroyDescriptorPool(pool device.DescriptorPool) {
	mustLive(f.pools, pool.ID, "descriptor pool")
	delete(f.pools, pool.ID)
	for set, owner := range f.sets {
		if owner == pool.ID {
			delete(f.sets, set)
		}
	}
	f.record("DestroyDescriptorPool", pool.ID)
}

func (f *Fake) AllocateDescriptorSets(pool device.DescriptorPool, layout device.DescriptorSetLayout, count int) ([]device.DescriptorSet, error) {
	if err := f.fail("AllocateDescriptorSets"); err != nil {
		return nil, err
	}
	mustLive(f.pools, pool.ID, "descriptor pool")
	mustLive(f.setLayouts, layout.ID, "descriptor set layout")

	sets := make([]device.DescriptorSet, count)
	for i := range sets {
		id := f.id()
		f.sets[id] = pool.ID
		f.record("AllocateDescriptorSet", id)
		sets[i] = device.DescriptorSet{ID: id}
	}
	return sets, nil
}

func (f *Fake) UpdateDescriptorSets(writes []device.DescriptorWrite) error {
	if err := f.fail("UpdateDescriptorSets"); err != nil {
		return err
	}
	for _, write := range writes {
		mustLive(f.sets, write.Set.ID, "descriptor set")
	}
	f.writes = append(f.writes, writes...)
	return nil
}

func (f *Fake) CreatePipelineLayout(info device.PipelineLayoutInfo) (device.PipelineLayout, error) {
	if err := f.fail("CreatePipelineLayout"); err != nil {
		return device.PipelineLayout{}, err
	}
	for _, layout := range info.SetLayouts {
		mustLive(f.setLayouts, layout.ID, "descriptor set layout")
	}
	id := f.id()
	f.pipeLayouts[id] = true
	f.record("CreatePipelineLayout", id)
	return device.PipelineLayout{ID: id}, nil
}

func (f *Fake) DestroyPipelineLayout(layout device.PipelineLayout) {
	mustLive(f.pipeLayouts, layout.ID, "pipeline layout")
	delete(f.pipeLayouts, layout.ID)
	f.record("DestroyPipelineLayout", layout.ID)
}

func (f *Fake) CreateGraphicsPipeline(info device.PipelineInfo) (device.Pipeline, error) {
	if err := f.fail("CreateGraphicsPipeline"); err != nil {
		return device.Pipeline{}, err
	}
	mustLive(f.modules, info.VertexShader.ID, "shader module")
	mustLive(f.modules, info.FragmentShader.ID, "shader module")
	mustLive(f.pipeLayouts, info.Layout.ID, "pipeline layout")
	id := f.id()
	f.pipelines[id] = true
	f.record("CreateGraphicsPipeline", id)
	return device.Pipeline{ID: id}, nil
}

func (f *Fake) DestroyPipeline(pipeline device.Pipeline) {
	mustLive(f.pipelines, pipeline.ID, "pipeline")
	delete(f.pipelines, pipeline.ID)
	f.record("DestroyPipeline", pipeline.ID)
}

func (f *Fake) AllocateMemory(size int, memoryTypeIndex int) (device.Memory, error) {
	if err := f.fail("AllocateMemory"); err != nil {
		return device.Memory{}, err
	}
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(f.Types) {
		return device.Memory{}, errors.Newf("invalid memory type index %d", memoryTypeIndex)
	}
	id := f.id()
	f.memories[id] = make([]byte, size)
	f.record("AllocateMemory", id)
	return device.Memory{ID: id}, nil
}

func (f *Fake) FreeMemory(memory device.Memory) {
	mustLive(f.memories, memory.ID, "memory")
	delete(f.memories, memory.ID)
	delete(f.mapped, memory.ID)
	f.record("FreeMemory", memory.ID)
}

func (f *Fake) MapMemory(memory device.Memory, offset, size int) (unsafe.Pointer, error) {
	if err := f.fail("MapMemory"); err != nil {
		return nil, err
	}
	backing := f.memories[memory.ID]
	if backing == nil {
		panic(fmt.Sprintf("mapping unknown memory handle %d", memory.ID))
	}
	if f.mapped[memory.ID] {
		panic(fmt.Sprintf("memory %d mapped twice", memory.ID))
	}
	if offset+size > len(backing) {
		return nil, errors.Newf("map of [%d, %d) exceeds allocation of %d bytes", offset, offset+size, len(backing))
	}
	f.mapped[memory.ID] = true
	f.record("MapMemory", memory.ID)
	return unsafe.Pointer(&backing[offset]), nil
}

func (f *Fake) UnmapMemory(memory device.Memory) {
	mustLive(f.memories, memory.ID, "memory")
	if !f.mapped[memory.ID] {
		panic(fmt.Sprintf("memory %d unmapped while not mapped", memory.ID))
	}
	delete(f.mapped, memory.ID)
	f.record("UnmapMemory", memory.ID)
}

func (f *Fake) MemoryTypes() []core1_0.MemoryType {
	return f.Types
}

func (f *Fake) Limits() *core1_0.PhysicalDeviceLimits {
	return &f.DeviceLimits
}

func mustLive[V any](m map[uint64]V, id uint64, kind string) {
	if _, ok := m[id]; !ok {
		panic(fmt.Sprintf("use of unknown or destroyed %s handle %d", kind, id))
	}
}
