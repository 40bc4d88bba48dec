package pack

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memory"
	"github.com/vkngwrapper/forge/resource"
	"golang.org/x/exp/slog"
)

// PendingRequest is one allocation a partial pack will make at finalize time, paired with
// the classification it will request.
type PendingRequest struct {
	Request memory.Request
	Class   memory.Class
}

// Planner is satisfied by allocator strategies that want every expected request
// registered before any allocation happens. The Builder feeds a Planner the pending
// requests of every pack it prepared, then commits, before finalizing anything.
type Planner interface {
	AddAllocation(request memory.Request, class memory.Class) error
	Commit() error
}

type partialPack interface {
	requirements() []PendingRequest
	finalize(dev device.Device, allocator memory.Allocator, store *resource.Store) (Erased, error)
	abandon(dev device.Device)
}

// Builder accumulates prepared packs and finalizes them together, so one allocator
// decision covers every pack's memory. Add every pack first, then call Build exactly
// once; pack indices in the returned handles follow Add order.
type Builder struct {
	dev    device.Device
	store  *resource.Store
	logger *slog.Logger

	partials []partialPack
	built    bool
}

func NewBuilder(dev device.Device, store *resource.Store, logger *slog.Logger) *Builder {
	return &Builder{
		dev:    dev,
		store:  store,
		logger: logger,
	}
}

// AddMeshPack prepares a mesh pack and returns one handle per mesh, in submission order.
func AddMeshPack[V any](b *Builder, items []MeshData[V], config MeshPackConfig) ([]MeshHandle[V], error) {
	partial, err := PrepareMeshPack(b.dev, items, config)
	if err != nil {
		return nil, err
	}

	packIndex := b.add(meshPartial[V]{partial})
	handles := make([]MeshHandle[V], len(items))
	for i := range handles {
		handles[i] = NewMeshHandle[V](packIndex, i)
	}
	return handles, nil
}

// AddMaterialPack prepares a material pack and returns one handle per material, in
// submission order.
func AddMaterialPack[M any](b *Builder, items []MaterialData[M]) ([]MaterialHandle[M], error) {
	partial, err := PrepareMaterialPack(b.dev, items)
	if err != nil {
		return nil, err
	}

	packIndex := b.add(materialPartial[M]{partial})
	handles := make([]MaterialHandle[M], len(items))
	for i := range handles {
		handles[i] = NewMaterialHandle[M](packIndex, i)
	}
	return handles, nil
}

// AddShaderPack registers a shader pack. Shader packs own no memory, so construction is
// simply deferred to Build to keep pack indices and destruction order consistent.
func AddShaderPack[S any](b *Builder, config ShaderConfig) error {
	b.add(shaderPartial[S]{config: config})
	return nil
}

func (b *Builder) add(partial partialPack) int {
	if b.built {
		panic("pack builder reused after Build")
	}
	b.partials = append(b.partials, partial)
	return len(b.partials) - 1
}

// Build finalizes every pack added so far, in Add order. If the allocator is a Planner,
// every pack's pending requests are registered and committed first. On failure every pack
// already built is destroyed and every pack not yet finalized is abandoned; the device is
// left holding nothing from this load.
func (b *Builder) Build(allocator memory.Allocator) (*List, error) {
	if b.built {
		panic("pack builder reused after Build")
	}
	b.built = true

	if planner, ok := allocator.(Planner); ok {
		err := b.plan(planner)
		if err != nil {
			b.abandonFrom(0)
			return nil, err
		}
	}

	list := &List{}
	for i, partial := range b.partials {
		b.logger.Debug("Builder::Build finalizing pack", slog.Int("PackIndex", i))

		erased, err := partial.finalize(b.dev, allocator, b.store)
		if err != nil {
			b.abandonFrom(i + 1)
			return nil, errors.CombineErrors(
				errors.Wrapf(err, "finalizing pack %d", i),
				list.Destroy(b.dev, b.store))
		}
		list.packs = append(list.packs, erased)
	}

	b.partials = nil
	return list, nil
}

func (b *Builder) plan(planner Planner) error {
	for _, partial := range b.partials {
		for _, pending := range partial.requirements() {
			err := planner.AddAllocation(pending.Request, pending.Class)
			if err != nil {
				return err
			}
		}
	}
	return planner.Commit()
}

func (b *Builder) abandonFrom(start int) {
	for _, partial := range b.partials[start:] {
		partial.abandon(b.dev)
	}
	b.partials = nil
}

// The adapters below let heterogeneous partial packs share the Build loop without the
// typed Prepare/Finalize surfaces losing their concrete return types.

type meshPartial[V any] struct {
	partial *PartialMeshPack[V]
}

func (m meshPartial[V]) requirements() []PendingRequest {
	return m.partial.Requirements()
}

func (m meshPartial[V]) finalize(dev device.Device, allocator memory.Allocator, store *resource.Store) (Erased, error) {
	pack, err := m.partial.Finalize(dev, allocator, store)
	if err != nil {
		return Erased{}, err
	}
	return Erase(pack), nil
}

func (m meshPartial[V]) abandon(dev device.Device) {
	m.partial.Abandon(dev)
}

type materialPartial[M any] struct {
	partial *PartialMaterialPack[M]
}

func (m materialPartial[M]) requirements() []PendingRequest {
	return m.partial.Requirements()
}

func (m materialPartial[M]) finalize(dev device.Device, allocator memory.Allocator, store *resource.Store) (Erased, error) {
	pack, err := m.partial.Finalize(dev, allocator, store)
	if err != nil {
		return Erased{}, err
	}
	return Erase(pack), nil
}

func (m materialPartial[M]) abandon(dev device.Device) {
	m.partial.Abandon(dev)
}

type shaderPartial[S any] struct {
	config ShaderConfig
}

func (s shaderPartial[S]) requirements() []PendingRequest {
	return nil
}

func (s shaderPartial[S]) finalize(dev device.Device, allocator memory.Allocator, store *resource.Store) (Erased, error) {
	pack, err := BuildShaderPack[S](dev, s.config)
	if err != nil {
		return Erased{}, err
	}
	return Erase(pack), nil
}

func (s shaderPartial[S]) abandon(dev device.Device) {}
