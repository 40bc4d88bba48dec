package pack

// MeshHandle identifies one mesh: which mesh pack it lives in and which item it is within
// that pack. The vertex-format parameter keeps handles from different formats from mixing
// at compile time; it has no runtime representation.
type MeshHandle[V any] struct {
	pack uint32
	item uint32
}

func NewMeshHandle[V any](packIndex, itemIndex int) MeshHandle[V] {
	return MeshHandle[V]{pack: uint32(packIndex), item: uint32(itemIndex)}
}

func (h MeshHandle[V]) Pack() int { return int(h.pack) }
func (h MeshHandle[V]) Item() int { return int(h.item) }

// Uint64 flattens the handle for cheap storage in scene data: pack index in the top 32
// bits, item index in the bottom 32.
func (h MeshHandle[V]) Uint64() uint64 {
	return uint64(h.pack)<<32 | uint64(h.item)
}

func MeshHandleFromUint64[V any](value uint64) MeshHandle[V] {
	return MeshHandle[V]{pack: uint32(value >> 32), item: uint32(value)}
}

// MaterialHandle identifies one material within a material pack, with the same encoding
// as MeshHandle.
type MaterialHandle[M any] struct {
	pack uint32
	item uint32
}

func NewMaterialHandle[M any](packIndex, itemIndex int) MaterialHandle[M] {
	return MaterialHandle[M]{pack: uint32(packIndex), item: uint32(itemIndex)}
}

func (h MaterialHandle[M]) Pack() int { return int(h.pack) }
func (h MaterialHandle[M]) Item() int { return int(h.item) }

func (h MaterialHandle[M]) Uint64() uint64 {
	return uint64(h.pack)<<32 | uint64(h.item)
}

func MaterialHandleFromUint64[M any](value uint64) MaterialHandle[M] {
	return MaterialHandle[M]{pack: uint32(value >> 32), item: uint32(value)}
}
