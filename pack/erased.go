// Package pack groups many logical resources of one kind (meshes of one vertex format,
// materials of one uniform format, one shader program) behind a single backing allocation,
// then erases each group's static type so heterogeneous packs can live in one flat list.
// Recovering a typed pack from the list is always a checked downcast; the same storage
// layout underlies every static type, so an unchecked reinterpretation would be memory
// corruption waiting to happen.
package pack

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/resource"
)

// InvalidTypeError is returned when a downcast's requested type does not match the type a
// pack was erased from.
var InvalidTypeError = errors.New("pack type mismatch")

// Pack is implemented by every typed pack in this package. The only shared behavior is
// teardown; everything else is recovered through Downcast.
type Pack interface {
	// Destroy releases the pack's device objects and backing allocations as a unit.
	Destroy(dev device.Device, store *resource.Store) error
}

// Erased is a pack with its static type replaced by a runtime identity tag.
type Erased struct {
	tag  reflect.Type
	pack Pack
}

// Erase discards a pack's static type, capturing its runtime identity for later checked
// recovery.
func Erase(p Pack) Erased {
	return Erased{tag: reflect.TypeOf(p), pack: p}
}

// Type returns the runtime identity of the erased pack.
func (e Erased) Type() reflect.Type {
	return e.tag
}

// Downcast recovers the typed pack if and only if P matches the type the pack was erased
// from; otherwise it fails with InvalidTypeError.
func Downcast[P Pack](erased Erased) (P, error) {
	p, ok := erased.pack.(P)
	if !ok {
		var zero P
		return zero, errors.Wrapf(InvalidTypeError, "pack holds %v, requested %v",
			erased.tag, reflect.TypeOf(&zero).Elem())
	}
	return p, nil
}

func (e Erased) destroy(dev device.Device, store *resource.Store) error {
	return e.pack.Destroy(dev, store)
}
