package pack

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/resource"
)

// List holds every pack a load produced, type-erased. It is built once by a Builder and
// mutated only by destruction.
type List struct {
	packs []Erased
}

// Len returns the number of packs in the list.
func (l *List) Len() int {
	return len(l.packs)
}

// At returns the erased pack at a pack index.
func (l *List) At(index int) Erased {
	return l.packs[index]
}

// TryGet returns the first pack in the list whose type is exactly P, or false when no
// pack of that type was loaded.
func TryGet[P Pack](l *List) (P, bool) {
	for _, erased := range l.packs {
		p, err := Downcast[P](erased)
		if err == nil {
			return p, true
		}
	}
	var zero P
	return zero, false
}

// Destroy tears down every pack in reverse load order, so packs built against earlier
// packs' objects go first. Failures do not stop the sweep.
func (l *List) Destroy(dev device.Device, store *resource.Store) error {
	var err error
	for i := len(l.packs) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, l.packs[i].destroy(dev, store))
	}
	l.packs = nil
	return err
}
