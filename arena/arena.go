// Package arena provides a generational arena for device-owned resources. Slots are
// reused after removal, and every reuse bumps the slot's generation so indices into a
// previous occupant can never silently alias the new one.
package arena

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/device"
	"github.com/vkngwrapper/forge/memutils"
)

// StaleIndexError is returned when an Index refers to a slot whose occupant has been
// removed, whether or not the slot has since been reused.
var StaleIndexError = errors.New("stale arena index")

// Resource is anything an Arena can own. Release destroys the resource's device objects;
// the arena calls it for every live entry during Destroy.
type Resource interface {
	Release(dev device.Device) error
}

// Index is a handle into an Arena[T]. It is only meaningful for the arena that issued it.
// The zero Index is never issued and always resolves as stale.
type Index[T Resource] struct {
	slot       int32
	generation uint32
}

// IsZero reports whether this is the never-issued zero Index.
func (i Index[T]) IsZero() bool {
	return i.generation == 0
}

type slot[T Resource] struct {
	value T
	// starts at 1 and increments when the occupant is removed
	generation uint32
	live       bool
}

// Arena is a generational arena owning resources of one concrete type. The zero value is
// ready to use. Arenas are not safe for concurrent use.
type Arena[T Resource] struct {
	slots     []slot[T]
	free      []int32
	liveCount int
	destroyed bool
}

// Push adds a resource and returns its index, reusing the oldest free slot if one exists.
func (a *Arena[T]) Push(value T) Index[T] {
	if len(a.free) > 0 {
		slotIndex := a.free[0]
		a.free = a.free[1:]
		a.slots[slotIndex].value = value
		a.slots[slotIndex].live = true
		a.liveCount++
		return Index[T]{slot: slotIndex, generation: a.slots[slotIndex].generation}
	}

	a.slots = append(a.slots, slot[T]{value: value, generation: 1, live: true})
	a.liveCount++
	return Index[T]{slot: int32(len(a.slots) - 1), generation: 1}
}

// Entry returns the resource at the index. A removed or reused slot fails with
// StaleIndexError.
func (a *Arena[T]) Entry(index Index[T]) (T, error) {
	entry, err := a.resolve(index)
	if err != nil {
		var empty T
		return empty, err
	}
	return entry.value, nil
}

// EntryMut returns a pointer to the resource at the index so the caller can mutate it in
// place. The pointer is invalidated by the next Push.
func (a *Arena[T]) EntryMut(index Index[T]) (*T, error) {
	entry, err := a.resolve(index)
	if err != nil {
		return nil, err
	}
	return &entry.value, nil
}

func (a *Arena[T]) resolve(index Index[T]) (*slot[T], error) {
	if index.slot < 0 || int(index.slot) >= len(a.slots) {
		return nil, errors.Wrapf(StaleIndexError, "slot %d is out of range", index.slot)
	}
	entry := &a.slots[index.slot]
	if !entry.live || entry.generation != index.generation {
		return nil, errors.Wrapf(StaleIndexError, "slot %d generation %d (index carries %d)",
			index.slot, entry.generation, index.generation)
	}
	return entry, nil
}

// Pop removes the resource at the index and returns it without releasing it; the caller
// takes ownership. The slot's generation is bumped and the slot becomes reusable.
func (a *Arena[T]) Pop(index Index[T]) (T, error) {
	entry, err := a.resolve(index)
	if err != nil {
		var empty T
		return empty, err
	}

	value := entry.value
	var empty T
	entry.value = empty
	entry.live = false
	entry.generation++
	a.free = append(a.free, index.slot)
	a.liveCount--
	return value, nil
}

// Len returns the number of live resources.
func (a *Arena[T]) Len() int {
	return a.liveCount
}

// Each calls visit for every live resource in slot order.
func (a *Arena[T]) Each(visit func(value *T)) {
	for slotIndex := range a.slots {
		if a.slots[slotIndex].live {
			visit(&a.slots[slotIndex].value)
		}
	}
}

// Validate returns an error if the arena was already destroyed.
func (a *Arena[T]) Validate() error {
	if a.destroyed {
		return errors.New("arena destroyed twice")
	}
	return nil
}

// Destroy releases every live resource in slot order and empties the arena. Release
// failures do not stop the sweep; the combined error is returned after everything has
// been visited.
func (a *Arena[T]) Destroy(dev device.Device) error {
	memutils.DebugValidate(a)
	err := a.Validate()
	if err != nil {
		return err
	}

	for slotIndex := range a.slots {
		entry := &a.slots[slotIndex]
		if !entry.live {
			continue
		}
		err = errors.CombineErrors(err, entry.value.Release(dev))
		var empty T
		entry.value = empty
		entry.live = false
		entry.generation++
	}

	a.slots = nil
	a.free = nil
	a.liveCount = 0
	a.destroyed = true
	return err
}
