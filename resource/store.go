package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/arena"
	"github.com/vkngwrapper/forge/device"
)

// Raw is the closed set of resource kinds a Store can hold.
type Raw interface {
	RawMemory | RawBuffer | RawImage | RawImageView
	arena.Resource
}

// Store keeps one generational arena per raw resource kind. Push, Pop and Entry dispatch
// on the resource's static type, so callers only ever see indices typed by what they
// stored. Not safe for concurrent use.
type Store struct {
	memory  arena.Arena[RawMemory]
	buffers arena.Arena[RawBuffer]
	images  arena.Arena[RawImage]
	views   arena.Arena[RawImageView]
}

func arenaOf[T Raw](s *Store) *arena.Arena[T] {
	var zero T
	switch any(zero).(type) {
	case RawMemory:
		return any(&s.memory).(*arena.Arena[T])
	case RawBuffer:
		return any(&s.buffers).(*arena.Arena[T])
	case RawImage:
		return any(&s.images).(*arena.Arena[T])
	case RawImageView:
		return any(&s.views).(*arena.Arena[T])
	default:
		panic("resource kind without an arena")
	}
}

// Push stores a resource in the arena matching its kind.
func Push[T Raw](s *Store, value T) arena.Index[T] {
	return arenaOf[T](s).Push(value)
}

// Pop removes and returns a resource without releasing it; the caller takes ownership.
func Pop[T Raw](s *Store, index arena.Index[T]) (T, error) {
	return arenaOf[T](s).Pop(index)
}

// Entry returns the resource at the index.
func Entry[T Raw](s *Store, index arena.Index[T]) (T, error) {
	return arenaOf[T](s).Entry(index)
}

// EntryMut returns a pointer for in-place mutation, invalidated by the next Push of the
// same kind.
func EntryMut[T Raw](s *Store, index arena.Index[T]) (*T, error) {
	return arenaOf[T](s).EntryMut(index)
}

// Len returns the number of live resources across every kind.
func (s *Store) Len() int {
	return s.memory.Len() + s.buffers.Len() + s.images.Len() + s.views.Len()
}

// Destroy releases every live resource in dependency order: image views first, then
// images and buffers, then directly-owned memory. Failures do not stop the teardown; the
// combined error is returned once every arena has been swept.
func (s *Store) Destroy(dev device.Device) error {
	err := s.views.Destroy(dev)
	err = errors.CombineErrors(err, s.images.Destroy(dev))
	err = errors.CombineErrors(err, s.buffers.Destroy(dev))
	return errors.CombineErrors(err, s.memory.Destroy(dev))
}
