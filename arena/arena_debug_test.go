//go:build debug_forge

package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/forge/arena"
	"github.com/vkngwrapper/forge/device/devicetest"
)

func TestArenaDoubleDestroyPanicsInDebug(t *testing.T) {
	fake := devicetest.NewFake()

	var a arena.Arena[testResource]
	a.Push(testResource{Name: "a"})

	require.NoError(t, a.Destroy(fake))
	require.Panics(t, func() {
		_ = a.Destroy(fake)
	})
}
