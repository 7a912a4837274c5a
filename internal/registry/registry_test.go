package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateSlotGrowsMonotonicallyPerGroup(t *testing.T) {
	r := New()
	require.Equal(t, 0, r.AllocateSlot("default"))
	require.Equal(t, 1, r.AllocateSlot("default"))
	require.Equal(t, 2, r.AllocateSlot("default"))

	// A second group starts its own slot numbering at 0.
	require.Equal(t, 0, r.AllocateSlot("other"))
}

func TestAllocateSlotReusesFreedSlotsAscending(t *testing.T) {
	r := New()
	slot0 := r.AllocateSlot("g")
	slot1 := r.AllocateSlot("g")
	slot2 := r.AllocateSlot("g")

	r.Insert(&Child{TaskID: 1, Group: "g", Slot: slot0})
	r.Insert(&Child{TaskID: 2, Group: "g", Slot: slot1})
	r.Insert(&Child{TaskID: 3, Group: "g", Slot: slot2})

	r.Remove(2)
	r.Remove(1)

	// Freed slots come back out lowest-first, regardless of removal order.
	require.Equal(t, 0, r.AllocateSlot("g"))
	require.Equal(t, 1, r.AllocateSlot("g"))
	// Both free slots are now consumed; the next allocation mints a new one.
	require.Equal(t, 3, r.AllocateSlot("g"))
}

func TestInsertGetRemove(t *testing.T) {
	r := New()
	c := &Child{TaskID: 5, Group: "default", Slot: r.AllocateSlot("default")}
	r.Insert(c)

	got, ok := r.Get(5)
	require.True(t, ok)
	require.Same(t, c, got)

	r.Remove(5)
	_, ok = r.Get(5)
	require.False(t, ok)

	// Removing a taskID that was never inserted is a harmless no-op.
	r.Remove(999)
}

func TestCountGroupAndOfGroupAndAll(t *testing.T) {
	r := New()
	r.Insert(&Child{TaskID: 1, Group: "a", Slot: r.AllocateSlot("a")})
	r.Insert(&Child{TaskID: 2, Group: "a", Slot: r.AllocateSlot("a")})
	r.Insert(&Child{TaskID: 3, Group: "b", Slot: r.AllocateSlot("b")})

	require.Equal(t, 2, r.CountGroup("a"))
	require.Equal(t, 1, r.CountGroup("b"))
	require.Equal(t, 0, r.CountGroup("c"))

	require.Len(t, r.OfGroup("a"), 2)
	require.Len(t, r.All(), 3)
}

func TestHasActiveTasks(t *testing.T) {
	r := New()
	require.False(t, r.HasActiveTasks())

	r.Insert(&Child{TaskID: 1, Group: "default", Slot: r.AllocateSlot("default")})
	require.True(t, r.HasActiveTasks())

	r.Remove(1)
	require.False(t, r.HasActiveTasks())
}
