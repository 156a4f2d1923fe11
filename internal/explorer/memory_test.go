package explorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMemoryRecordAndAttempted(t *testing.T) {
	m := NewStateMemory()

	require.Equal(t, 0, m.Attempted("fp1").Cardinality())

	m.Record("fp1", 3)
	m.Record("fp1", 5)
	m.Record("fp1", 3) // duplicate
	m.Record("fp2", 3)

	assert.True(t, m.Attempted("fp1").Contains(3))
	assert.True(t, m.Attempted("fp1").Contains(5))
	assert.False(t, m.Attempted("fp1").Contains(4))
	assert.Equal(t, 2, m.Attempted("fp1").Cardinality())

	// Memory is keyed by fingerprint; states do not bleed into each other.
	assert.Equal(t, 1, m.Attempted("fp2").Cardinality())
	assert.Equal(t, 3, m.Interactions())
}

func TestStateMemoryMonotonic(t *testing.T) {
	m := NewStateMemory()
	prev := 0
	for id := 0; id < 20; id++ {
		m.Record("fp", id%7)
		size := m.Attempted("fp").Cardinality()
		require.GreaterOrEqual(t, size, prev, "attempted set must never shrink")
		prev = size
	}
	assert.Equal(t, 7, prev)
}
