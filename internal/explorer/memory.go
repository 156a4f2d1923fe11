package explorer

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// StateMemory tracks, per state fingerprint, which element ids have already
// been attempted there. It grows monotonically over a run and is never
// persisted: element ids are only stable within one run's snapshots.
//
// Keying by fingerprint rather than raw snapshot content means two visits to
// a structurally identical view share memory even when incidental content
// differs.
type StateMemory struct {
	states map[string]mapset.Set[int]
}

func NewStateMemory() *StateMemory {
	return &StateMemory{states: make(map[string]mapset.Set[int])}
}

// Record marks an element id as attempted in the given state.
func (m *StateMemory) Record(fingerprint string, id int) {
	m.set(fingerprint).Add(id)
}

// Attempted returns the live set of attempted ids for a state, creating an
// empty set on first sight.
func (m *StateMemory) Attempted(fingerprint string) mapset.Set[int] {
	return m.set(fingerprint)
}

// Interactions is the total number of distinct (state, element) pairs
// attempted across the run.
func (m *StateMemory) Interactions() int {
	total := 0
	for _, ids := range m.states {
		total += ids.Cardinality()
	}
	return total
}

func (m *StateMemory) set(fingerprint string) mapset.Set[int] {
	ids, ok := m.states[fingerprint]
	if !ok {
		ids = mapset.NewSet[int]()
		m.states[fingerprint] = ids
	}
	return ids
}
