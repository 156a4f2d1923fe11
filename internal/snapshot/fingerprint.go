package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint returns the deterministic digest that identifies the state a
// snapshot describes. The snapshot is serialized in canonical form first:
// struct fields marshal in declaration order and encoding/json emits map
// keys sorted, so two structurally identical snapshots always serialize to
// the same bytes regardless of how their attribute maps were built.
//
// Only the structural description is hashed. Visual signals such as the
// screenshot digest stay out on purpose: non-deterministic rendering
// (animations, font loading, ads) would fragment one logical state into
// many.
func Fingerprint(s Snapshot) string {
	raw, err := json.Marshal(s)
	if err != nil {
		// Snapshot contains only strings, ints and string maps; Marshal
		// cannot fail on it.
		panic("snapshot: marshal canonical form: " + err.Error())
	}
	return hashBytes(raw)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
