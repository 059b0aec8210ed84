package fsm

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// idempotencyKey digests (machineID, version) so a downstream consumer of
// the transition log can de-duplicate at-least-once redelivery without a
// second authoritative source (spec.md §1 Non-goals).
func idempotencyKey(machineID string, version uint64) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s:%d", machineID, version)))
	return hex.EncodeToString(sum[:16])
}
