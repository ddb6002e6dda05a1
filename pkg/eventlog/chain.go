package eventlog

import (
	"fmt"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/canonical"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// VerifyEvents walks a slice of events in order and checks both link
// continuity and each recomputed hash. It works on exported streams as
// well as live arenas; the first event's PrevHash is accepted as-is
// since exports may start mid-chain after eviction.
func VerifyEvents(events []contracts.ExecutionEvent) (bool, string) {
	prevHash := ""
	for i, ev := range events {
		if i > 0 && ev.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at sequence %d: prev hash mismatch", ev.SequenceID)
		}
		computed, err := canonical.EventHash(ev.PrevHash, ev.SequenceID, ev.RequestID, ev.Type, ev.Payload, ev.Timestamp)
		if err != nil {
			return false, fmt.Sprintf("cannot recompute hash at sequence %d", ev.SequenceID)
		}
		if computed != ev.EventHash {
			return false, fmt.Sprintf("hash mismatch at sequence %d", ev.SequenceID)
		}
		prevHash = ev.EventHash
	}
	return true, "chain verified"
}
