// Package idgen generates stable, process-unique identifiers for tool
// calls and stream parts, mirroring the "chatcmpl-tool-" + short-uuid shape
// used by LLM proxy implementations in this codebase's lineage.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

var counter atomic.Uint64

// ToolCallID returns a new identifier for a tool call: "call_" followed by
// the first 12 characters of a random UUID string (8 hex digits, a dash,
// then 3 hex digits).
func ToolCallID() string {
	return "call_" + uuid.New().String()[:12]
}

// PartID returns a new identifier for a stream part (text block, tool-input
// block, …), distinguished from tool-call IDs by prefix and additionally
// salted with a monotonic counter so ordering is recoverable from the ID
// alone in tests and logs.
func PartID() string {
	n := counter.Add(1)
	return fmt.Sprintf("part_%d_%s", n, uuid.New().String()[:8])
}
