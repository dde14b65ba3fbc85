package streamparser

import "encoding/json"

// jsonCompact renders args as compact JSON, used only to compute a stable
// textual representation for incremental delta diffing; the parsed
// map[string]any is what callers actually consume as tool-call arguments.
func jsonCompact(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
