// Package scanutil provides byte-level helpers for scanning a growing
// buffer for sentinel substrings without ever splitting a match across two
// Feed calls.
package scanutil

import "bytes"

// PotentialStartIndex returns the earliest index i such that text[i:] is a
// non-empty prefix of needle, i.e. the suffix of text that could be the
// start of a sentinel straddling the current chunk boundary. It returns
// (0, false) if no such suffix exists and there is no full match either.
//
// Callers use this to decide how much of a trailing buffer must be held
// back before it is safe to flush as plain text: anything before the
// returned index is guaranteed not to participate in a future sentinel
// match, anything at or after it might.
func PotentialStartIndex(text, needle []byte) (int, bool) {
	if len(needle) == 0 {
		return 0, false
	}

	if idx := bytes.Index(text, needle); idx != -1 {
		return idx, true
	}

	maxOverlap := len(needle) - 1
	if maxOverlap > len(text) {
		maxOverlap = len(text)
	}

	for overlap := maxOverlap; overlap > 0; overlap-- {
		suffix := text[len(text)-overlap:]
		if bytes.HasPrefix(needle, suffix) {
			return len(text) - overlap, true
		}
	}

	return 0, false
}

// Match describes one sentinel candidate found by ScanSentinels.
type Match struct {
	Index int    // byte offset in buf where the sentinel starts (or could start)
	Which int    // index into the sentinels slice
	Full  bool   // true if the whole sentinel matched; false if only a prefix overlapped the buffer tail
	Text  []byte // the sentinel bytes
}

// ScanSentinels finds the earliest candidate match (full or partial-overlap)
// among sentinels in buf. Ties at the same index are broken by picking the
// sentinel that sorts first lexicographically, so the result is
// deterministic regardless of the order callers pass sentinels in.
func ScanSentinels(buf []byte, sentinels [][]byte) (Match, bool) {
	best := Match{Index: -1}

	for i, s := range sentinels {
		idx, ok := PotentialStartIndex(buf, s)
		if !ok {
			continue
		}

		full := bytes.HasPrefix(buf[idx:], s) && idx+len(s) <= len(buf)

		if best.Index == -1 || idx < best.Index ||
			(idx == best.Index && bytes.Compare(s, best.Text) < 0) {
			best = Match{Index: idx, Which: i, Full: full, Text: s}
		}
	}

	if best.Index == -1 {
		return Match{}, false
	}

	return best, true
}
