// Package filter removes reasoning regions delimited by <think> and
// </think> markers from model output.
//
// Reasoning-tuned models interleave internal deliberation with the visible
// answer; the markers form a control sub-language that must never reach
// clients or session history. Stream handles the incremental case where
// markers may be split arbitrarily across delivery chunks; Strip is the
// one-shot equivalent for fully materialized text. Both agree byte-for-byte
// on any complete input.
package filter

import "strings"

// Marker strings, matched exactly as the models emit them.
const (
	startMarker = "<think>"
	endMarker   = "</think>"
)

// Stream incrementally filters marked regions out of a fragment sequence.
//
// State is scoped to exactly one generation call: create with NewStream,
// feed every raw fragment through Process, and call Flush exactly once
// after the final fragment. Not safe for concurrent use; a generation
// call owns its Stream exclusively.
type Stream struct {
	// pending holds text that cannot be classified yet: outside a region
	// it is a suffix that matches a proper prefix of the start marker;
	// inside a region it is a suffix that matches a proper prefix of the
	// end marker. Bounded by the marker lengths.
	pending string

	// inThink reports whether the scan position is inside a marked region.
	inThink bool

	// trimLeading strips the whitespace run immediately after an end
	// marker, so "thinking, then answer" does not leave a stray newline
	// before visible text. Never set at stream start.
	trimLeading bool
}

// NewStream creates a filter for a single generation call.
func NewStream() *Stream {
	return &Stream{}
}

// Process consumes the next raw fragment and returns the portion of
// buffered plus new text that is confirmed to lie outside any marked
// region and confirmed not to be a partial start marker. Fragments may be
// arbitrarily small; the returned text may be empty.
func (s *Stream) Process(fragment string) string {
	buf := s.pending + fragment
	s.pending = ""

	var out strings.Builder
	for buf != "" {
		if s.inThink {
			idx := strings.Index(buf, endMarker)
			if idx < 0 {
				// Region content is discarded, not withheld. Only a tail
				// that could complete into the end marker survives.
				s.pending = markerTail(buf, endMarker)
				return out.String()
			}
			buf = buf[idx+len(endMarker):]
			s.inThink = false
			s.trimLeading = true
			continue
		}

		if s.trimLeading {
			trimmed := strings.TrimLeft(buf, " \t\r\n")
			if trimmed == "" {
				// Whole buffer is the whitespace run; keep trimming on
				// the next fragment.
				return out.String()
			}
			buf = trimmed
			s.trimLeading = false
		}

		idx := strings.Index(buf, startMarker)
		if idx < 0 {
			keep := markerTail(buf, startMarker)
			out.WriteString(buf[:len(buf)-len(keep)])
			s.pending = keep
			return out.String()
		}
		out.WriteString(buf[:idx])
		buf = buf[idx+len(startMarker):]
		s.inThink = true
	}
	return out.String()
}

// Flush releases or discards whatever Process withheld. Call exactly once
// after the final fragment. Inside an unterminated region the pending
// text is part of the suppressed region and is dropped; outside, the
// withheld suffix never completed into a marker and was always safe text.
func (s *Stream) Flush() string {
	pending := s.pending
	s.pending = ""
	if s.inThink {
		return ""
	}
	return pending
}

// markerTail returns the longest suffix of buf that is a non-empty proper
// prefix of marker, or "" when no suffix could grow into the marker.
func markerTail(buf, marker string) string {
	max := len(marker) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(buf, marker[:k]) {
			return marker[:k]
		}
	}
	return ""
}
