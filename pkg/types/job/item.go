// Package job defines the plain data exchanged with the batch engine: the
// items callers submit, the configuration of a run, and the results,
// progress snapshots and summaries the engine hands back.
package job

// Item is one unit of work. Items are read-only once submitted.
type Item struct {
	// ID is unique within a run and is the result-cache key.
	ID string `json:"id"`
	// PayloadRef points at the external input, e.g. "bucket/object" in
	// object storage. The engine never dereferences it.
	PayloadRef string `json:"payload_ref"`
	// Priority orders items before chunking; see PriorityMode.
	Priority float64 `json:"priority"`
	// Metadata is passed through to the processor untouched.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PriorityMode selects how items are ordered before chunking.
type PriorityMode string

const (
	// PrioritySpeed processes the highest priority first.
	PrioritySpeed PriorityMode = "speed"
	// PriorityQuality processes the lowest priority first. It reads the same
	// field as PrioritySpeed in the opposite direction.
	PriorityQuality PriorityMode = "quality"
	// PriorityBalanced shuffles items so no priority class is favoured.
	PriorityBalanced PriorityMode = "balanced"
)

// Valid reports whether m is a known mode.
func (m PriorityMode) Valid() bool {
	switch m {
	case PrioritySpeed, PriorityQuality, PriorityBalanced:
		return true
	default:
		return false
	}
}

func (m PriorityMode) String() string { return string(m) }
