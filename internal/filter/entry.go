// Package filter selects update journal entries for display.
package filter

import (
	"path/filepath"
	"time"

	"github.com/dyluth/blur/internal/journal"
)

// Criteria defines filtering criteria for journal entries.
// All filters are ANDed together - an entry must match ALL criteria to pass.
type Criteria struct {
	Since      time.Time // Zero = no filter
	Until      time.Time // Zero = no filter
	TargetGlob string    // Glob pattern for the update target, empty = no filter
	FailedOnly bool      // Only updates that were rejected
}

// Matches returns true if the entry matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(e *journal.Entry) bool {
	if !c.Since.IsZero() && e.At.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && e.At.After(c.Until) {
		return false
	}

	// Method paths contain '/', which filepath.Match treats as a separator,
	// so "*.Button.*" only matches modules without a slash.
	if c.TargetGlob != "" {
		matched, err := filepath.Match(c.TargetGlob, e.Target)
		if err != nil || !matched {
			return false
		}
	}

	if c.FailedOnly && e.OK {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.TargetGlob != "" ||
		c.FailedOnly
}

// Apply returns the entries that match, keeping their order.
func (c *Criteria) Apply(entries []journal.Entry) []journal.Entry {
	out := make([]journal.Entry, 0, len(entries))
	for i := range entries {
		if c.Matches(&entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}
