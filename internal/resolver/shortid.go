// Package resolver resolves short update IDs against journal entries.
package resolver

import (
	"fmt"
	"strings"

	"github.com/dyluth/blur/internal/journal"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// ResolveEntry resolves a short ID prefix to the journal entry it names.
//
// The function handles three cases:
// 1. Input is already a full UUID (36 chars, 4 hyphens) - exact match only
// 2. Input is too short (< 6 chars) - returns validation error
// 3. Input is a short prefix - returns the unique entry it prefixes
func ResolveEntry(entries []journal.Entry, shortID string) (journal.Entry, error) {
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		for _, e := range entries {
			if e.ID == shortID {
				return e, nil
			}
		}
		return journal.Entry{}, &NotFoundError{ShortID: shortID}
	}

	if len(shortID) < MinShortIDLength {
		return journal.Entry{}, fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	var matches []journal.Entry
	for _, e := range entries {
		if strings.HasPrefix(e.ID, shortID) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return journal.Entry{}, &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return journal.Entry{}, &AmbiguousError{ShortID: shortID, Matches: ids}
	}
}

// NotFoundError indicates no entries matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no updates found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple entries matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d updates", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous short IDs.
// Lists all matching IDs (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("Short ID '%s' matches %d updates:\n", err.ShortID, len(err.Matches))

	displayCount := min(len(err.Matches), 10)
	for i := 0; i < displayCount; i++ {
		msg += fmt.Sprintf("  %s\n", err.Matches[i])
	}

	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	msg += "\nUse a longer prefix to uniquely identify the update."
	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
