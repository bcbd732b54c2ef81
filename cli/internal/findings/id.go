// Stable finding IDs and Git-style short ID display/prefix resolution.

package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// ShortIDDisplayLen is the number of hex characters shown for finding IDs in list output.
	ShortIDDisplayLen = 7
	// MinPrefixLen is the minimum number of characters accepted when resolving a finding by ID prefix.
	MinPrefixLen = 4
)

// StableID returns a deterministic ID for a finding from its location and
// display title. Unknown lines hash as line 0; title whitespace is collapsed
// so reformatted rule names keep their ID.
func StableID(f *Finding) string {
	line, _ := f.Line()
	title := strings.Join(strings.Fields(f.DisplayTitle()), " ")
	key := f.FilePath + ":" + strconv.Itoa(line) + ":" + f.OwaspCategory + ":" + title
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// AssignIDs sets ID on every finding that lacks one and returns list.
func AssignIDs(list []Finding) []Finding {
	for i := range list {
		if list[i].ID == "" {
			list[i].ID = StableID(&list[i])
		}
	}
	return list
}

// ShortID returns an abbreviated form of id for human-facing display.
func ShortID(id string) string {
	if len(id) <= ShortIDDisplayLen {
		return id
	}
	return id[:ShortIDDisplayLen]
}

// ErrFindingIDTooShort is returned when the prefix length is below MinPrefixLen.
var ErrFindingIDTooShort = errors.New("finding id must be at least 4 characters")

// ResolveIDPrefix returns the position in list of the single finding whose
// ID starts with prefix (case-insensitive). Duplicate findings share an ID;
// the first occurrence wins for those.
func ResolveIDPrefix(list []Finding, prefix string) (int, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return -1, errors.New("finding id is required")
	}
	if len(prefix) < MinPrefixLen {
		return -1, ErrFindingIDTooShort
	}
	found := -1
	var foundID string
	for i, f := range list {
		if f.ID == "" || !strings.HasPrefix(strings.ToLower(f.ID), prefix) {
			continue
		}
		if found >= 0 && f.ID != foundID {
			return -1, fmt.Errorf("ambiguous id %q; use more characters", prefix)
		}
		if found < 0 {
			found, foundID = i, f.ID
		}
	}
	if found < 0 {
		return -1, fmt.Errorf("no finding with id %q", prefix)
	}
	return found, nil
}
