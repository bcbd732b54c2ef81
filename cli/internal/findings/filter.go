package findings

import (
	"sort"
	"strings"
)

// Criteria narrows a finding list. Each empty field places no constraint on
// its axis; set fields are AND-combined. A Criteria value is replaced as a
// whole when the operator applies new filters.
type Criteria struct {
	Severity            Severity `json:"severity,omitempty"`
	OwaspCategoryPrefix string   `json:"owaspCategory,omitempty"`
	FilePath            string   `json:"filePath,omitempty"`
	SearchText          string   `json:"searchText,omitempty"`
}

// IsZero reports whether c constrains nothing.
func (c Criteria) IsZero() bool {
	return c == Criteria{}
}

// Matches reports whether f satisfies every set field of c:
//   - Severity: exact equality with the raw severity.
//   - OwaspCategoryPrefix: case-sensitive prefix of the finding's category;
//     a finding without a category never matches.
//   - FilePath: exact equality.
//   - SearchText: case-insensitive substring of title, description, primary
//     CWE and category joined by spaces.
func (c Criteria) Matches(f *Finding) bool {
	if c.Severity != "" && f.Severity != c.Severity {
		return false
	}
	if c.OwaspCategoryPrefix != "" {
		if f.OwaspCategory == "" || !strings.HasPrefix(f.OwaspCategory, c.OwaspCategoryPrefix) {
			return false
		}
	}
	if c.FilePath != "" && f.FilePath != c.FilePath {
		return false
	}
	if c.SearchText != "" {
		haystack := strings.ToLower(strings.Join([]string{
			f.Title, f.Description, f.PrimaryCWE(), f.OwaspCategory,
		}, " "))
		if !strings.Contains(haystack, strings.ToLower(c.SearchText)) {
			return false
		}
	}
	return true
}

// Filter returns the findings in list that match c, in their original order.
// The result never aliases list's backing array.
func Filter(list []Finding, c Criteria) []Finding {
	out := make([]Finding, 0, len(list))
	for i := range list {
		if c.Matches(&list[i]) {
			out = append(out, list[i])
		}
	}
	return out
}

// FilterPositions is Filter but returns the positions in list of the
// matching findings instead of copies.
func FilterPositions(list []Finding, c Criteria) []int {
	out := make([]int, 0, len(list))
	for i := range list {
		if c.Matches(&list[i]) {
			out = append(out, i)
		}
	}
	return out
}

// DistinctFilePaths returns the unique file paths in list, sorted. Findings
// without a file path contribute nothing.
func DistinctFilePaths(list []Finding) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, f := range list {
		if f.FilePath == "" {
			continue
		}
		if _, ok := seen[f.FilePath]; ok {
			continue
		}
		seen[f.FilePath] = struct{}{}
		out = append(out, f.FilePath)
	}
	sort.Strings(out)
	return out
}
