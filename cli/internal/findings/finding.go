// Package findings defines the security finding model loaded from a scan
// report, the two accepted report payload shapes, and the pure filter
// engine used by the triage session.
package findings

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Severity is the raw severity reported by the scanner. Values outside the
// known set are kept verbatim so they still count toward totals.
type Severity string

const (
	SeverityBlocker  Severity = "BLOCKER"
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityInfo     Severity = "INFO"
)

// Severities lists the known raw severities from most to least severe.
var Severities = []Severity{SeverityBlocker, SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo}

// Known reports whether s is one of the five scanner severities.
func (s Severity) Known() bool {
	for _, k := range Severities {
		if s == k {
			return true
		}
	}
	return false
}

// LineNumber is an optional 1-based line. It unmarshals from a JSON number or
// a numeric string; null, "" and non-numeric strings leave it unknown.
type LineNumber int

// UnmarshalJSON implements json.Unmarshaler.
func (l *LineNumber) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*l = LineNumber(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		*l = LineNumber(n)
	}
	return nil
}

// AISuggestion is the remediation text returned by the suggestion backend
// for one finding, plus its usage metadata. Result is the backend's
// analysisResult verbatim (plain text or a JSON document).
type AISuggestion struct {
	Result           string `json:"result"`
	TokensUsed       int    `json:"tokensUsed,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs,omitempty"`
	ModelUsed        string `json:"modelUsed,omitempty"`
}

// Finding is one reported security issue. Everything except AISuggestion
// is fixed once the report is loaded.
type Finding struct {
	ID             string      `json:"id,omitempty"`
	Severity       Severity    `json:"severity"`
	Title          string      `json:"title,omitempty"`
	RuleName       string      `json:"ruleName,omitempty"`
	Description    string      `json:"description,omitempty"`
	FilePath       string      `json:"filePath,omitempty"`
	LineNumber     *LineNumber `json:"lineNumber,omitempty"`
	OwaspCategory  string      `json:"owaspCategory,omitempty"`
	OwaspVersion   string      `json:"owaspVersion,omitempty"`
	CweIDs         []string    `json:"cweIds,omitempty"`
	CweID          string      `json:"cweId,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	CodeSnippet    string      `json:"codeSnippet,omitempty"`
	Recommendation string      `json:"recommendation,omitempty"`
	FixSuggestion  string      `json:"fixSuggestion,omitempty"`

	AISuggestion *AISuggestion `json:"aiSuggestion,omitempty"`
}

// DisplayTitle returns RuleName when present, otherwise Title.
func (f *Finding) DisplayTitle() string {
	if f.RuleName != "" {
		return f.RuleName
	}
	return f.Title
}

// PrimaryCWE returns the first entry of CweIDs, falling back to the legacy
// singular CweID field.
func (f *Finding) PrimaryCWE() string {
	if len(f.CweIDs) > 0 {
		return f.CweIDs[0]
	}
	return f.CweID
}

// Line returns the line number and whether it is known.
func (f *Finding) Line() (int, bool) {
	if f.LineNumber == nil || *f.LineNumber <= 0 {
		return 0, false
	}
	return int(*f.LineNumber), true
}

// Clone returns a copy of f that shares no slices or pointers with it.
func (f Finding) Clone() Finding {
	out := f
	if f.LineNumber != nil {
		n := *f.LineNumber
		out.LineNumber = &n
	}
	if f.CweIDs != nil {
		out.CweIDs = append([]string(nil), f.CweIDs...)
	}
	if f.Tags != nil {
		out.Tags = append([]string(nil), f.Tags...)
	}
	if f.AISuggestion != nil {
		s := *f.AISuggestion
		out.AISuggestion = &s
	}
	return out
}
