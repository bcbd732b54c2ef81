package suggest

import (
	"encoding/json"
	"strings"
)

// Result is a retrieved suggestion. Raw is always the analysisResult text
// as received; Structured is set when Raw is a JSON object with a summary or
// issues.
type Result struct {
	Raw              string      `json:"raw"`
	Structured       *Structured `json:"structured,omitempty"`
	TokensUsed       int         `json:"tokensUsed,omitempty"`
	ProcessingTimeMs int64       `json:"processingTimeMs,omitempty"`
	ModelUsed        string      `json:"modelUsed,omitempty"`
}

// Structured is the JSON form of an analysis result.
type Structured struct {
	Summary string  `json:"summary,omitempty"`
	Issues  []Issue `json:"issues,omitempty"`
}

// Issue is one problem reported by the analysis.
type Issue struct {
	Severity       string       `json:"severity,omitempty"`
	OwaspCategory  string       `json:"owaspCategory,omitempty"`
	CweID          string       `json:"cweId,omitempty"`
	Description    string       `json:"description,omitempty"`
	FixSuggestion  string       `json:"fixSuggestion,omitempty"`
	CodeExample    *CodeExample `json:"codeExample,omitempty"`
	EffortEstimate string       `json:"effortEstimate,omitempty"`
}

// CodeExample shows vulnerable code and its fix.
type CodeExample struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// ParseResult interprets analysisResult. Text that is not a JSON object, or
// an object with neither summary nor issues, is plain text.
func ParseResult(analysisResult string) Result {
	r := Result{Raw: analysisResult}
	trimmed := strings.TrimSpace(analysisResult)
	if !strings.HasPrefix(trimmed, "{") {
		return r
	}
	var s Structured
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
		return r
	}
	if s.Summary == "" && len(s.Issues) == 0 {
		return r
	}
	r.Structured = &s
	return r
}

// IsStructured reports whether r carries a parsed analysis.
func (r Result) IsStructured() bool { return r.Structured != nil }
