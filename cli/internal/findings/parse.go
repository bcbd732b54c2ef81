package findings

import (
	"bytes"
	"encoding/json"
)

type versionedReport struct {
	OwaspVersion string            `json:"owaspVersion"`
	Findings     []json.RawMessage `json:"findings"`
}

// ParsePayload normalizes a report payload into a flat list of findings in
// document order. Two shapes are accepted:
//
//	{"versions": [{"owaspVersion": "2021", "findings": [...]}, ...]}
//	{"findings": [...]}
//
// In the versioned shape each finding is tagged with its block's
// owaspVersion. Any other shape, including invalid JSON, yields an empty
// (non-nil) list: an unrecognized report means "no findings", not an error.
// Array elements that are not finding objects are skipped. Findings without
// an ID get a stable one from AssignIDs.
func ParsePayload(raw []byte) []Finding {
	out := []Finding{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return out
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return out
	}
	if v, ok := top["versions"]; ok && isArray(v) {
		var blocks []json.RawMessage
		if err := json.Unmarshal(v, &blocks); err != nil {
			return out
		}
		for _, b := range blocks {
			var block versionedReport
			if err := json.Unmarshal(b, &block); err != nil {
				continue
			}
			for _, rf := range block.Findings {
				f, ok := decodeFinding(rf)
				if !ok {
					continue
				}
				f.OwaspVersion = block.OwaspVersion
				out = append(out, f)
			}
		}
		return AssignIDs(out)
	}
	if v, ok := top["findings"]; ok && isArray(v) {
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err != nil {
			return out
		}
		for _, rf := range list {
			if f, ok := decodeFinding(rf); ok {
				out = append(out, f)
			}
		}
		return AssignIDs(out)
	}
	return out
}

// wireFinding mirrors Finding with lenient field types, so a mistyped
// optional field degrades to its zero value instead of dropping the finding.
type wireFinding struct {
	ID             looseString     `json:"id"`
	Severity       looseString     `json:"severity"`
	Title          looseString     `json:"title"`
	RuleName       looseString     `json:"ruleName"`
	Description    looseString     `json:"description"`
	FilePath       looseString     `json:"filePath"`
	LineNumber     *LineNumber     `json:"lineNumber"`
	OwaspCategory  looseString     `json:"owaspCategory"`
	OwaspVersion   looseString     `json:"owaspVersion"`
	CweIDs         looseStrings    `json:"cweIds"`
	CweID          looseString     `json:"cweId"`
	Tags           looseStrings    `json:"tags"`
	CodeSnippet    looseString     `json:"codeSnippet"`
	Recommendation looseString     `json:"recommendation"`
	FixSuggestion  looseString     `json:"fixSuggestion"`
	AISuggestion   json.RawMessage `json:"aiSuggestion"`
}

func decodeFinding(raw json.RawMessage) (Finding, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Finding{}, false
	}
	var w wireFinding
	if err := json.Unmarshal(raw, &w); err != nil {
		return Finding{}, false
	}
	f := Finding{
		ID:             string(w.ID),
		Severity:       Severity(w.Severity),
		Title:          string(w.Title),
		RuleName:       string(w.RuleName),
		Description:    string(w.Description),
		FilePath:       string(w.FilePath),
		LineNumber:     w.LineNumber,
		OwaspCategory:  string(w.OwaspCategory),
		OwaspVersion:   string(w.OwaspVersion),
		CweIDs:         []string(w.CweIDs),
		CweID:          string(w.CweID),
		Tags:           []string(w.Tags),
		CodeSnippet:    string(w.CodeSnippet),
		Recommendation: string(w.Recommendation),
		FixSuggestion:  string(w.FixSuggestion),
	}
	if len(w.AISuggestion) > 0 && w.AISuggestion[0] == '{' {
		var sug AISuggestion
		if err := json.Unmarshal(w.AISuggestion, &sug); err == nil {
			f.AISuggestion = &sug
		}
	}
	return f, true
}

// looseString takes a JSON string as-is and numbers or booleans as their
// literal text. Objects, arrays and null leave it empty.
type looseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch c := data[0]; {
	case c == '"':
		var v string
		if err := json.Unmarshal(data, &v); err == nil {
			*s = looseString(v)
		}
	case c == 't' || c == 'f' || c == '-' || (c >= '0' && c <= '9'):
		*s = looseString(data)
	}
	return nil
}

// looseStrings takes an array (non-empty loose elements kept) or a single
// string as a one-element list. Anything else leaves it nil.
type looseStrings []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *looseStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var v looseString
		_ = v.UnmarshalJSON(data)
		if v != "" {
			*l = looseStrings{string(v)}
		}
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil
		}
		var out looseStrings
		for _, e := range elems {
			var v looseString
			_ = v.UnmarshalJSON(e)
			if v != "" {
				out = append(out, string(v))
			}
		}
		*l = out
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
