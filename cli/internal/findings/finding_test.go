package findings

import (
	"encoding/json"
	"testing"
)

func TestFinding_DisplayTitle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    Finding
		want string
	}{
		{name: "title_only", f: Finding{Title: "SQL Injection"}, want: "SQL Injection"},
		{name: "rule_name_wins", f: Finding{Title: "SQL Injection", RuleName: "java:S3649"}, want: "java:S3649"},
		{name: "neither", f: Finding{}, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.f.DisplayTitle(); got != tt.want {
				t.Errorf("DisplayTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFinding_PrimaryCWE(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    Finding
		want string
	}{
		{name: "list_first", f: Finding{CweIDs: []string{"CWE-89", "CWE-564"}}, want: "CWE-89"},
		{name: "list_over_legacy", f: Finding{CweIDs: []string{"CWE-79"}, CweID: "CWE-89"}, want: "CWE-79"},
		{name: "legacy_only", f: Finding{CweID: "CWE-798"}, want: "CWE-798"},
		{name: "empty_list_falls_back", f: Finding{CweIDs: []string{}, CweID: "CWE-22"}, want: "CWE-22"},
		{name: "none", f: Finding{}, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.f.PrimaryCWE(); got != tt.want {
				t.Errorf("PrimaryCWE() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineNumber_UnmarshalJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     string
		wantLine  int
		wantKnown bool
	}{
		{name: "number", input: `{"lineNumber": 45}`, wantLine: 45, wantKnown: true},
		{name: "numeric_string", input: `{"lineNumber": "12"}`, wantLine: 12, wantKnown: true},
		{name: "null", input: `{"lineNumber": null}`, wantKnown: false},
		{name: "absent", input: `{}`, wantKnown: false},
		{name: "garbage_string", input: `{"lineNumber": "n/a"}`, wantKnown: false},
		{name: "zero", input: `{"lineNumber": 0}`, wantKnown: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var f Finding
			if err := json.Unmarshal([]byte(tt.input), &f); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			line, known := f.Line()
			if known != tt.wantKnown || line != tt.wantLine {
				t.Errorf("Line() = (%d, %v), want (%d, %v)", line, known, tt.wantLine, tt.wantKnown)
			}
		})
	}
}

func TestSeverity_Known(t *testing.T) {
	t.Parallel()
	for _, s := range Severities {
		if !s.Known() {
			t.Errorf("%q.Known() = false", s)
		}
	}
	for _, s := range []Severity{"", "HIGH", "major", "UNKNOWN"} {
		if s.Known() {
			t.Errorf("%q.Known() = true", s)
		}
	}
}

func TestFinding_Clone_isDeep(t *testing.T) {
	t.Parallel()
	n := LineNumber(3)
	orig := Finding{
		LineNumber:   &n,
		CweIDs:       []string{"CWE-1"},
		Tags:         []string{"a"},
		AISuggestion: &AISuggestion{Result: "fix"},
	}
	c := orig.Clone()
	*c.LineNumber = 9
	c.CweIDs[0] = "CWE-2"
	c.Tags[0] = "b"
	c.AISuggestion.Result = "other"
	if *orig.LineNumber != 3 || orig.CweIDs[0] != "CWE-1" || orig.Tags[0] != "a" || orig.AISuggestion.Result != "fix" {
		t.Errorf("Clone shares state with original: %+v", orig)
	}
}

func TestSampleFindings(t *testing.T) {
	t.Parallel()
	a := SampleFindings()
	if len(a) != 2 {
		t.Fatalf("len = %d, want 2", len(a))
	}
	for _, f := range a {
		if f.ID == "" {
			t.Errorf("sample finding %q has no ID", f.Title)
		}
	}
	a[0].Title = "mutated"
	if b := SampleFindings(); b[0].Title == "mutated" {
		t.Error("SampleFindings returned shared state")
	}
}
