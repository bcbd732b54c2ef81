package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"aiowasp/cli/internal/erruser"
	"aiowasp/cli/internal/findings"
	"aiowasp/cli/internal/stats"
	"aiowasp/cli/internal/suggest"
	"aiowasp/cli/internal/taxonomy"
)

const notAvailable = "N/A"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return erruser.New("Could not write output.", err)
	}
	return nil
}

// writeFindingsJSON writes {"findings": [...]} to w.
func writeFindingsJSON(w io.Writer, list []findings.Finding) error {
	return writeJSON(w, struct {
		Findings []findings.Finding `json:"findings"`
	}{Findings: list})
}

// writeFindingsHuman writes one line per finding: index  id  severity  file:line  title,
// then a count line.
func writeFindingsHuman(w io.Writer, list []findings.Finding, total int) error {
	for i := range list {
		f := &list[i]
		loc := f.FilePath
		if line, ok := f.Line(); ok {
			loc = fmt.Sprintf("%s:%d", loc, line)
		}
		if loc == "" {
			loc = "-"
		}
		mark := ""
		if f.AISuggestion != nil {
			mark = "  [AI]"
		}
		if _, err := fmt.Fprintf(w, "%3d  %s  %-8s  %s  %s%s\n", i, findings.ShortID(f.ID), f.Severity, loc, f.DisplayTitle(), mark); err != nil {
			return erruser.New("Could not write findings.", err)
		}
	}
	if _, err := fmt.Fprintf(w, "%d of %d finding(s).\n", len(list), total); err != nil {
		return erruser.New("Could not write findings.", err)
	}
	return nil
}

func writeSummaryHuman(w io.Writer, sum stats.Summary, reg *taxonomy.Registry, ver string) error {
	for _, b := range stats.Buckets {
		fmt.Fprintf(w, "%-9s %d\n", b, sum.Counts[b])
	}
	if n := sum.Total - sum.BucketSum(); n > 0 {
		fmt.Fprintf(w, "%-9s %d\n", "UNMAPPED", n)
	}
	fmt.Fprintf(w, "%-9s %d\n", "TOTAL", sum.Total)
	if len(sum.ByCategory) == 0 {
		return nil
	}
	codes := make([]string, 0, len(sum.ByCategory))
	for c := range sum.ByCategory {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	fmt.Fprintln(w, "---")
	for _, c := range codes {
		label, ok, _ := reg.Label(ver, c)
		if !ok {
			label = c
		}
		if _, err := fmt.Fprintf(w, "%-4s %-40s %d\n", c, label, sum.ByCategory[c]); err != nil {
			return erruser.New("Could not write summary.", err)
		}
	}
	return nil
}

// suggestionOutput is one finding's suggestion outcome as printed by
// 'suggest'.
type suggestionOutput struct {
	Index   int             `json:"index"`
	ID      string          `json:"id"`
	State   string          `json:"state"`
	Message string          `json:"message,omitempty"`
	Result  *suggest.Result `json:"result,omitempty"`
}

func newSuggestionOutput(idx int, f *findings.Finding, st suggest.State) suggestionOutput {
	return suggestionOutput{
		Index:   idx,
		ID:      f.ID,
		State:   st.Kind.String(),
		Message: st.Message,
		Result:  st.Result,
	}
}

func writeSuggestionHuman(w io.Writer, o *suggestionOutput, f *findings.Finding) {
	loc := f.FilePath
	if line, ok := f.Line(); ok {
		loc = fmt.Sprintf("%s:%d", loc, line)
	}
	fmt.Fprintf(w, "[%d] %s (%s)\n", o.Index, f.DisplayTitle(), loc)
	switch {
	case o.Result == nil:
		fmt.Fprintf(w, "  AI suggestion failed: %s\n", o.Message)
		fmt.Fprintf(w, "  Retry with 'aiowasp suggest %d'.\n\n", o.Index)
		return
	case o.Result.IsStructured():
		writeStructured(w, o.Result.Structured)
	default:
		for _, line := range strings.Split(strings.TrimRight(o.Result.Raw, "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintf(w, "  tokens: %s | time: %s | model: %s\n\n",
		orNA(o.Result.TokensUsed > 0, fmt.Sprint(o.Result.TokensUsed)),
		orNA(o.Result.ProcessingTimeMs > 0, fmt.Sprintf("%dms", o.Result.ProcessingTimeMs)),
		orNA(o.Result.ModelUsed != "", o.Result.ModelUsed),
	)
}

func writeStructured(w io.Writer, s *suggest.Structured) {
	if s.Summary != "" {
		fmt.Fprintf(w, "  Summary: %s\n", s.Summary)
	}
	for i, is := range s.Issues {
		sev := is.Severity
		if sev == "" {
			sev = "INFO"
		}
		head := []string{fmt.Sprintf("  %d. [%s]", i+1, sev)}
		if is.OwaspCategory != "" {
			head = append(head, is.OwaspCategory)
		}
		if is.CweID != "" {
			head = append(head, is.CweID)
		}
		fmt.Fprintln(w, strings.Join(head, " "))
		if is.Description != "" {
			fmt.Fprintf(w, "     Problem: %s\n", is.Description)
		}
		if is.FixSuggestion != "" {
			fmt.Fprintf(w, "     Fix: %s\n", is.FixSuggestion)
		}
		if is.CodeExample != nil {
			fmt.Fprintln(w, "     Before:")
			writeIndented(w, is.CodeExample.Before, "       ")
			fmt.Fprintln(w, "     After:")
			writeIndented(w, is.CodeExample.After, "       ")
		}
		if is.EffortEstimate != "" {
			fmt.Fprintf(w, "     Effort: %s\n", is.EffortEstimate)
		}
	}
}

func writeIndented(w io.Writer, text, prefix string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(w, "%s%s\n", prefix, line)
	}
}

func orNA(ok bool, v string) string {
	if !ok {
		return notAvailable
	}
	return v
}
