package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"aiowasp/cli/internal/findings"
	"aiowasp/cli/internal/stats"
	"aiowasp/cli/internal/taxonomy"
)

const reportPayload = `{"versions":[{"owaspVersion":"2021","findings":[
{"severity":"MAJOR","title":"SQL Injection","filePath":"src/Dao.java","lineNumber":45,"owaspCategory":"A03:2021-Injection","cweIds":["CWE-89"],"codeSnippet":"q + id"},
{"severity":"BLOCKER","title":"Broken auth","filePath":"src/Auth.java","owaspCategory":"A07:2021-Identification and Authentication Failures"},
{"severity":"INFO","title":"Verbose errors","filePath":"web/app.js","owaspCategory":"A05:2021-Security Misconfiguration"}
]}]}`

// backend is a fake report server counting requests per endpoint.
type backend struct {
	srv          *httptest.Server
	fetches      atomic.Int32
	suggests     atomic.Int32
	exports      atomic.Int32
	failFetch    bool
	suggestReply string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{suggestReply: `{"success":true,"analysisResult":"{\"summary\":\"Use PreparedStatement\",\"issues\":[{\"severity\":\"HIGH\",\"cweId\":\"CWE-89\",\"fixSuggestion\":\"bind parameters\"}]}","tokensUsed":321,"processingTimeMs":900,"modelUsed":"m1"}`}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/owasp/report/export":
			// The export tests never ask for json, so a json request is a fetch.
			if r.URL.Query().Get("format") == "json" {
				b.fetches.Add(1)
				if b.failFetch {
					http.Error(w, "down", http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write([]byte(reportPayload))
				return
			}
			b.exports.Add(1)
			_, _ = w.Write([]byte("# report for " + r.URL.Query().Get("project")))
		case "/api/aiowasp/suggest":
			b.suggests.Add(1)
			_, _ = w.Write([]byte(b.suggestReply))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

type harness struct {
	t        *testing.T
	dir      string
	stateDir string
	config   string
	server   string
}

func newHarness(t *testing.T, server string) *harness {
	t.Helper()
	dir := t.TempDir()
	return &harness{
		t:        t,
		dir:      dir,
		stateDir: filepath.Join(dir, "state"),
		config:   filepath.Join(dir, "config.toml"),
		server:   server,
	}
}

func (h *harness) run(args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{}, args...)
	full = append(full, "--state-dir", h.stateDir, "--config", h.config, "--server", h.server)
	code := runCLIWith(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	code, out, errOut := h.run(args...)
	if code != 0 {
		h.t.Fatalf("aiowasp %s: exit %d\nstdout: %s\nstderr: %s", strings.Join(args, " "), code, out, errOut)
	}
	return out
}

func TestRunCLI_help(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if got := runCLIWith([]string{"--help"}, &out, &out); got != 0 {
		t.Errorf("runCLI(--help) = %d, want 0", got)
	}
	for _, name := range []string{"load", "filter", "reset", "clear", "list", "summary", "files", "categories", "version-switch", "suggest", "export"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("help output missing command %q", name)
		}
	}
}

func TestRunCLI_unknownCommand(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	if got := runCLIWith([]string{"frobnicate"}, &out, &out); got != 1 {
		t.Errorf("runCLI(frobnicate) = %d, want 1", got)
	}
}

func TestCLI_triageWorkflow(t *testing.T) {
	t.Parallel()
	b := newBackend(t)
	h := newHarness(t, b.srv.URL)

	out := h.mustRun("load", "--project", "org:app", "--taxonomy-version", "2021")
	if !strings.Contains(out, "Loaded 3 finding(s) for org:app (OWASP 2021)") {
		t.Errorf("load output = %q", out)
	}

	out = h.mustRun("list")
	if !strings.Contains(out, "src/Dao.java:45") || !strings.Contains(out, "3 of 3 finding(s).") {
		t.Errorf("list output = %q", out)
	}

	out = h.mustRun("files")
	if out != "src/Auth.java\nsrc/Dao.java\nweb/app.js\n" {
		t.Errorf("files output = %q", out)
	}

	out = h.mustRun("summary", "--json")
	var sum stats.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("summary json: %v (%q)", err, out)
	}
	if sum.Total != 3 || sum.Counts[stats.BucketCritical] != 1 || sum.Counts[stats.BucketMedium] != 1 || sum.Counts[stats.BucketInfo] != 1 {
		t.Errorf("summary = %+v", sum)
	}

	out = h.mustRun("filter", "--severity", "major", "--category", "A03")
	if !strings.Contains(out, "1 of 3 finding(s) match.") {
		t.Errorf("filter output = %q", out)
	}

	out = h.mustRun("suggest", "0")
	if !strings.Contains(out, "Summary: Use PreparedStatement") || !strings.Contains(out, "model: m1") {
		t.Errorf("suggest output = %q", out)
	}
	if b.suggests.Load() != 1 {
		t.Fatalf("suggest requests = %d, want 1", b.suggests.Load())
	}

	out = h.mustRun("suggest", "0", "--json")
	var results []suggestionOutput
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("suggest json: %v (%q)", err, out)
	}
	if len(results) != 1 || results[0].State != "succeeded" || results[0].Result.TokensUsed != 321 {
		t.Errorf("suggest results = %+v", results)
	}
	if b.suggests.Load() != 1 {
		t.Errorf("persisted suggestion was requested again (%d requests)", b.suggests.Load())
	}

	out = h.mustRun("list", "--json")
	var listed struct {
		Findings []findings.Finding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("list json: %v", err)
	}
	if len(listed.Findings) != 1 || listed.Findings[0].AISuggestion == nil {
		t.Errorf("filtered list = %+v", listed.Findings)
	}

	out = h.mustRun("version-switch", "2017")
	if !strings.Contains(out, "Category filter kept: A03") {
		t.Errorf("version-switch output = %q", out)
	}
	out = h.mustRun("categories")
	if !strings.Contains(out, "OWASP 2017") || !strings.Contains(out, "* A03") {
		t.Errorf("categories output = %q", out)
	}

	out = h.mustRun("reset")
	if !strings.Contains(out, "Filters cleared; 3 finding(s).") {
		t.Errorf("reset output = %q", out)
	}
}

func TestCLI_suggestByIDPrefix(t *testing.T) {
	t.Parallel()
	b := newBackend(t)
	h := newHarness(t, b.srv.URL)
	h.mustRun("load", "--sample")
	id := findings.SampleFindings()[1].ID
	out := h.mustRun("suggest", id[:8], id[:10])
	if strings.Count(out, "Summary:") != 1 {
		t.Errorf("duplicate targets not collapsed: %q", out)
	}
	if b.suggests.Load() != 1 {
		t.Errorf("suggest requests = %d, want 1", b.suggests.Load())
	}
}

func TestCLI_suggestFailure(t *testing.T) {
	t.Parallel()
	b := newBackend(t)
	b.suggestReply = `{"success":false,"error":"model overloaded"}`
	h := newHarness(t, b.srv.URL)
	h.mustRun("load", "--sample")
	code, out, errOut := h.run("suggest", "1", "--retries", "2", "--log-level", "debug")
	if code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if n := strings.Count(errOut, "suggestion retry failed"); n != 2 {
		t.Errorf("retry failures logged %d times, want 2; stderr: %s", n, errOut)
	}
	if !strings.Contains(out, "AI suggestion failed: model overloaded") || !strings.Contains(out, "aiowasp suggest 1") {
		t.Errorf("suggest output = %q", out)
	}
	if b.suggests.Load() != 3 {
		t.Errorf("suggest requests = %d, want 3 (one plus two retries)", b.suggests.Load())
	}
}

func TestCLI_suggestOutOfRange(t *testing.T) {
	t.Parallel()
	b := newBackend(t)
	h := newHarness(t, b.srv.URL)
	h.mustRun("load", "--sample")
	code, _, errOut := h.run("suggest", "7")
	if code != 1 || !strings.Contains(errOut, "No finding at index 7") {
		t.Errorf("exit %d stderr %q", code, errOut)
	}
	if b.suggests.Load() != 0 {
		t.Errorf("suggest requests = %d, want 0", b.suggests.Load())
	}
}

func TestCLI_loadFailure(t *testing.T) {
	t.Parallel()
	b := newBackend(t)
	b.failFetch = true
	h := newHarness(t, b.srv.URL)

	code, _, errOut := h.run("load", "--project", "p")
	if code != 1 || !strings.Contains(errOut, "Could not fetch findings") || !strings.Contains(errOut, "Details:") {
		t.Errorf("exit %d stderr %q", code, errOut)
	}

	if err := os.WriteFile(h.config, []byte("fallback_to_sample = true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out := h.mustRun("load", "--project", "p")
	if !strings.Contains(out, "Loaded 2 finding(s)") || !strings.Contains(out, "sample data") {
		t.Errorf("fallback load output = %q", out)
	}
	if b.fetches.Load() != 2 {
		t.Errorf("fetches = %d, want 2", b.fetches.Load())
	}
}

func TestCLI_loadRequiresProject(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "http://127.0.0.1:1")
	if code, _, _ := h.run("load"); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
}

func TestCLI_clear(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "http://127.0.0.1:1")
	h.mustRun("load", "--sample")
	if out := h.mustRun("clear"); !strings.Contains(out, "Session cleared.") {
		t.Errorf("clear output = %q", out)
	}
	if out := h.mustRun("list"); !strings.Contains(out, "0 of 0 finding(s).") {
		t.Errorf("list after clear = %q", out)
	}
	h.mustRun("clear")
}

func TestCLI_unknownVersion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "http://127.0.0.1:1")
	h.mustRun("load", "--sample")
	code, _, errOut := h.run("version-switch", "1999")
	if code != 1 || !strings.Contains(errOut, "2017, 2021, 2025") {
		t.Errorf("exit %d stderr %q", code, errOut)
	}
	code, _, _ = h.run("load", "--sample", "--taxonomy-version", "1999")
	if code != 1 {
		t.Errorf("load with unknown version exit = %d, want 1", code)
	}
}

func TestCLI_filterUnknownCategory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "http://127.0.0.1:1")
	h.mustRun("load", "--sample")
	if code, _, _ := h.run("filter", "--category", "A11"); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
}

func TestCLI_filterUnknownSeverity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "http://127.0.0.1:1")
	h.mustRun("load", "--sample")
	code, out, errOut := h.run("filter", "--severity", "weird")
	if code != 0 {
		t.Fatalf("exit = %d, want 0; stderr: %s", code, errOut)
	}
	if !strings.Contains(errOut, "WEIRD is not a scanner severity") {
		t.Errorf("stderr = %q, want unknown severity note", errOut)
	}
	if !strings.Contains(out, "0 of 2 finding(s) match.") {
		t.Errorf("filter output = %q", out)
	}
}

func TestWriteSummaryHuman_unmapped(t *testing.T) {
	t.Parallel()
	sum := stats.Summarize([]findings.Finding{
		{Severity: findings.SeverityMajor, OwaspCategory: "A03:2021-Injection"},
		{Severity: "WEIRD"},
	})
	var out bytes.Buffer
	if err := writeSummaryHuman(&out, sum, taxonomy.Default(), "2021"); err != nil {
		t.Fatalf("writeSummaryHuman: %v", err)
	}
	for _, want := range []string{"MEDIUM    1", "UNMAPPED  1", "TOTAL     2", "A03"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestCLI_versionSwitchClearsMissingCategory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	taxFile := filepath.Join(dir, "extra.yaml")
	if err := os.WriteFile(taxFile, []byte("versions:\n  - version: \"2030\"\n    categories:\n      - code: B01\n        label: \"B01: Future\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, "http://127.0.0.1:1")
	h.mustRun("load", "--sample")
	h.mustRun("filter", "--category", "A03")
	out := h.mustRun("version-switch", "2030", "--taxonomy-file", taxFile)
	if !strings.Contains(out, "Category filter A03 cleared") {
		t.Errorf("version-switch output = %q", out)
	}
}

func TestCLI_export(t *testing.T) {
	t.Parallel()
	b := newBackend(t)
	h := newHarness(t, b.srv.URL)
	h.mustRun("load", "--sample", "--project", "org:app")

	path := filepath.Join(h.dir, "out.md")
	out := h.mustRun("export", "--format", "markdown", "-o", path)
	if !strings.Contains(out, "Saved "+path) {
		t.Errorf("export output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# report for org:app" {
		t.Errorf("exported = %q", data)
	}

	out = h.mustRun("export", "--format", "pdf", "--url")
	if !strings.Contains(out, b.srv.URL+"/api/owasp/report/export?format=pdf&project=org%3Aapp&version=2021") {
		t.Errorf("export url = %q", out)
	}

	before := b.exports.Load()
	code, _, errOut := h.run("export", "--format", "docx")
	if code != 1 || !strings.Contains(errOut, "Unsupported export format") {
		t.Errorf("exit %d stderr %q", code, errOut)
	}
	if b.exports.Load() != before {
		t.Error("unsupported export reached the server")
	}
}

func TestResolveTargets(t *testing.T) {
	t.Parallel()
	list := findings.SampleFindings()
	got, err := resolveTargets(list, []string{"1", list[0].ID[:6], "1"})
	if err != nil {
		t.Fatalf("resolveTargets: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Errorf("resolveTargets = %v, want [1 0]", got)
	}
	if _, err := resolveTargets(list, []string{"5"}); err == nil {
		t.Error("out-of-range index accepted")
	}
	if _, err := resolveTargets(list, []string{"ab"}); !errors.Is(err, findings.ErrFindingIDTooShort) {
		t.Errorf("short prefix err = %v", err)
	}
}
