package suggest

import (
	"path"
	"strings"

	"aiowasp/cli/internal/findings"
	"aiowasp/cli/internal/gateway"
)

// LanguageUnknown is sent when the file extension is not in the table.
const LanguageUnknown = "unknown"

// NoCodeAvailable is sent as code when a finding has neither snippet nor
// description.
const NoCodeAvailable = "No code snippet available"

var languageByExt = map[string]string{
	"java": "java",
	"js":   "javascript",
	"jsx":  "javascript",
	"ts":   "javascript",
	"tsx":  "javascript",
	"py":   "python",
	"cs":   "csharp",
	"php":  "php",
	"rb":   "ruby",
	"go":   "go",
	"cpp":  "cpp",
	"hpp":  "cpp",
	"c":    "c",
	"h":    "c",
}

// DetectLanguage maps the extension of filePath (case-insensitive) to the
// language name the suggestion endpoint expects.
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filePath), "."))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return LanguageUnknown
}

// BuildRequest derives the suggestion request for f. Code is the snippet,
// else the description, else NoCodeAvailable.
func BuildRequest(f *findings.Finding) gateway.SuggestRequest {
	code := f.CodeSnippet
	if code == "" {
		code = f.Description
	}
	if code == "" {
		code = NoCodeAvailable
	}
	return gateway.SuggestRequest{
		Code:          code,
		OwaspCategory: f.OwaspCategory,
		CweID:         f.PrimaryCWE(),
		Language:      DetectLanguage(f.FilePath),
		FileName:      f.FilePath,
	}
}
