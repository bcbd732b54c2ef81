package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsupportedFormat is returned for export formats other than pdf, html,
// json and markdown.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format is a report export format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formats lists the supported export formats.
var Formats = []Format{FormatPDF, FormatHTML, FormatJSON, FormatMarkdown}

// ParseFormat validates s. Matching is exact; "PDF" or "md" are rejected.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension returns the file extension used for downloads of f.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// ExportURL returns the download URL of project's report in format for
// taxonomy version. It fails with ErrUnsupportedFormat before building
// anything.
func ExportURL(baseURL, format, project, version string) (string, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("format", string(f))
	q.Set("project", project)
	q.Set("version", version)
	return strings.TrimSuffix(baseURL, "/") + exportPath + "?" + q.Encode(), nil
}

// ExportFileName returns the suggested local file name for a download,
// e.g. owasp-security-report-org-app.md for project "org:app" in markdown.
func ExportFileName(project string, format Format) string {
	return "owasp-security-report-" + strings.ReplaceAll(project, ":", "-") + "." + format.Extension()
}

// Download streams project's exported report in format to w and returns
// the number of bytes written. Unsupported formats are logged and rejected
// without any request.
func (c *Client) Download(ctx context.Context, format, project, version string, w io.Writer) (int64, error) {
	f, err := ParseFormat(format)
	if err != nil {
		c.logger.Error("export rejected", zap.String("format", format), zap.String("project", project))
		return 0, err
	}
	q := url.Values{}
	q.Set("format", string(f))
	q.Set("project", project)
	q.Set("version", version)
	resp, err := c.get(ctx, exportPath, q)
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", f, err)
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("export %s: write: %w", f, err)
	}
	return n, nil
}
