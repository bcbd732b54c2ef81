// Package stats reduces a (filtered) finding list into the dashboard
// summary: severity-bucket counts, the total, and a per-category breakdown.
package stats

import (
	"strings"

	"aiowasp/cli/internal/findings"
)

// Bucket is the normalized five-level severity shown on the dashboard.
type Bucket string

const (
	BucketCritical Bucket = "CRITICAL"
	BucketHigh     Bucket = "HIGH"
	BucketMedium   Bucket = "MEDIUM"
	BucketLow      Bucket = "LOW"
	BucketInfo     Bucket = "INFO"
)

// Buckets lists the dashboard buckets from most to least severe.
var Buckets = []Bucket{BucketCritical, BucketHigh, BucketMedium, BucketLow, BucketInfo}

// bucketBySeverity is shifted by one level: the scanner's BLOCKER is the
// dashboard's CRITICAL, its CRITICAL is HIGH, and so on.
var bucketBySeverity = map[findings.Severity]Bucket{
	findings.SeverityBlocker:  BucketCritical,
	findings.SeverityCritical: BucketHigh,
	findings.SeverityMajor:    BucketMedium,
	findings.SeverityMinor:    BucketLow,
	findings.SeverityInfo:     BucketInfo,
}

// BucketFor maps a raw severity to its bucket. Unknown severities pass
// through unmapped (Bucket(raw)) with ok false unless the raw string already
// names a bucket, e.g. "HIGH".
func BucketFor(raw findings.Severity) (Bucket, bool) {
	if b, ok := bucketBySeverity[raw]; ok {
		return b, true
	}
	b := Bucket(raw)
	for _, k := range Buckets {
		if b == k {
			return b, true
		}
	}
	return b, false
}

// Summary is the dashboard aggregate of a finding list. Total is the list
// length; findings whose severity maps to no bucket count toward Total only,
// so Total may exceed the sum of Counts.
type Summary struct {
	Counts     map[Bucket]int `json:"counts"`
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"byCategory"`
}

// Summarize aggregates list. Counts always holds all five buckets.
// ByCategory is keyed by the category code (the part of owaspCategory before
// the first ':'); findings without a category are not in ByCategory.
func Summarize(list []findings.Finding) Summary {
	s := Summary{
		Counts:     make(map[Bucket]int, len(Buckets)),
		Total:      len(list),
		ByCategory: map[string]int{},
	}
	for _, b := range Buckets {
		s.Counts[b] = 0
	}
	for i := range list {
		if b, ok := BucketFor(list[i].Severity); ok {
			s.Counts[b]++
		}
		if code := CategoryCode(list[i].OwaspCategory); code != "" {
			s.ByCategory[code]++
		}
	}
	return s
}

// BucketSum returns the sum of the bucket counts.
func (s Summary) BucketSum() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// CategoryCode returns the code part of an owaspCategory value such as
// "A03:2021-Injection" ("A03").
func CategoryCode(category string) string {
	code, _, _ := strings.Cut(category, ":")
	return strings.TrimSpace(code)
}
