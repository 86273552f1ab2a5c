package scanner

import (
	"context"

	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
)

// Verdicts recorded per injection point.
const (
	VerdictVulnerable = "vulnerable"
	VerdictClean      = "clean"
)

// PointResult is the outcome of probing one parameter (or form) of one request.
// Annotation explains a Clean verdict that was not reached by exhausting payloads,
// such as a timeout or a failed baseline fetch.
type PointResult struct {
	Scanner    string `json:"scanner"`
	URL        string `json:"url"`
	Parameter  string `json:"parameter,omitempty"`
	Verdict    string `json:"verdict"`
	Annotation string `json:"annotation,omitempty"`
}

// Result is what a scanner returns for one request.
type Result struct {
	Findings []finding.Finding `json:"findings"`
	Points   []PointResult     `json:"points"`
}

// Merge appends other to r.
func (r *Result) Merge(other Result) {
	r.Findings = append(r.Findings, other.Findings...)
	r.Points = append(r.Points, other.Points...)
}

// Annotations returns the non-empty point annotations, prefixed with the location.
func (r Result) Annotations() []string {
	var out []string
	for _, p := range r.Points {
		if p.Annotation == "" {
			continue
		}
		loc := p.URL
		if p.Parameter != "" {
			loc += " [" + p.Parameter + "]"
		}
		out = append(out, p.Scanner+": "+loc+": "+p.Annotation)
	}
	return out
}

// Scanner probes a single parameterized request. Scan must not start new requests once
// ctx is done; whatever it has found so far is returned.
type Scanner interface {
	Name() string
	Detector() string
	Scan(ctx context.Context, req crawler.ParameterizedRequest, client *httpclient.Client, log *logger.Logger, opts ScannerOptions) (Result, error)
}
