package reporter

import (
	"time"

	"github.com/roomkangali/kalki/internal/engine"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/risk"
	"github.com/roomkangali/kalki/internal/scanner/csrf"
	"github.com/roomkangali/kalki/internal/static"
)

// Report is the JSON document written at the end of a scan.
type Report struct {
	ScanSummary     ScanSummary             `json:"scan_summary"`
	Detectors       []engine.DetectorReport `json:"detectors"`
	CSRF            *csrf.Summary           `json:"csrf_summary,omitempty"`
	Static          []StaticSummary         `json:"static_analysis,omitempty"`
	Vulnerabilities []finding.Finding       `json:"vulnerabilities"`
	Annotations     []string                `json:"annotations,omitempty"`
}

// ScanSummary contains metadata and a summary of the scan.
type ScanSummary struct {
	ScanID            string                   `json:"scan_id"`
	TargetURL         string                   `json:"target_url"`
	ScanStartTime     string                   `json:"scan_start_time"`
	ScanEndTime       string                   `json:"scan_end_time"`
	TotalDuration     string                   `json:"total_duration"`
	DynamicDuration   string                   `json:"dynamic_duration"`
	DetectorsRun      []string                 `json:"detectors_run"`
	Technologies      map[string]string        `json:"technologies_detected,omitempty"`
	SkippedChecks     []string                 `json:"skipped_checks,omitempty"`
	PagesCrawled      int                      `json:"pages_crawled"`
	RequestsScanned   int                      `json:"requests_scanned"`
	TotalVulnsFound   int                      `json:"total_vulnerabilities_found"`
	CountsByCategory  map[finding.Category]int `json:"counts_by_category"`
	TotalRiskScore    int                      `json:"total_risk_score"`
	RiskLevel         risk.Level               `json:"risk_level"`
	SecurityScore     int                      `json:"security_score"`
	Partial           bool                     `json:"partial"`
	ConfigCorrections []string                 `json:"config_corrections,omitempty"`
}

// StaticSummary is the per-page static analysis block: token counts and findings per
// checker. The findings themselves are listed with the other vulnerabilities.
type StaticSummary struct {
	Location        string         `json:"location"`
	TotalTokens     int            `json:"total_tokens"`
	TokenCounts     map[string]int `json:"token_counts"`
	CountsByChecker map[string]int `json:"vulnerabilities_by_checker"`
	ParseErrors     []string       `json:"parse_errors,omitempty"`
}

func summarizeStatic(rep static.Report) StaticSummary {
	counts := make(map[string]int, len(rep.TokenCounts))
	for kind, n := range rep.TokenCounts {
		counts[kind.String()] = n
	}
	return StaticSummary{
		Location:        rep.Location,
		TotalTokens:     rep.TotalTokens,
		TokenCounts:     counts,
		CountsByChecker: rep.CountsByChecker,
		ParseErrors:     rep.ParseErrors,
	}
}

// NewReport builds the report of a finished scan. Slices are never null in the
// JSON output.
func NewReport(res *engine.ScanResult, endTime time.Time) *Report {
	r := &Report{
		ScanSummary: ScanSummary{
			ScanID:            res.ID,
			TargetURL:         res.Target,
			ScanStartTime:     res.StartedAt.Format(time.RFC3339),
			ScanEndTime:       endTime.Format(time.RFC3339),
			TotalDuration:     endTime.Sub(res.StartedAt).Round(time.Millisecond).String(),
			DynamicDuration:   res.Duration.Round(time.Millisecond).String(),
			DetectorsRun:      res.Detectors,
			Technologies:      res.Technologies,
			SkippedChecks:     res.SkippedChecks,
			PagesCrawled:      res.PagesCrawled,
			RequestsScanned:   res.RequestsScanned,
			TotalVulnsFound:   len(res.Findings),
			CountsByCategory:  res.Counts,
			TotalRiskScore:    res.Risk.TotalScore,
			RiskLevel:         res.Risk.Level,
			SecurityScore:     res.Risk.SecurityScore,
			Partial:           res.Partial,
			ConfigCorrections: res.ConfigCorrections,
		},
		Detectors:       res.Reports,
		CSRF:            res.CSRF,
		Vulnerabilities: res.Findings,
		Annotations:     res.Annotations,
	}
	if r.Detectors == nil {
		r.Detectors = make([]engine.DetectorReport, 0)
	}
	if r.Vulnerabilities == nil {
		r.Vulnerabilities = make([]finding.Finding, 0)
	}
	if r.ScanSummary.DetectorsRun == nil {
		r.ScanSummary.DetectorsRun = make([]string, 0)
	}
	for _, rep := range res.Static {
		r.Static = append(r.Static, summarizeStatic(rep))
	}
	return r
}
