package engine

import (
	"time"

	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/fingerprint"
	"github.com/roomkangali/kalki/internal/risk"
	"github.com/roomkangali/kalki/internal/scanner"
	"github.com/roomkangali/kalki/internal/scanner/csrf"
	"github.com/roomkangali/kalki/internal/static"
)

// DetectorReport is the per-detector view of a scan.
type DetectorReport struct {
	Detector        string            `json:"detector"`
	Vulnerabilities []finding.Finding `json:"vulnerabilities"`
	TotalRiskScore  int               `json:"total_risk_score"`
	RiskLevel       risk.Level        `json:"risk_level"`
}

// NewDetectorReport scores the findings of one detector. Findings of other detectors
// are ignored.
func NewDetectorReport(detector string, findings []finding.Finding) DetectorReport {
	own := risk.ByDetector(findings, detector)
	score := risk.Score(own)
	return DetectorReport{
		Detector:        detector,
		Vulnerabilities: own,
		TotalRiskScore:  score,
		RiskLevel:       risk.LevelFor(score),
	}
}

// ScanResult is everything one Run produced. Findings keep discovery order: static
// findings by page, then dynamic findings by request, scanner and emission, then
// out-of-band findings.
type ScanResult struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
	Detectors []string  `json:"detectors"`

	Technologies fingerprint.Fingerprint `json:"technologies,omitempty"`

	Findings []finding.Finding        `json:"findings"`
	Counts   map[finding.Category]int `json:"counts"`
	Risk     risk.Summary             `json:"risk"`
	Reports  []DetectorReport         `json:"reports"`
	Static   []static.Report          `json:"static,omitempty"`
	CSRF     *csrf.Summary            `json:"csrf,omitempty"`

	PagesCrawled      int                   `json:"pages_crawled"`
	RequestsScanned   int                   `json:"requests_scanned"`
	Points            []scanner.PointResult `json:"points,omitempty"`
	Annotations       []string              `json:"annotations,omitempty"`
	ConfigCorrections []string              `json:"config_corrections,omitempty"`
	SkippedChecks     []string              `json:"skipped_checks,omitempty"`

	// Duration covers the dynamic probing phase only.
	Duration time.Duration `json:"duration"`
	Partial  bool          `json:"partial"`
}

// Report returns the report of one detector, if it ran.
func (r *ScanResult) Report(detector string) (DetectorReport, bool) {
	for _, rep := range r.Reports {
		if rep.Detector == detector {
			return rep, true
		}
	}
	return DetectorReport{}, false
}
