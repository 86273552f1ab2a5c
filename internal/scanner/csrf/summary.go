package csrf

import (
	"time"

	"github.com/roomkangali/kalki/internal/crawler"
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/risk"
)

// Summary is the CSRF section of a report.
type Summary struct {
	FormsScanned         int           `json:"forms_scanned"`
	VulnerableForms      int           `json:"vulnerable_forms"`
	TotalVulnerabilities int           `json:"total_vulnerabilities"`
	OverallRiskLevel     risk.Level    `json:"overall_risk_level"`
	SecurityScore        int           `json:"security_score"`
	ScanDuration         time.Duration `json:"scan_duration"`
}

// Summarize builds the summary from the CSRF findings of a scan. Findings of other
// detectors are ignored. A form is vulnerable when at least one form-level finding
// points at it; cookie findings belong to hosts and do not count towards it. Forms
// are told apart by Finding.Form, falling back to the location.
func Summarize(formsScanned int, findings []finding.Finding, duration time.Duration) Summary {
	own := risk.ByDetector(findings, finding.DetectorCSRF)
	forms := make(map[string]bool)
	for _, f := range own {
		if f.Category == finding.CategoryCSRFCookie {
			continue
		}
		key := f.Form
		if key == "" {
			key = f.Location
		}
		forms[key] = true
	}
	score := risk.Score(own)
	return Summary{
		FormsScanned:         formsScanned,
		VulnerableForms:      len(forms),
		TotalVulnerabilities: len(own),
		OverallRiskLevel:     risk.LevelFor(score),
		SecurityScore:        risk.SecurityScore(score),
		ScanDuration:         duration,
	}
}

// CountForms returns how many form-derived requests a crawl produced.
func CountForms(requests []crawler.ParameterizedRequest) int {
	n := 0
	for _, r := range requests {
		if r.IsForm() {
			n++
		}
	}
	return n
}
