// Package risk turns a list of findings into counts, a weighted score and a label.
// Everything here is a pure function of its input.
package risk

import (
	"sort"

	"github.com/roomkangali/kalki/internal/finding"
)

// Level is the four-level risk label.
type Level string

const (
	LevelLow      Level = "Low"
	LevelMedium   Level = "Medium"
	LevelHigh     Level = "High"
	LevelCritical Level = "Critical"
)

// Thresholds are exclusive lower bounds on the weighted score.
const (
	CriticalAbove = 20
	HighAbove     = 10
	MediumAbove   = 5
)

// LevelFor maps a weighted score to its label.
func LevelFor(score int) Level {
	switch {
	case score > CriticalAbove:
		return LevelCritical
	case score > HighAbove:
		return LevelHigh
	case score > MediumAbove:
		return LevelMedium
	default:
		return LevelLow
	}
}

// SecurityScore is 100 minus the weighted score, floored at zero.
func SecurityScore(score int) int {
	if score > 100 {
		score = 100
	}
	return 100 - score
}

// Summary is the aggregate view of a set of findings.
type Summary struct {
	Total         int                      `json:"total"`
	ByTechnique   map[string]int           `json:"by_technique"`
	ByCategory    map[finding.Category]int `json:"by_category"`
	ByDetector    map[string]int           `json:"by_detector"`
	BySeverity    map[finding.Severity]int `json:"-"`
	TotalScore    int                      `json:"total_risk_score"`
	Level         Level                    `json:"risk_level"`
	SecurityScore int                      `json:"security_score"`
	Techniques    []string                 `json:"techniques"`
}

// Aggregate groups findings and computes the weighted score.
func Aggregate(findings []finding.Finding) Summary {
	s := Summary{
		ByTechnique: make(map[string]int),
		ByCategory:  make(map[finding.Category]int),
		ByDetector:  make(map[string]int),
		BySeverity:  make(map[finding.Severity]int),
	}
	for _, f := range findings {
		s.Total++
		s.ByTechnique[f.Technique]++
		s.ByCategory[f.Category]++
		s.ByDetector[f.Detector]++
		s.BySeverity[f.Severity]++
		s.TotalScore += f.Weight()
	}
	for t := range s.ByTechnique {
		s.Techniques = append(s.Techniques, t)
	}
	sort.Strings(s.Techniques)
	s.Level = LevelFor(s.TotalScore)
	s.SecurityScore = SecurityScore(s.TotalScore)
	return s
}

// Score is the weighted sum alone.
func Score(findings []finding.Finding) int {
	total := 0
	for _, f := range findings {
		total += f.Weight()
	}
	return total
}

// Filter returns the findings for which keep returns true, preserving order.
func Filter(findings []finding.Finding, keep func(finding.Finding) bool) []finding.Finding {
	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// ByDetector returns the findings of one detector, preserving order.
func ByDetector(findings []finding.Finding, detector string) []finding.Finding {
	return Filter(findings, func(f finding.Finding) bool { return f.Detector == detector })
}
