// Package finding defines the single record type every detector emits.
//
// A Finding is a tagged variant: its Category is the tag, and the category alone fixes
// the severity, the weight used for risk scoring and the skip_checks name that governs it.
package finding

import (
	"fmt"
	"strings"
)

// Severity is the four-level scale shared by every detector.
type Severity int

const (
	Low Severity = iota + 1
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case Critical:
		return "Critical"
	}
	return "Unknown"
}

// Weight is the risk contribution of one finding at this severity.
func (s Severity) Weight() int {
	switch s {
	case Critical:
		return 10
	case High:
		return 7
	case Medium:
		return 5
	case Low:
		return 2
	}
	return 0
}

// MarshalText lets severities appear as words in JSON reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Detector names.
const (
	DetectorStatic = "static"
	DetectorSQLi   = "sqli"
	DetectorCSRF   = "csrf"
	DetectorSSRF   = "ssrf"
	DetectorXSS    = "xss"
)

// Category is the technique family of a finding.
type Category string

const (
	// static analysis
	CategoryHTMLPattern Category = "html-pattern"
	CategoryScriptSink  Category = "script-sink"
	CategorySQLPattern  Category = "sql-pattern"

	// dynamic SQL injection
	CategorySQLiError      Category = "sqli-error"
	CategorySQLiBoolean    Category = "sqli-boolean"
	CategorySQLiTime       Category = "sqli-time"
	CategorySQLiDivergence Category = "sqli-divergence"

	// CSRF
	CategoryCSRFMissingToken  Category = "csrf-missing-token"
	CategoryCSRFWeakToken     Category = "csrf-weak-token"
	CategoryCSRFTokenReplay   Category = "csrf-token-replay"
	CategoryCSRFUnenforced    Category = "csrf-token-not-enforced"
	CategoryCSRFStateChanging Category = "csrf-state-changing-get"
	CategoryCSRFHeaderGap     Category = "csrf-header-gap"
	CategoryCSRFCookie        Category = "csrf-cookie-samesite"
	CategoryCSRFRateLimit     Category = "csrf-rate-limiting-gap"

	// SSRF
	CategorySSRFMetadata Category = "ssrf-metadata"
	CategorySSRFInternal Category = "ssrf-internal-network"
	CategorySSRFLocal    Category = "ssrf-local"
	CategorySSRFBlind    Category = "ssrf-blind"

	// XSS
	CategoryXSSStored    Category = "xss-stored"
	CategoryXSSReflected Category = "xss-reflected"
	CategoryXSSDOM       Category = "xss-dom"
)

type categoryInfo struct {
	severity Severity
	detector string
	check    string
}

var categories = map[Category]categoryInfo{
	CategoryHTMLPattern: {Low, DetectorStatic, "static"},
	CategoryScriptSink:  {Medium, DetectorStatic, "static"},
	CategorySQLPattern:  {Medium, DetectorStatic, "static"},

	CategorySQLiError:      {Critical, DetectorSQLi, "sqli"},
	CategorySQLiBoolean:    {High, DetectorSQLi, "sqli"},
	CategorySQLiTime:       {High, DetectorSQLi, "sqli"},
	CategorySQLiDivergence: {Medium, DetectorSQLi, "sqli"},

	CategoryCSRFMissingToken:  {High, DetectorCSRF, "tokens"},
	CategoryCSRFWeakToken:     {Medium, DetectorCSRF, "tokens"},
	CategoryCSRFTokenReplay:   {Medium, DetectorCSRF, "tokens"},
	CategoryCSRFUnenforced:    {High, DetectorCSRF, "forms"},
	CategoryCSRFStateChanging: {Low, DetectorCSRF, "forms"},
	CategoryCSRFHeaderGap:     {Medium, DetectorCSRF, "headers"},
	CategoryCSRFCookie:        {Low, DetectorCSRF, "cookies"},
	CategoryCSRFRateLimit:     {Low, DetectorCSRF, "rate-limiting"},

	CategorySSRFMetadata: {Critical, DetectorSSRF, "ssrf"},
	CategorySSRFInternal: {High, DetectorSSRF, "ssrf"},
	CategorySSRFLocal:    {Medium, DetectorSSRF, "ssrf"},
	CategorySSRFBlind:    {High, DetectorSSRF, "ssrf"},

	CategoryXSSStored:    {Critical, DetectorXSS, "xss"},
	CategoryXSSReflected: {High, DetectorXSS, "xss"},
	CategoryXSSDOM:       {Medium, DetectorXSS, "xss"},
}

// Known reports whether c is a registered category.
func (c Category) Known() bool {
	_, ok := categories[c]
	return ok
}

// Severity returns the fixed severity of the category.
func (c Category) Severity() Severity { return categories[c].severity }

// Weight returns the fixed risk weight of the category.
func (c Category) Weight() int { return c.Severity().Weight() }

// Detector returns the detector that owns the category.
func (c Category) Detector() string { return categories[c].detector }

// Check returns the skip_checks name governing the category.
func (c Category) Check() string { return categories[c].check }

// Finding is one concrete piece of evidence that a location exhibits a technique.
// Form, when set, identifies the form the finding was raised on, so that several forms
// posting to one location stay apart.
type Finding struct {
	Location  string   `json:"location"`
	Form      string   `json:"form,omitempty"`
	Parameter string   `json:"parameter,omitempty"`
	Technique string   `json:"technique"`
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Evidence  string   `json:"evidence"`
	Payload   string   `json:"payload,omitempty"`
	Detector  string   `json:"detector"`
}

// New builds a Finding whose severity and detector are derived from the category.
// It panics on an unregistered category, which is a programming error.
func New(category Category, technique, location, parameter, payload, evidence string) Finding {
	info, ok := categories[category]
	if !ok {
		panic(fmt.Sprintf("finding: unknown category %q", category))
	}
	return Finding{
		Location:  location,
		Parameter: parameter,
		Technique: technique,
		Category:  category,
		Severity:  info.severity,
		Evidence:  Excerpt(evidence, maxEvidence),
		Payload:   payload,
		Detector:  info.detector,
	}
}

// Weight is the risk contribution of the finding.
func (f Finding) Weight() int { return f.Category.Weight() }

func (f Finding) String() string {
	loc := f.Location
	if f.Parameter != "" {
		loc += " [" + f.Parameter + "]"
	}
	return fmt.Sprintf("%s (%s) at %s", f.Technique, f.Severity, loc)
}

const maxEvidence = 240

// Excerpt trims s to at most n bytes on a rune boundary, collapsing whitespace.
func Excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Window returns the text around s[start:end] padded by pad bytes on both sides.
func Window(s string, start, end, pad int) string {
	from := start - pad
	if from < 0 {
		from = 0
	}
	to := end + pad
	if to > len(s) {
		to = len(s)
	}
	for from > 0 && !isRuneStart(s[from]) {
		from--
	}
	for to < len(s) && !isRuneStart(s[to]) {
		to++
	}
	return s[from:to]
}
