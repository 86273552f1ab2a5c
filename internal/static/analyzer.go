package static

import (
	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/tokenizer"
)

// Report is the outcome of the static phase for one document.
type Report struct {
	Location        string                 `json:"location"`
	TokenCounts     map[tokenizer.Kind]int `json:"token_counts"`
	TotalTokens     int                    `json:"total_tokens"`
	Findings        []finding.Finding      `json:"findings"`
	CountsByChecker map[string]int         `json:"counts_by_checker"`
	ParseErrors     []string               `json:"parse_errors,omitempty"`
}

// DefaultCheckers returns the HTML, JavaScript and SQL checkers in report order.
func DefaultCheckers() []*Checker {
	return []*Checker{NewHTMLChecker(), NewJSChecker(), NewSQLChecker()}
}

// Analyze tokenizes content and runs each checker over it. A checker that fails to
// parse contributes no findings and a ParseErrors entry; the others are unaffected.
func Analyze(location, content string, checkers ...*Checker) Report {
	if len(checkers) == 0 {
		checkers = DefaultCheckers()
	}

	tokens := tokenizer.Tokenize(content)
	rep := Report{
		Location:        location,
		TokenCounts:     make(map[tokenizer.Kind]int, len(tokenizer.Kinds)),
		TotalTokens:     tokens.Total(),
		CountsByChecker: make(map[string]int, len(checkers)),
		Findings:        []finding.Finding{},
	}
	for _, k := range tokenizer.Kinds {
		rep.TokenCounts[k] = tokens.Counts[k]
	}

	for _, c := range checkers {
		found, err := c.Analyze(location, content)
		if err != nil {
			rep.ParseErrors = append(rep.ParseErrors, err.Error())
			rep.CountsByChecker[c.Name] = 0
			continue
		}
		rep.CountsByChecker[c.Name] = len(found)
		rep.Findings = append(rep.Findings, found...)
	}
	return rep
}
