package static

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/payloads"
)

var messageListener = regexp.MustCompile(`(?i)addEventListener\s*\(\s*["']message["']`)

// findDOMFlows matches a DOM source flowing into a sink in one statement.
func findDOMFlows(content string) ([]Span, error) {
	var spans []Span
	for _, re := range payloads.DOMFlowPatterns {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			spans = append(spans, Span{loc[0], loc[1]})
		}
	}
	return spans, nil
}

// findUncheckedMessageListeners flags message handlers that never look at event.origin
// within the next few hundred bytes.
func findUncheckedMessageListeners(content string) ([]Span, error) {
	var spans []Span
	for _, loc := range messageListener.FindAllStringIndex(content, -1) {
		end := loc[1] + 400
		if end > len(content) {
			end = len(content)
		}
		if !originCheck.MatchString(content[loc[1]:end]) {
			spans = append(spans, Span{loc[0], loc[1]})
		}
	}
	return spans, nil
}

var originCheck = regexp.MustCompile(`\.origin\b`)

// JSSignatures is the ordered script signature list. The flow signature comes first so
// a tainted sink is reported as a flow rather than as a bare sink.
var JSSignatures = []Signature{
	{Technique: "DOM source-to-sink flow", Category: finding.CategoryScriptSink, Find: findDOMFlows},
	{Technique: "eval() call", Category: finding.CategoryScriptSink, Pattern: regexp.MustCompile(`\beval\s*\(`)},
	{Technique: "innerHTML assignment", Category: finding.CategoryScriptSink, Pattern: regexp.MustCompile(`\.(?:innerHTML|outerHTML)\s*\+?=[^=]`)},
	{Technique: "document.write call", Category: finding.CategoryScriptSink, Pattern: regexp.MustCompile(`\bdocument\.writeln?\s*\(`)},
	{Technique: "String-evaluated timer", Category: finding.CategoryScriptSink, Pattern: regexp.MustCompile(`\bset(?:Timeout|Interval)\s*\(\s*["'\x60]`)},
	{Technique: "Function constructor", Category: finding.CategoryScriptSink, Pattern: regexp.MustCompile(`\bnew\s+Function\s*\(`)},
	{Technique: "insertAdjacentHTML call", Category: finding.CategoryScriptSink, Pattern: regexp.MustCompile(`\.insertAdjacentHTML\s*\(`)},
	{Technique: "Message listener without origin check", Category: finding.CategoryScriptSink, Find: findUncheckedMessageListeners},
	{Technique: "Secret stored in web storage", Category: finding.CategoryScriptSink, Pattern: regexp.MustCompile(`(?i)\b(?:localStorage|sessionStorage)\.setItem\s*\(\s*["'][^"']*(?:token|secret|passw|jwt|apikey|api_key)[^"']*["']`)},
}

var errInvalidUTF8 = errors.New("invalid UTF-8 in script source")

func validateUTF8(content string) error {
	if utf8.ValidString(content) {
		return nil
	}
	for i, r := range content {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(content[i:]); size <= 1 {
				return &ParseError{Offset: i, Err: errInvalidUTF8}
			}
		}
	}
	return &ParseError{Err: errInvalidUTF8}
}

// NewJSChecker returns the checker for client-side script patterns.
func NewJSChecker() *Checker {
	return &Checker{Name: "JavaScript", Signatures: JSSignatures, Validate: validateUTF8}
}
