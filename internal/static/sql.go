package static

import (
	"regexp"

	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/payloads"
	"github.com/roomkangali/kalki/internal/tokenizer"
)

func findDBErrors(content string) ([]Span, error) {
	var spans []Span
	for _, re := range payloads.SQLiErrorPatterns {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			spans = append(spans, Span{loc[0], loc[1]})
		}
	}
	return spans, nil
}

// atLeastKeywords accepts a match containing n or more SQL keywords.
func atLeastKeywords(n int) func(string) bool {
	return func(match string) bool {
		return tokenizer.Tokenize(match).Counts[tokenizer.Keyword] >= n
	}
}

// SQLSignatures is the ordered SQL signature list.
var SQLSignatures = []Signature{
	{Technique: "Database error disclosure", Category: finding.CategorySQLPattern, Find: findDBErrors},
	{
		Technique: "String-concatenated SQL query",
		Category:  finding.CategorySQLPattern,
		Pattern:   regexp.MustCompile(`(?i)["'](?:SELECT|INSERT\s+INTO|UPDATE|DELETE\s+FROM)\b[^"'\n]*["']\s*(?:\+|\.|\|\|)\s*[$\w]`),
	},
	{
		Technique: "Interpolated SQL query",
		Category:  finding.CategorySQLPattern,
		Pattern:   regexp.MustCompile("(?i)(?:`(?:SELECT|INSERT|UPDATE|DELETE)\\b[^`]*\\$\\{|\"(?:SELECT|INSERT|UPDATE|DELETE)\\b[^\"\\n]*\\$[a-z_{])"),
	},
	{
		Technique: "SQL keywords in URL parameter",
		Category:  finding.CategorySQLPattern,
		Pattern:   regexp.MustCompile(`(?i)[?&][\w.-]+=[^&\s"'<>]*\b(?:union(?:\s|\+|%20)+(?:all(?:\s|\+|%20)+)?select|select(?:\s|\+|%20)+[^&\s"'<>]+(?:\s|\+|%20)+from)\b`),
	},
	{
		Technique: "Raw SQL statement in page source",
		Category:  finding.CategorySQLPattern,
		Pattern:   regexp.MustCompile(`\bSELECT\s+[\w*,\s.()]{1,120}?\s+FROM\s+[\w.]+(?:\s+WHERE\s+[^;<\n]{1,120})?`),
		Confirm:   atLeastKeywords(2),
	},
}

// NewSQLChecker returns the checker for SQL-adjacent patterns.
func NewSQLChecker() *Checker {
	return &Checker{Name: "SQL", Signatures: SQLSignatures, Validate: validateUTF8}
}
