// Package static scans page source for vulnerable patterns without sending requests.
//
// Each Checker holds an ordered list of signatures. When two signatures match
// overlapping spans only the earlier-declared one is kept, so a snippet is never
// counted twice under different labels.
package static

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roomkangali/kalki/internal/finding"
)

// MaxContentSize is the largest document a checker accepts.
const MaxContentSize = 4 << 20

// Span is a half-open byte range [Start, End) in the analyzed content.
type Span struct {
	Start, End int
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Signature is a regular-expression or structural pattern with a technique label.
// Exactly one of Pattern and Find is set. Confirm, when set, must accept the matched
// text for the match to count.
type Signature struct {
	Technique string
	Category  finding.Category
	Pattern   *regexp.Regexp
	Find      func(content string) ([]Span, error)
	Confirm   func(match string) bool
}

func (s Signature) spans(content string) ([]Span, error) {
	var spans []Span
	if s.Find != nil {
		found, err := s.Find(content)
		if err != nil {
			return nil, err
		}
		spans = found
	} else {
		for _, loc := range s.Pattern.FindAllStringIndex(content, -1) {
			spans = append(spans, Span{loc[0], loc[1]})
		}
	}
	if s.Confirm == nil {
		return spans, nil
	}
	kept := spans[:0]
	for _, sp := range spans {
		if s.Confirm(content[sp.Start:sp.End]) {
			kept = append(kept, sp)
		}
	}
	return kept, nil
}

// Checker runs one family of signatures.
type Checker struct {
	Name       string
	Signatures []Signature
	// Validate rejects content the checker cannot reason about.
	Validate func(content string) error
}

// ParseError reports content a checker could not analyze. The checker yields no
// findings; the rest of the static phase carries on.
type ParseError struct {
	Checker string
	Offset  int
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s checker: parse error at offset %d: %v", e.Checker, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type match struct {
	span Span
	sig  int
}

// Analyze returns the findings of c over content in document order. location is
// recorded on every finding. A nil error comes with a possibly empty list; a
// *ParseError always comes with an empty list.
func (c *Checker) Analyze(location, content string) ([]finding.Finding, error) {
	if len(content) > MaxContentSize {
		return nil, &ParseError{Checker: c.Name, Offset: MaxContentSize, Err: fmt.Errorf("content exceeds %d bytes", MaxContentSize)}
	}
	if content == "" {
		return nil, nil
	}
	if c.Validate != nil {
		if err := c.Validate(content); err != nil {
			return nil, asParseError(c.Name, err)
		}
	}

	var kept []match
	for i, sig := range c.Signatures {
		spans, err := sig.spans(content)
		if err != nil {
			return nil, asParseError(c.Name, err)
		}
	next:
		for _, sp := range spans {
			if sp.End <= sp.Start {
				continue
			}
			for _, k := range kept {
				if k.span.overlaps(sp) {
					continue next
				}
			}
			kept = append(kept, match{span: sp, sig: i})
		}
	}

	sort.SliceStable(kept, func(a, b int) bool {
		if kept[a].span.Start != kept[b].span.Start {
			return kept[a].span.Start < kept[b].span.Start
		}
		return kept[a].sig < kept[b].sig
	})

	findings := make([]finding.Finding, 0, len(kept))
	for _, m := range kept {
		sig := c.Signatures[m.sig]
		line := strings.Count(content[:m.span.Start], "\n") + 1
		findings = append(findings, finding.New(
			sig.Category,
			sig.Technique,
			fmt.Sprintf("%s:%d", location, line),
			"",
			"",
			content[m.span.Start:m.span.End],
		))
	}
	return findings, nil
}

func asParseError(checker string, err error) *ParseError {
	if pe, ok := err.(*ParseError); ok {
		pe.Checker = checker
		return pe
	}
	return &ParseError{Checker: checker, Err: err}
}
