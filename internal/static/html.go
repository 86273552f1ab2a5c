package static

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/payloads"
)

// maxTokenBuf bounds a single HTML token; anything larger is treated as malformed.
const maxTokenBuf = 512 << 10

// tagVisitor is called for each tag with its span.
type tagVisitor func(tok html.Token, span Span)

// walkTags runs the x/net/html tokenizer over content, tracking byte offsets. End tags
// are only visited when withEnd is set.
func walkTags(content string, withEnd bool, visit tagVisitor) error {
	z := html.NewTokenizer(strings.NewReader(content))
	z.SetMaxBuf(maxTokenBuf)
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return &ParseError{Offset: offset, Err: err}
			}
			return nil
		}
		raw := len(z.Raw())
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken || (withEnd && tt == html.EndTagToken) {
			visit(z.Token(), Span{offset, offset + raw})
		}
		offset += raw
	}
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// findFormsWithoutToken flags POST forms whose fields include no anti-CSRF token.
// The span is the form's start tag.
func findFormsWithoutToken(content string) ([]Span, error) {
	var spans []Span
	var open *Span
	hasToken := false
	closeForm := func() {
		if open != nil && !hasToken {
			spans = append(spans, *open)
		}
		open, hasToken = nil, false
	}
	err := walkTags(content, true, func(tok html.Token, span Span) {
		if tok.Type == html.EndTagToken {
			if tok.Data == "form" {
				closeForm()
			}
			return
		}
		switch tok.Data {
		case "form":
			closeForm()
			if method, _ := attr(tok, "method"); strings.EqualFold(method, "post") {
				s := span
				open = &s
			}
		case "input", "meta":
			name, _ := attr(tok, "name")
			if name == "" {
				name, _ = attr(tok, "id")
			}
			if open != nil && payloads.IsCSRFTokenName(name) {
				hasToken = true
			}
		}
	})
	if err != nil {
		return nil, err
	}
	closeForm()
	return spans, nil
}

func findUnsandboxedIframes(content string) ([]Span, error) {
	var spans []Span
	err := walkTags(content, false, func(tok html.Token, span Span) {
		if tok.Data != "iframe" {
			return
		}
		if _, ok := attr(tok, "sandbox"); ok {
			return
		}
		if src, _ := attr(tok, "src"); src == "" || strings.HasPrefix(strings.ToLower(src), "about:") {
			return
		}
		spans = append(spans, span)
	})
	return spans, err
}

func findBlankTargetsWithoutNoopener(content string) ([]Span, error) {
	var spans []Span
	err := walkTags(content, false, func(tok html.Token, span Span) {
		if tok.Data != "a" && tok.Data != "form" {
			return
		}
		if target, _ := attr(tok, "target"); !strings.EqualFold(target, "_blank") {
			return
		}
		rel, _ := attr(tok, "rel")
		rel = strings.ToLower(rel)
		if strings.Contains(rel, "noopener") || strings.Contains(rel, "noreferrer") {
			return
		}
		spans = append(spans, span)
	})
	return spans, err
}

func findPasswordAutocomplete(content string) ([]Span, error) {
	var spans []Span
	err := walkTags(content, false, func(tok html.Token, span Span) {
		if tok.Data != "input" {
			return
		}
		if typ, _ := attr(tok, "type"); !strings.EqualFold(typ, "password") {
			return
		}
		switch ac, _ := attr(tok, "autocomplete"); strings.ToLower(ac) {
		case "off", "new-password", "current-password", "one-time-code":
			return
		}
		spans = append(spans, span)
	})
	return spans, err
}

// HTMLSignatures is the ordered HTML signature list.
var HTMLSignatures = []Signature{
	{Technique: "Form without anti-CSRF token", Category: finding.CategoryHTMLPattern, Find: findFormsWithoutToken},
	{Technique: "Inline event handler", Category: finding.CategoryHTMLPattern, Pattern: regexp.MustCompile(`(?i)<[a-z][a-z0-9]*\b[^>]*?\son[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)},
	{Technique: "javascript: URI", Category: finding.CategoryHTMLPattern, Pattern: regexp.MustCompile(`(?i)\b(?:href|src|action|formaction|data)\s*=\s*["']?\s*javascript:[^"'>\s]*`)},
	{Technique: "Unsandboxed iframe", Category: finding.CategoryHTMLPattern, Find: findUnsandboxedIframes},
	{Technique: "target=_blank without rel=noopener", Category: finding.CategoryHTMLPattern, Find: findBlankTargetsWithoutNoopener},
	{Technique: "Password field allows autocomplete", Category: finding.CategoryHTMLPattern, Find: findPasswordAutocomplete},
	{Technique: "Client-side template expression", Category: finding.CategoryHTMLPattern, Pattern: regexp.MustCompile(`\{\{[^{}\n]{1,200}\}\}`)},
	{Technique: "Script loaded over plain HTTP", Category: finding.CategoryHTMLPattern, Pattern: regexp.MustCompile(`(?i)<script\b[^>]*\bsrc\s*=\s*["']?http://[^"'\s>]+`)},
}

// NewHTMLChecker returns the checker for markup patterns.
func NewHTMLChecker() *Checker {
	return &Checker{Name: "HTML", Signatures: HTMLSignatures}
}
