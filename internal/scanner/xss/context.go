package xss

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/roomkangali/kalki/internal/payloads"
)

// Reflection is one place where a probe marker surfaced in a page.
type Reflection struct {
	Context payloads.XSSContext
	Tag     string // Enclosing or carrying element, "!--" for comments.
	Text    string // Script source for script reflections, the attribute value otherwise.
}

// Closer returns the markup that ends the inert element holding r.
func (r Reflection) Closer() string {
	if r.Tag == "!--" {
		return "-->"
	}
	return "</" + r.Tag + ">"
}

// region is a byte range of a page whose text the parser does not read as markup.
type region struct {
	start, end int
	tag        string
}

func (g region) contains(i int) bool { return i >= g.start && i < g.end }

// textRegions returns the contents of raw-text elements (script, style, textarea,
// title and the like) and comments, in document order.
func textRegions(body string) []region {
	var out []region
	z := html.NewTokenizer(strings.NewReader(body))
	offset, rawTag := 0, ""
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		n := len(z.Raw())
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			if rawTextTags[string(name)] {
				rawTag = string(name)
			}
		case html.EndTagToken:
			rawTag = ""
		case html.TextToken:
			if rawTag != "" {
				out = append(out, region{start: offset, end: offset + n, tag: rawTag})
			}
		case html.CommentToken:
			out = append(out, region{start: offset, end: offset + n, tag: "!--"})
		}
		offset += n
	}
}

var rawTextTags = map[string]bool{
	"script": true, "style": true, "textarea": true, "title": true,
	"iframe": true, "noembed": true, "noframes": true, "noscript": true, "xmp": true,
}

// Classify tokenizes body and reports every reflection of marker in document order.
// Text inside <script> is a script reflection, attribute names and values are attribute
// reflections, text of other raw-text elements and comments is inert text, and any
// other text is an html-body reflection.
func Classify(body, marker string) []Reflection {
	if marker == "" || !strings.Contains(body, marker) {
		return nil
	}
	var out []Reflection
	z := html.NewTokenizer(strings.NewReader(body))
	rawTag := ""
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			for _, a := range tok.Attr {
				if strings.Contains(a.Key, marker) || strings.Contains(a.Val, marker) {
					out = append(out, Reflection{Context: payloads.ContextAttribute, Tag: tok.Data, Text: a.Val})
				}
			}
			if tt == html.StartTagToken && rawTextTags[tok.Data] {
				rawTag = tok.Data
			}
		case html.EndTagToken:
			rawTag = ""
		case html.TextToken:
			text := string(z.Text())
			if !strings.Contains(text, marker) {
				continue
			}
			switch rawTag {
			case "script":
				out = append(out, Reflection{Context: payloads.ContextScript, Tag: "script", Text: text})
			case "":
				out = append(out, Reflection{Context: payloads.ContextHTMLBody, Text: text})
			default:
				out = append(out, Reflection{Context: payloads.ContextInertText, Tag: rawTag, Text: text})
			}
		case html.CommentToken:
			if strings.Contains(string(z.Text()), marker) {
				out = append(out, Reflection{Context: payloads.ContextInertText, Tag: "!--"})
			}
		}
	}
}

var contextOrder = []payloads.XSSContext{
	payloads.ContextHTMLBody, payloads.ContextInertText, payloads.ContextAttribute, payloads.ContextScript,
}

// Contexts returns the distinct contexts of refs in a fixed order.
func Contexts(refs []Reflection) []payloads.XSSContext {
	seen := map[payloads.XSSContext]bool{}
	for _, r := range refs {
		seen[r.Context] = true
	}
	var out []payloads.XSSContext
	for _, c := range contextOrder {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// Tests returns the payload tests for refs, grouped by context in the order of
// Contexts. Inert-text reflections get one breakout set per distinct closer.
func Tests(refs []Reflection) []payloads.XSSTest {
	var out []payloads.XSSTest
	for _, c := range Contexts(refs) {
		if c != payloads.ContextInertText {
			out = append(out, payloads.XSSTestsFor(c)...)
			continue
		}
		seen := map[string]bool{}
		for _, r := range refs {
			if r.Context != c || seen[r.Closer()] {
				continue
			}
			seen[r.Closer()] = true
			out = append(out, payloads.BreakoutTests(r.Closer())...)
		}
	}
	return out
}

// domSink returns the first script reflection whose source writes into a DOM sink.
func domSink(refs []Reflection) (Reflection, string, bool) {
	for _, r := range refs {
		if r.Context != payloads.ContextScript {
			continue
		}
		if sink := payloads.DOMSinkPattern.FindString(r.Text); sink != "" {
			return r, sink, true
		}
	}
	return Reflection{}, "", false
}
