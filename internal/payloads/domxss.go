package payloads

import "regexp"

// DOM sources and sinks used by both the static script checker and the XSS scanner's
// DOM classification.
var (
	DOMSourcePattern = regexp.MustCompile(`(?i)(location\.(hash|search|href|pathname)|document\.(URL|documentURI|location|referrer|cookie)|window\.name|localStorage|sessionStorage|URLSearchParams\s*\(\s*location\.search\s*\))`)

	DOMSinkPattern = regexp.MustCompile(`(?i)(\.(innerHTML|outerHTML)\s*\+?=|insertAdjacentHTML\s*\(|document\.writeln?\s*\(|\beval\s*\(|\bnew\s+Function\s*\(|\bset(Timeout|Interval)\s*\(\s*['"\x60]|\blocation(\.href)?\s*=[^=]|\$\([^)]*\)\.(html|append|prepend)\s*\()`)

	// DOMFlowPatterns match a source flowing into a sink within one statement.
	DOMFlowPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\b(innerHTML|outerHTML)\s*\+?=\s*[^;\n]{0,260}?(location\.(hash|search|href|pathname)|document\.(URL|documentURI|location|referrer)|window\.name|localStorage|sessionStorage)`),
		regexp.MustCompile(`(?is)\b(document\.writeln?|eval|insertAdjacentHTML|setTimeout|setInterval)\s*\(\s*[^)]{0,260}?(location\.(hash|search|href|pathname)|document\.(URL|documentURI|location|referrer)|window\.name|localStorage|sessionStorage)`),
		regexp.MustCompile(`(?is)\$\(\s*(location\.(hash|search|href)|document\.(URL|location)|window\.name)\s*\)\s*\.\s*(html|append|prepend)\s*\(`),
	}
)

// DOMMarkerPlaceholder is replaced with the element id the browser check looks for.
const DOMMarkerPlaceholder = "KALKI_DOM_MARKER"

// DOMXSSTest is a payload whose execution leaves a trackable element in the DOM.
type DOMXSSTest struct {
	Payload     string
	Description string
}

// DOMXSSPayloads are tried in order when a browser is available.
var DOMXSSPayloads = []DOMXSSTest{
	{
		Payload:     `<img id="KALKI_DOM_MARKER" src=x>`,
		Description: "Image tag injection with a trackable ID.",
	},
	{
		Payload:     `'"><img id="KALKI_DOM_MARKER" src=x>`,
		Description: "Break out of an attribute to inject an image tag with a trackable ID.",
	},
	{
		Payload:     `</script><img id="KALKI_DOM_MARKER" src=x>`,
		Description: "Break out of a script tag to inject an image tag.",
	},
	{
		Payload:     `<svg><svg/onload="document.body.innerHTML+='<i id=KALKI_DOM_MARKER></i>'"></svg>`,
		Description: "Triggering DOM injection via SVG onload event.",
	},
	{
		Payload:     `javascript:document.body.innerHTML+='<b id=KALKI_DOM_MARKER></b>'`,
		Description: "DOM injection via the javascript: protocol handler.",
	},
}
