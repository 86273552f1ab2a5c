package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Input is a named form control.
type Input struct {
	Name  string `json:"name"`
	Type  string `json:"type"` // Lower-cased type attribute, or the tag name for textarea/select/button.
	Value string `json:"value"`
}

// Form is a <form> element with its action resolved against the page URL.
type Form struct {
	Name    string  `json:"name,omitempty"` // name attribute, falling back to id.
	Action  string  `json:"action"`
	Method  string  `json:"method"` // Upper-cased, GET when absent.
	Enctype string  `json:"enctype"`
	Inputs  []Input `json:"inputs"`
}

// Values returns the form's default submission values in field order.
func (f Form) Values() url.Values {
	v := url.Values{}
	for _, in := range f.Inputs {
		v.Add(in.Name, in.Value)
	}
	return v
}

// Field returns the first input with the given name.
func (f Form) Field(name string) (Input, bool) {
	for _, in := range f.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Label identifies the form in logs and findings.
func (f Form) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Method + " " + f.Action
}

// ParseForms extracts every form from an HTML document. Controls without a name are
// dropped, as are unnamed submit and reset buttons; forms left without any named
// control are skipped.
func ParseForms(baseURL, body string) ([]Form, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", baseURL, err)
	}

	var forms []Form
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			if form, ok := parseForm(n, baseURL); ok {
				forms = append(forms, form)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return forms, nil
}

func parseForm(n *html.Node, baseURL string) (Form, bool) {
	form := Form{
		Method:  strings.ToUpper(strings.TrimSpace(nodeAttr(n, "method"))),
		Enctype: strings.ToLower(strings.TrimSpace(nodeAttr(n, "enctype"))),
		Name:    nodeAttr(n, "name"),
	}
	if form.Name == "" {
		form.Name = nodeAttr(n, "id")
	}
	if form.Method != "POST" {
		form.Method = "GET"
	}
	if form.Enctype == "" {
		form.Enctype = "application/x-www-form-urlencoded"
	}
	form.Action = resolveURL(baseURL, nodeAttr(n, "action"))
	if form.Action == "" {
		return Form{}, false
	}

	var findInputs func(*html.Node)
	findInputs = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.Data {
			case "input", "textarea", "select", "button":
				if in, ok := parseInput(node); ok {
					form.Inputs = append(form.Inputs, in)
				}
				// Options and button text are read by parseInput.
				if node.Data != "input" {
					return
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			findInputs(child)
		}
	}
	findInputs(n)
	return form, len(form.Inputs) > 0
}

func parseInput(node *html.Node) (Input, bool) {
	in := Input{
		Name:  nodeAttr(node, "name"),
		Type:  strings.ToLower(nodeAttr(node, "type")),
		Value: nodeAttr(node, "value"),
	}
	switch node.Data {
	case "input":
		if in.Type == "" {
			in.Type = "text"
		}
	case "textarea":
		in.Type = "textarea"
		in.Value = textContent(node)
	case "select":
		in.Type = "select"
		in.Value = selectedOption(node)
	case "button":
		if in.Type == "" {
			in.Type = "submit"
		}
		if in.Value == "" {
			in.Value = strings.TrimSpace(textContent(node))
		}
	}
	if in.Name == "" {
		return Input{}, false
	}
	return in, true
}

// selectedOption returns the value of the selected option, or the first one.
func selectedOption(sel *html.Node) string {
	var first, selected *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "option" {
			if first == nil {
				first = n
			}
			if selected == nil && hasAttr(n, "selected") {
				selected = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)
	if selected == nil {
		selected = first
	}
	if selected == nil {
		return ""
	}
	if hasAttr(selected, "value") {
		return nodeAttr(selected, "value")
	}
	return strings.TrimSpace(textContent(selected))
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

// resolveURL resolves href against baseURL and drops the fragment. An empty href
// resolves to the base itself, as browsers do for form actions.
func resolveURL(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
