// Package fingerprint identifies server-side technologies from a single response.
package fingerprint

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/roomkangali/kalki/internal/httpclient"
)

// Fingerprint maps a technology or header name to what revealed it.
type Fingerprint map[string]string

var headerClues = []string{"Server", "X-Powered-By", "X-Generator", "X-AspNet-Version", "X-Drupal-Cache"}

var cookieClues = []struct {
	prefix string
	tech   string
}{
	{"wordpress_", "WordPress"},
	{"laravel_session", "Laravel"},
	{"PHPSESSID", "PHP"},
	{"JSESSIONID", "Java"},
	{"ASP.NET_SessionId", "ASP.NET"},
	{"csrftoken", "Django"},
	{"_rails_session", "Ruby on Rails"},
}

var bodyClues = []struct {
	marker string
	tech   string
}{
	{"/wp-content/", "WordPress"},
	{"wp-emoji", "WordPress"},
	{"/sites/default/files/", "Drupal"},
	{"csrfmiddlewaretoken", "Django"},
	{"__VIEWSTATE", "ASP.NET"},
}

// Analyze inspects the headers, cookies and HTML of resp. It sends no requests.
func Analyze(resp *httpclient.Response) Fingerprint {
	result := make(Fingerprint)
	if resp == nil {
		return result
	}

	for _, name := range headerClues {
		if v := resp.Header.Get(name); v != "" {
			result[name] = v
		}
	}
	for _, cookie := range resp.Cookies() {
		for _, clue := range cookieClues {
			if _, seen := result[clue.tech]; !seen && strings.HasPrefix(cookie.Name, clue.prefix) {
				result[clue.tech] = "cookie " + cookie.Name
			}
		}
	}
	for _, clue := range bodyClues {
		if _, seen := result[clue.tech]; !seen && strings.Contains(resp.Body, clue.marker) {
			result[clue.tech] = "HTML content " + clue.marker
		}
	}
	if gen := metaGenerator(resp.Body); gen != "" {
		result["Generator"] = gen
	}
	return result
}

// metaGenerator returns the content of <meta name="generator">.
func metaGenerator(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			var name, content string
			for _, a := range tok.Attr {
				switch a.Key {
				case "name":
					name = a.Val
				case "content":
					content = a.Val
				}
			}
			if strings.EqualFold(name, "generator") && content != "" {
				return content
			}
		}
	}
}
