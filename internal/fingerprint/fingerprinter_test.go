package fingerprint

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roomkangali/kalki/internal/httpclient"
)

func TestAnalyze(t *testing.T) {
	resp := &httpclient.Response{
		Header: http.Header{
			"Server":       {"nginx/1.25.3"},
			"X-Powered-By": {"PHP/8.2.1"},
			"Set-Cookie":   {"wordpress_logged_in_abc=1; Path=/", "PHPSESSID=xyz; Path=/"},
		},
		Body: `<html><head><meta name="generator" content="WordPress 6.4.2">
<link rel="stylesheet" href="/wp-content/themes/x/style.css"></head></html>`,
	}

	fp := Analyze(resp)
	assert.Equal(t, "nginx/1.25.3", fp["Server"])
	assert.Equal(t, "PHP/8.2.1", fp["X-Powered-By"])
	assert.Equal(t, "cookie wordpress_logged_in_abc", fp["WordPress"], "cookie evidence wins over the body")
	assert.Equal(t, "cookie PHPSESSID", fp["PHP"])
	assert.Equal(t, "WordPress 6.4.2", fp["Generator"])
}

func TestAnalyze_NothingToSee(t *testing.T) {
	assert.Empty(t, Analyze(&httpclient.Response{Header: http.Header{}, Body: "<p>hello</p>"}))
	assert.Empty(t, Analyze(nil))
}
