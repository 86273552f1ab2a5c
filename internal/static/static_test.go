package static

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomkangali/kalki/internal/finding"
	"github.com/roomkangali/kalki/internal/tokenizer"
)

const page = `<html><body>
<form method="post" action="/comment"><input name="comment"></form>
<a href="javascript:alert(1)" target="_blank">x</a>
<img src=x onerror="alert(1)">
<form method="post" action="/transfer"><input type="hidden" name="csrf_token" value="abc"></form>
</body></html>`

func techniques(fs []finding.Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Technique
	}
	return out
}

func TestHTMLChecker_DocumentOrderAndOverlap(t *testing.T) {
	got, err := NewHTMLChecker().Analyze("http://t/", page)
	require.NoError(t, err)

	// The anchor is both a javascript: URI and a blank target; only the earlier
	// signature survives.
	assert.Equal(t, []string{
		"Form without anti-CSRF token",
		"javascript: URI",
		"Inline event handler",
	}, techniques(got))
	assert.Equal(t, "http://t/:2", got[0].Location)
	assert.Equal(t, finding.Low, got[0].Severity)
}

func TestCheckers_Deterministic(t *testing.T) {
	content := page + `<script>var q = "SELECT * FROM users WHERE id=" + id; document.getElementById("o").innerHTML = location.hash; eval(x);</script>`
	for _, c := range DefaultCheckers() {
		first, err1 := c.Analyze("u", content)
		second, err2 := c.Analyze("u", content)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, first, second, c.Name)
	}
}

func TestJSChecker_FlowSuppressesBareSink(t *testing.T) {
	got, err := NewJSChecker().Analyze("u", `el.innerHTML = location.hash;`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DOM source-to-sink flow", got[0].Technique)
	assert.Equal(t, finding.Medium, got[0].Severity)
}

func TestJSChecker_Signatures(t *testing.T) {
	tests := []struct {
		src  string
		want []string
	}{
		{`eval(x); document.write(y);`, []string{"eval() call", "document.write call"}},
		{`setTimeout("run()", 10)`, []string{"String-evaluated timer"}},
		{`setTimeout(run, 10)`, []string{}},
		{`var f = new Function("a", body)`, []string{"Function constructor"}},
		{`window.addEventListener("message", function(e) { render(e.data) })`, []string{"Message listener without origin check"}},
		{`window.addEventListener('message', function(e) { if (e.origin !== ok) return; })`, []string{}},
		{`localStorage.setItem("authToken", t)`, []string{"Secret stored in web storage"}},
	}
	for _, tt := range tests {
		got, err := NewJSChecker().Analyze("u", tt.src)
		require.NoError(t, err, tt.src)
		assert.Equal(t, tt.want, techniques(got), tt.src)
	}
}

func TestSQLChecker_Signatures(t *testing.T) {
	tests := []struct {
		src  string
		want []string
	}{
		{`q = "SELECT * FROM users WHERE id=" + id`, []string{"String-concatenated SQL query"}},
		{"db.query(`SELECT * FROM t WHERE name = '${name}'`)", []string{"Interpolated SQL query"}},
		{`<p>You have an error in your SQL syntax near ''</p>`, []string{"Database error disclosure"}},
		{`<a href="/item?id=1+UNION+SELECT+password">x</a>`, []string{"SQL keywords in URL parameter"}},
		{`<!-- SELECT name FROM accounts -->`, []string{"Raw SQL statement in page source"}},
		{`please select a plan from the list`, []string{}},
	}
	for _, tt := range tests {
		got, err := NewSQLChecker().Analyze("u", tt.src)
		require.NoError(t, err, tt.src)
		assert.Equal(t, tt.want, techniques(got), tt.src)
	}
}

func TestCheckers_EmptyInput(t *testing.T) {
	for _, c := range DefaultCheckers() {
		got, err := c.Analyze("u", "")
		assert.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestAnalyze_ParseErrorDegradesOneChecker(t *testing.T) {
	huge := `<div title="` + strings.Repeat("a", maxTokenBuf+1024) + `">` + `<script>eval(x)</script>`
	rep := Analyze("u", huge)

	require.Len(t, rep.ParseErrors, 1)
	assert.Contains(t, rep.ParseErrors[0], "HTML checker")
	assert.Zero(t, rep.CountsByChecker["HTML"])
	assert.Equal(t, 1, rep.CountsByChecker["JavaScript"])
}

func TestAnalyze_InvalidUTF8(t *testing.T) {
	rep := Analyze("u", "<img src=x onerror=alert(1)>\xff eval(x)")
	assert.Equal(t, 1, rep.CountsByChecker["HTML"])
	assert.Zero(t, rep.CountsByChecker["JavaScript"])
	assert.Len(t, rep.ParseErrors, 2)

	var pe *ParseError
	_, err := NewJSChecker().Analyze("u", "\xff")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.Offset)
}

func TestAnalyze_OversizedContent(t *testing.T) {
	rep := Analyze("u", strings.Repeat("x", MaxContentSize+1))
	assert.Len(t, rep.ParseErrors, 3)
	assert.Empty(t, rep.Findings)
	assert.Positive(t, rep.TotalTokens)
}

func TestAnalyze_TokenCounts(t *testing.T) {
	rep := Analyze("u", `<b>SELECT 1</b>`)
	assert.Equal(t, 2, rep.TokenCounts[tokenizer.Tag])
	assert.Equal(t, 1, rep.TokenCounts[tokenizer.Keyword])
	assert.Equal(t, 1, rep.TokenCounts[tokenizer.Number])
	assert.Equal(t, 4, rep.TotalTokens)
}
