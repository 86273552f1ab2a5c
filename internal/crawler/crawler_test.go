package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
)

const loginPage = `<html><body>
<form id="login" method="post" action="/session">
  <input type="text" name="user">
  <input type="password" name="pass">
  <input type="hidden" name="csrf_token" value="t0k3n">
  <textarea name="note">hello</textarea>
  <select name="lang"><option value="en">English</option><option value="id" selected>Bahasa</option></select>
  <button name="go">Sign in</button>
  <input type="submit" value="unnamed">
</form>
<form action="search"><input name="q" value="x"></form>
<form method="post"><input type="submit"></form>
</body></html>`

func TestParseForms(t *testing.T) {
	forms, err := ParseForms("http://t.example/app/index.html", loginPage)
	require.NoError(t, err)
	require.Len(t, forms, 2)

	login := forms[0]
	assert.Equal(t, "login", login.Name)
	assert.Equal(t, "POST", login.Method)
	assert.Equal(t, "http://t.example/session", login.Action)
	assert.Equal(t, "application/x-www-form-urlencoded", login.Enctype)
	assert.Equal(t, []Input{
		{Name: "user", Type: "text"},
		{Name: "pass", Type: "password"},
		{Name: "csrf_token", Type: "hidden", Value: "t0k3n"},
		{Name: "note", Type: "textarea", Value: "hello"},
		{Name: "lang", Type: "select", Value: "id"},
		{Name: "go", Type: "submit", Value: "Sign in"},
	}, login.Inputs)

	search := forms[1]
	assert.Equal(t, "GET", search.Method)
	assert.Equal(t, "http://t.example/app/search", search.Action)
	assert.Equal(t, "x", search.Values().Get("q"))
}

func TestParseForms_Empty(t *testing.T) {
	forms, err := ParseForms("http://t/", "")
	require.NoError(t, err)
	assert.Empty(t, forms)
}

func TestFromForm_GetReplacesQuery(t *testing.T) {
	req := FromForm(Form{Method: "GET", Action: "http://t/find?old=1", Inputs: []Input{{Name: "q", Value: "a"}}}, "http://t/")
	assert.Equal(t, LocationQuery, req.Location)
	assert.Equal(t, "http://t/find", req.URL)

	hr, err := req.NewRequest(req.With("q", "b c"))
	require.NoError(t, err)
	assert.Equal(t, "http://t/find?q=b+c", hr.URL.String())
}

func TestNewRequest_Body(t *testing.T) {
	req := FromForm(Form{Method: "POST", Action: "http://t/post", Enctype: "multipart/form-data", Inputs: []Input{{Name: "a", Value: "1"}}}, "http://t/")
	hr, err := req.NewRequest(req.Values())
	require.NoError(t, err)
	assert.Contains(t, hr.Header.Get("Content-Type"), "multipart/form-data; boundary=")
	require.NoError(t, hr.ParseMultipartForm(1<<20))
	assert.Equal(t, "1", hr.FormValue("a"))

	req.Enctype = "application/x-www-form-urlencoded"
	hr, err = req.NewRequest(req.With("a", "x&y"))
	require.NoError(t, err)
	require.NoError(t, hr.ParseForm())
	assert.Equal(t, "x&y", hr.PostForm.Get("a"))
}

func TestFromQuery(t *testing.T) {
	req, ok := FromQuery("http://t/item?id=3&cat=b#frag", "http://t/")
	require.True(t, ok)
	assert.Equal(t, []string{"cat", "id"}, req.ParamNames)
	assert.Equal(t, "http://t/item", req.URL)
	assert.Equal(t, "3", req.Defaults.Get("id"))
	assert.False(t, req.IsForm())

	_, ok = FromQuery("http://t/item", "http://t/")
	assert.False(t, ok)
}

func TestValuesIsACopy(t *testing.T) {
	req := FromForm(Form{Method: "POST", Action: "http://t/p", Inputs: []Input{{Name: "a", Value: "1"}}}, "")
	v := req.With("a", "2")
	assert.Equal(t, "2", v.Get("a"))
	assert.Equal(t, "1", req.Defaults.Get("a"))
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/a">a</a><a href="/logout">bye</a><a href="/img.png">i</a><a href="http://elsewhere.example/x">x</a>
<form method="post" action="/comment"><input name="body"></form>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/b?id=7">b</a><form method="post" action="/comment"><input name="body"></form>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/c">c</a><form action="/search"><input name="q"></form>`)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("depth limit exceeded: /c was fetched")
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("logout link was followed")
	})
	return httptest.NewServer(mux)
}

func TestCrawl_DepthScopeAndDedup(t *testing.T) {
	srv := newSite(t)
	defer srv.Close()

	client, err := httpclient.NewClient(logger.Discard(), httpclient.ClientOptions{})
	require.NoError(t, err)
	root, err := client.Get(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	c, err := NewCrawler(client, logger.Discard(), srv.URL, 2, 2, nil)
	require.NoError(t, err)
	res, err := c.Crawl(context.Background(), Page{URL: srv.URL + "/", Body: root.Body})
	require.NoError(t, err)

	var pages []string
	for _, p := range res.Pages {
		pages = append(pages, p.URL)
	}
	assert.Equal(t, []string{srv.URL + "/", srv.URL + "/a", srv.URL + "/b?id=7"}, pages)

	var keys []string
	for _, r := range res.Requests {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{
		"POST /comment body",
		"GET /b id",
		"GET /search q",
	}, keys)
}

func TestCrawl_DepthZeroParsesRootOnly(t *testing.T) {
	client, err := httpclient.NewClient(logger.Discard(), httpclient.ClientOptions{})
	require.NoError(t, err)
	c, err := NewCrawler(client, logger.Discard(), "http://t.invalid", 0, 1, nil)
	require.NoError(t, err)

	res, err := c.Crawl(context.Background(), Page{URL: "http://t.invalid/", Body: `<a href="/x?y=1">x</a><form method="post"><input name="a"></form>`})
	require.NoError(t, err)
	assert.Len(t, res.Pages, 1)
	require.Len(t, res.Requests, 2)
	assert.Equal(t, "POST", res.Requests[0].Method)
	assert.Equal(t, "http://t.invalid/", res.Requests[0].URL)
	assert.Equal(t, "GET /x y", res.Requests[1].Key())
}

type fakeRenderer struct{ body string }

func (f fakeRenderer) RenderHTML(ctx context.Context, pageURL string) (string, error) {
	return f.body, nil
}

func TestCrawl_UsesRenderer(t *testing.T) {
	client, err := httpclient.NewClient(logger.Discard(), httpclient.ClientOptions{})
	require.NoError(t, err)
	c, err := NewCrawler(client, logger.Discard(), "http://t.invalid", 1, 1, fakeRenderer{body: `<form action="/rendered"><input name="r"></form>`})
	require.NoError(t, err)

	res, err := c.Crawl(context.Background(), Page{URL: "http://t.invalid/", Body: `<a href="/spa">spa</a>`})
	require.NoError(t, err)
	require.Len(t, res.Requests, 1)
	assert.Equal(t, "GET /rendered r", res.Requests[0].Key())
}
