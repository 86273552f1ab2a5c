package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/roomkangali/kalki/internal/httpclient"
	"github.com/roomkangali/kalki/internal/logger"
)

// excludedExtensions defines file types that are not relevant for vulnerability scanning.
var excludedExtensions = []string{
	// Images
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp", ".ico",
	// Stylesheets and fonts
	".css", ".woff", ".woff2", ".ttf", ".eot",
	// Archives and documents
	".zip", ".rar", ".tar", ".gz", ".pdf", ".doc", ".docx", ".xls", ".xlsx",
	// Media
	".mp3", ".mp4", ".avi", ".mov",
}

// logoutKeywords keep the crawler from ending the authenticated session.
var logoutKeywords = []string{"logout", "logoff", "signout", "sign-out"}

// MaxPages bounds a single crawl regardless of depth.
const MaxPages = 200

// Renderer returns the DOM of a page after scripts ran.
type Renderer interface {
	RenderHTML(ctx context.Context, pageURL string) (string, error)
}

// Page is a fetched document.
type Page struct {
	URL   string
	Body  string
	Depth int
}

// Result is everything a crawl discovered, in discovery order.
type Result struct {
	Pages    []Page
	Forms    []Form
	Requests []ParameterizedRequest
}

// Crawler walks same-origin links breadth first up to a depth limit.
type Crawler struct {
	client      *httpclient.Client
	logger      *logger.Logger
	renderer    Renderer
	origin      string
	maxDepth    int
	concurrency int

	mu      sync.Mutex
	visited map[string]bool
}

// NewCrawler creates a Crawler scoped to the scheme and host of targetURL. rend may be nil.
func NewCrawler(client *httpclient.Client, log *logger.Logger, targetURL string, maxDepth, concurrency int, rend Renderer) (*Crawler, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Crawler{
		client:      client,
		logger:      log,
		renderer:    rend,
		origin:      u.Scheme + "://" + u.Host,
		maxDepth:    maxDepth,
		concurrency: concurrency,
		visited:     make(map[string]bool),
	}, nil
}

// Crawl starts from an already fetched root page. Pages at depth <= maxDepth are parsed;
// the root is depth 0. Fetch failures of linked pages are logged and skipped. When ctx
// is done the pages gathered so far are returned with ctx.Err().
func (c *Crawler) Crawl(ctx context.Context, root Page) (Result, error) {
	var res Result
	seenReq := map[string]bool{}

	c.markVisited(root.URL)
	level := []Page{root}
	for depth := 0; len(level) > 0; depth++ {
		var next []string
		for _, page := range level {
			links, forms := c.extract(page)
			res.Pages = append(res.Pages, page)
			for _, form := range forms {
				if !c.inScope(form.Action) {
					c.logger.Debug("Crawler: Skipping form, %s is out of scope.", form.Action)
					continue
				}
				res.Forms = append(res.Forms, form)
				c.addRequest(&res, seenReq, FromForm(form, page.URL))
			}
			if req, ok := FromQuery(page.URL, page.URL); ok {
				c.addRequest(&res, seenReq, req)
			}
			for _, link := range links {
				if req, ok := FromQuery(link, page.URL); ok {
					c.addRequest(&res, seenReq, req)
				}
				if depth < c.maxDepth && c.shouldCrawl(link) {
					c.markVisited(link)
					next = append(next, link)
				}
			}
		}
		if room := MaxPages - len(res.Pages); len(next) > room {
			next = next[:room]
		}
		if len(next) == 0 {
			break
		}

		fetched, err := c.fetchLevel(ctx, next, depth+1)
		if err != nil {
			return res, err
		}
		level = fetched
	}
	return res, nil
}

// fetchLevel fetches one depth level concurrently and keeps link order.
func (c *Crawler) fetchLevel(ctx context.Context, urls []string, depth int) ([]Page, error) {
	pages := make([]*Page, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			body, ok := c.load(gctx, u)
			if ok {
				pages[i] = &Page{URL: u, Body: body, Depth: depth}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, ctx.Err()
}

func (c *Crawler) load(ctx context.Context, pageURL string) (string, bool) {
	c.logger.Debug("Crawling: %s", pageURL)
	if c.renderer != nil {
		body, err := c.renderer.RenderHTML(ctx, pageURL)
		if err == nil {
			return body, true
		}
		c.logger.Warn("Renderer failed for %s, falling back to HTTP: %v", pageURL, err)
	}
	resp, err := c.client.Fetch(ctx, pageURL)
	if err != nil {
		c.logger.Debug("Crawler: %v", err)
		return "", false
	}
	if resp.StatusCode >= 400 {
		return "", false
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "html") {
		return "", false
	}
	return resp.Body, true
}

// extract collects in-scope links and all forms from a page.
func (c *Crawler) extract(page Page) ([]string, []Form) {
	forms, err := ParseForms(page.URL, page.Body)
	if err != nil {
		c.logger.Debug("Crawler: %v", err)
	}

	var links []string
	z := html.NewTokenizer(strings.NewReader(page.Body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		var key string
		switch tok.Data {
		case "a", "area", "link":
			key = "href"
		case "iframe", "frame":
			key = "src"
		default:
			continue
		}
		for _, a := range tok.Attr {
			if a.Key != key {
				continue
			}
			if resolved := resolveURL(page.URL, a.Val); resolved != "" && c.inScope(resolved) {
				links = append(links, resolved)
			}
			break
		}
	}
	return links, forms
}

func (c *Crawler) addRequest(res *Result, seen map[string]bool, req ParameterizedRequest) {
	key := req.Key()
	if seen[key] {
		return
	}
	seen[key] = true
	res.Requests = append(res.Requests, req)
	c.logger.Debug("Crawler: Added parameterized request target: %s %s with params %v", req.Method, req.Path, req.ParamNames)
}

func (c *Crawler) inScope(u string) bool {
	return u == c.origin || strings.HasPrefix(u, c.origin+"/") || strings.HasPrefix(u, c.origin+"?")
}

// shouldCrawl determines if a URL should be crawled based on various criteria.
func (c *Crawler) shouldCrawl(u string) bool {
	c.mu.Lock()
	visited := c.visited[normalize(u)]
	c.mu.Unlock()
	if visited || !c.inScope(u) {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	path := strings.ToLower(parsed.Path)
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	lower := strings.ToLower(u)
	for _, keyword := range logoutKeywords {
		if strings.Contains(lower, keyword) {
			c.logger.Debug("Crawler: Skipping potential logout URL: %s", u)
			return false
		}
	}
	return true
}

func (c *Crawler) markVisited(u string) {
	c.mu.Lock()
	c.visited[normalize(u)] = true
	c.mu.Unlock()
}

// normalize drops the fragment and a trailing slash so trivially different spellings
// of a page are visited once.
func normalize(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimSuffix(u, "/")
}
