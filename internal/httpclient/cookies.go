package httpclient

import (
	"net/http"
	"net/url"
	"sort"
	"sync"
)

// recordingJar forwards to the session jar and keeps the cookies servers issued, with
// their attributes, keyed by host. The session jar only returns name and value, and a
// server that already sees its session cookie usually does not set it again.
type recordingJar struct {
	http.CookieJar

	mu     sync.Mutex
	issued map[string]map[string]*http.Cookie
}

func newRecordingJar(jar http.CookieJar) *recordingJar {
	return &recordingJar{CookieJar: jar, issued: make(map[string]map[string]*http.Cookie)}
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.CookieJar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	byName := j.issued[u.Host]
	if byName == nil {
		byName = make(map[string]*http.Cookie)
		j.issued[u.Host] = byName
	}
	for _, c := range cookies {
		if c.MaxAge < 0 {
			delete(byName, c.Name)
			continue
		}
		cp := *c
		byName[c.Name] = &cp
	}
}

func (j *recordingJar) issuedFor(host string) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*http.Cookie, 0, len(j.issued[host]))
	for _, c := range j.issued[host] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// IssuedCookies returns the cookies the host of rawURL has set during the session, as
// last set, with their Set-Cookie attributes. Static cookies from the configuration
// are not included.
func (c *Client) IssuedCookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return c.jar.issuedFor(u.Host)
}
