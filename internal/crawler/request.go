package crawler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ParamLocation says where a request carries its parameters.
type ParamLocation string

const (
	LocationQuery ParamLocation = "query"
	LocationBody  ParamLocation = "body"
)

// ParameterizedRequest holds details of a request with identifiable parameters, suitable for scanning.
type ParameterizedRequest struct {
	Method     string        `json:"method"`
	URL        string        `json:"url"` // Action URL; query parameters live in Defaults for GET requests.
	Path       string        `json:"path"`
	ParamNames []string      `json:"param_names"`
	Location   ParamLocation `json:"location"`
	Enctype    string        `json:"enctype,omitempty"`
	Defaults   url.Values    `json:"defaults"`
	Inputs     []Input       `json:"inputs,omitempty"` // Set for form-derived requests.
	FormName   string        `json:"form_name,omitempty"`
	SourceURL  string        `json:"source_url"` // Page where the form or link was discovered.
}

// FromForm turns a parsed form into a scan target.
func FromForm(form Form, sourceURL string) ParameterizedRequest {
	req := ParameterizedRequest{
		Method:    form.Method,
		URL:       form.Action,
		Enctype:   form.Enctype,
		Defaults:  form.Values(),
		Inputs:    append([]Input(nil), form.Inputs...),
		FormName:  form.Name,
		SourceURL: sourceURL,
		Location:  LocationBody,
	}
	if req.Method == http.MethodGet {
		// A GET submission replaces the action's query string.
		req.Location = LocationQuery
		req.URL = stripQuery(form.Action)
	}
	seen := map[string]bool{}
	for _, in := range form.Inputs {
		if !seen[in.Name] {
			seen[in.Name] = true
			req.ParamNames = append(req.ParamNames, in.Name)
		}
	}
	req.Path = pathOf(req.URL)
	return req
}

// FromQuery returns the GET request carried by a link's query string.
func FromQuery(rawURL, sourceURL string) (ParameterizedRequest, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return ParameterizedRequest{}, false
	}
	q := u.Query()
	if len(q) == 0 {
		return ParameterizedRequest{}, false
	}
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	return ParameterizedRequest{
		Method:     http.MethodGet,
		URL:        stripQuery(rawURL),
		Path:       u.Path,
		ParamNames: names,
		Location:   LocationQuery,
		Defaults:   q,
		SourceURL:  sourceURL,
	}, true
}

// IsForm reports whether the request was derived from a <form>.
func (r ParameterizedRequest) IsForm() bool { return r.Inputs != nil }

// Values returns a copy of the default parameter values.
func (r ParameterizedRequest) Values() url.Values {
	out := make(url.Values, len(r.Defaults))
	for k, v := range r.Defaults {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// With returns the default values with param set to value.
func (r ParameterizedRequest) With(param, value string) url.Values {
	v := r.Values()
	v.Set(param, value)
	return v
}

// Input returns the form input called name.
func (r ParameterizedRequest) Input(name string) (Input, bool) {
	for _, in := range r.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Key identifies the request for deduplication: method, path and sorted parameter names.
func (r ParameterizedRequest) Key() string {
	names := append([]string(nil), r.ParamNames...)
	sort.Strings(names)
	return r.Method + " " + r.Path + " " + strings.Join(names, ",")
}

// NewRequest builds an *http.Request carrying values.
func (r ParameterizedRequest) NewRequest(values url.Values) (*http.Request, error) {
	if r.Location == LocationQuery {
		u, err := url.Parse(r.URL)
		if err != nil {
			return nil, err
		}
		u.RawQuery = values.Encode()
		return http.NewRequest(r.Method, u.String(), nil)
	}

	if r.Enctype == "multipart/form-data" {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range values[k] {
				if err := mw.WriteField(k, v); err != nil {
					return nil, err
				}
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequest(r.Method, r.URL, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}

	req, err := http.NewRequest(r.Method, r.URL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func stripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
