package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type Option func(*apiClient)

// WithBaseURL points a publisher at another API host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *apiClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *apiClient) { c.http = h }
}

// statusClassifier turns a non-2xx response into an *Error. Platforms with
// structured error bodies supply their own.
type statusClassifier func(platform string, status int, body []byte) *Error

type apiClient struct {
	platform string
	baseURL  string
	http     *http.Client
	classify statusClassifier
}

func newAPIClient(platform, baseURL string, opts []Option) apiClient {
	c := apiClient{
		platform: platform,
		baseURL:  baseURL,
		http:     http.DefaultClient,
		classify: FromStatus,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *apiClient) url(path string) string {
	return c.baseURL + path
}

func (c *apiClient) postJSON(ctx context.Context, path, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return Permanent(c.platform, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return Permanent(c.platform, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.do(req, out)
}

func (c *apiClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
	if err != nil {
		return Permanent(c.platform, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *apiClient) get(ctx context.Context, path, bearer string, query url.Values, out any) error {
	u := c.url(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Permanent(c.platform, err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.do(req, out)
}

// do sends req and decodes a 2xx JSON body into out. Transport failures are
// transient.
func (c *apiClient) do(req *http.Request, out any) error {
	return c.doWith(c.http, req, out)
}

func (c *apiClient) doWith(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return Transient(c.platform, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient(c.platform, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.classify(c.platform, resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Transient(c.platform, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

var errNoRemoteID = errors.New("response carried no id")
