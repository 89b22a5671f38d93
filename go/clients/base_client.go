package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status code: %d, response: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// BaseClient is an HTTP client bound to one origin. Its cookie jar is meant
// to be shared with the websocket dialer so both carry the same session.
type BaseClient struct {
	baseURL *url.URL
	client  *http.Client
	headers map[string]string
}

func NewBaseClient(baseURL string) (*BaseClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &BaseClient{
		baseURL: u,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		headers: make(map[string]string),
	}, nil
}

// BaseURL returns the origin requests are sent to.
func (c *BaseClient) BaseURL() string {
	return c.baseURL.String()
}

// Jar returns the cookie jar shared by every request.
func (c *BaseClient) Jar() http.CookieJar {
	return c.client.Jar
}

// SetCookie stores a cookie for the client's origin.
func (c *BaseClient) SetCookie(cookie *http.Cookie) {
	c.client.Jar.SetCookies(c.baseURL, []*http.Cookie{cookie})
}

// Cookie returns the named cookie the jar would send to the origin.
func (c *BaseClient) Cookie(name string) (*http.Cookie, bool) {
	for _, ck := range c.client.Jar.Cookies(c.baseURL) {
		if ck.Name == name {
			return ck, true
		}
	}
	return nil, false
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(responseBody)),
		}
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, "", nil)
}

func (c *BaseClient) PostRaw(ctx context.Context, endpoint, contentType string, body []byte) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, contentType, body)
}

func (c *BaseClient) PostForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, "application/x-www-form-urlencoded;charset=UTF-8", []byte(form.Encode()))
}
