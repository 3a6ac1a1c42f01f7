package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20
	DefaultRequestTimeout = 30 * time.Second
	DefaultHTTPRetryMax   = 2
)

var ErrHTTPDisabled = errors.New("http not enabled")

type HTTPConfig struct {
	AllowedHosts   []string // Exact hosts; subdomains of an entry are allowed too
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
	RetryMax       int // Retries for idempotent methods only
}

// HTTP gives scripts outbound requests to an allow-list of hosts.
type HTTP struct {
	cfg      HTTPConfig
	retrying *retryablehttp.Client
	once     *retryablehttp.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &HTTP{
		cfg:      cfg,
		retrying: newRetryClient(cfg, cfg.RetryMax),
		once:     newRetryClient(cfg, 0),
	}
}

func newRetryClient(cfg HTTPConfig, retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.HTTPClient.Timeout = cfg.RequestTimeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = nil
	return c
}

// Request performs args.method (default GET) on args.url with optional
// args.body and args.headers, and returns {status, body, headers}.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	if len(h.cfg.AllowedHosts) == 0 {
		return nil, ErrHTTPDisabled
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	var client *retryablehttp.Client
	switch method {
	case "GET", "HEAD", "OPTIONS", "PUT", "DELETE":
		client = h.retrying
	case "POST", "PATCH":
		client = h.once
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, errors.New("url required")
	}
	if len(rawURL) > h.cfg.MaxURLLength {
		return nil, errors.New("url exceeds max length")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}
	if host := parsed.Hostname(); !h.allowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	var body []byte
	if s, ok := args["body"].(string); ok && s != "" {
		if int64(len(s)) > h.cfg.MaxBodySize {
			return nil, errors.New("request body exceeds max size")
		}
		body = []byte(s)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"body":    string(respBody),
		"headers": headers,
	}, nil
}

func (h *HTTP) allowed(host string) bool {
	for _, a := range h.cfg.AllowedHosts {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
