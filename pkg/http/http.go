package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/NamanBalaji/rdm/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "RDM/1.0"

	defaultDownloadName = "download"
)

type Client struct {
	*http.Client

	userAgent string
}

type options struct {
	userAgent      string
	connectTimeout time.Duration
}

type Option func(*options)

func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		if userAgent != "" {
			o.userAgent = userAgent
		}
	}
}

// WithConnectTimeout bounds dialing, the TLS handshake and waiting for response headers.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.connectTimeout = timeout
		}
	}
}

// StatusError carries the HTTP status code of a failed response.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewClient creates a new HTTP client with custom transport settings.
func NewClient(opts ...Option) *Client {
	o := &options{
		userAgent:      DefaultUserAgent,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   o.connectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: o.connectTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		DisableCompression:    true,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	return &Client{
		Client: &http.Client{
			Transport: transport,
		},
		userAgent: o.userAgent,
	}
}

// Range performs an open-ended Range GET starting at offset. The caller owns
// the response body; ctx governs the whole transfer, including body reads.
func (c *Client) Range(ctx context.Context, urlStr string, offset int64, headers map[string]string) (*http.Response, error) {
	req, err := c.generateRequest(ctx, urlStr, http.MethodGet, headers)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	logger.Debugf("Sending Range GET request to %s, range bytes=%d-", urlStr, offset)

	resp, err := c.Do(req)
	if err != nil {
		logger.Debugf("Range GET request failed for %s: %v", urlStr, err)
		return nil, ClassifyError(err)
	}

	logger.Debugf("Range GET response for %s: status=%d, content-length=%d", urlStr, resp.StatusCode, resp.ContentLength)

	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: ClassifyHTTPError(resp.StatusCode)}
	}

	return resp, nil
}

// generateRequest creates a new HTTP request with the specified method and URL.
func (c *Client) generateRequest(ctx context.Context, urlStr, method string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, http.NoBody)
	if err != nil {
		logger.Errorf("Failed to create %s request for %s: %v", method, urlStr, err)
		return nil, fmt.Errorf("%w: %w", ErrRequestCreation, err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// ContentRange is a parsed "Content-Range: bytes start-end/total" header.
// Total is -1 when the server reports it as unknown.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// ParseContentRange parses a satisfied byte range header.
func ParseContentRange(header string) (ContentRange, error) {
	byteRange, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return ContentRange{}, ErrInvalidContentRange
	}

	rng, size, ok := strings.Cut(byteRange, "/")
	if !ok {
		return ContentRange{}, ErrInvalidContentRange
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return ContentRange{}, ErrInvalidContentRange
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return ContentRange{}, ErrInvalidContentRange
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return ContentRange{}, ErrInvalidContentRange
	}

	cr := ContentRange{Start: start, End: end, Total: -1}

	if size != "*" {
		total, err := strconv.ParseInt(size, 10, 64)
		if err != nil || total <= end {
			return ContentRange{}, ErrInvalidContentRange
		}

		cr.Total = total
	}

	return cr, nil
}

// FilenameFromURL derives a file name from the URL's filename query parameter or path.
func FilenameFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return defaultDownloadName
	}

	if qname := u.Query().Get("filename"); qname != "" {
		return path.Base(qname)
	}

	base := path.Base(u.Path)
	if base != "" && base != "/" && base != "." {
		return base
	}

	return defaultDownloadName
}

// IsHTTPURL reports whether urlStr is an absolute http or https URL with a host.
func IsHTTPURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
