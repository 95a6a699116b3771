package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

const defaultMaxBodyBytes = 5 * 1024 * 1024

// Config controls the HTTP transport.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// BlockKeywords are lowercase markers that, combined with a 403/429/503
	// status, classify a response as blocked rather than a plain HTTP error.
	BlockKeywords []string
}

// Client implements pipeline.Transport over net/http, building one
// underlying http.Client per identity profile so connections carrying one
// TLS signature are never reused for another.
type Client struct {
	cfg      Config
	registry *Registry
	detector *BlockDetector

	mu      sync.Mutex
	clients map[string]*http.Client
}

// New builds a Client over the given profile registry.
func New(registry *Registry, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Client{
		cfg:      cfg,
		registry: registry,
		detector: NewBlockDetector(cfg.BlockKeywords),
		clients:  make(map[string]*http.Client),
	}
}

// Fetch issues a single GET under the named profile. Network failures come
// back as classified *pipeline.TransportError values; responses with status
// >= 400 are errors too, classified as blocked or http-error. The result is
// returned alongside the error when a response body was read.
func (c *Client) Fetch(ctx context.Context, url string, profile string) (pipeline.FetchResult, error) {
	p, err := c.registry.Lookup(profile)
	if err != nil {
		return pipeline.FetchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pipeline.FetchResult{}, fmt.Errorf("build request: %w", err)
	}
	applyProfileHeaders(req, p)

	start := time.Now()
	resp, err := c.clientFor(p).Do(req)
	if err != nil {
		return pipeline.FetchResult{}, classify(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side already captured

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return pipeline.FetchResult{}, classify(ctx, err)
	}

	result := pipeline.FetchResult{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Elapsed:    time.Since(start),
		Profile:    p.Name,
	}
	if resp.StatusCode >= 400 {
		if c.detector.Blocked(resp.StatusCode, body) {
			return result, &pipeline.TransportError{Kind: pipeline.KindBlocked, Code: resp.StatusCode}
		}
		return result, pipeline.NewHTTPError(resp.StatusCode)
	}
	return result, nil
}

func (c *Client) clientFor(p Profile) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[p.Name]; ok {
		return client
	}
	minVer, _ := tlsVersion(p.TLSMinVersion)
	maxVer, _ := tlsVersion(p.TLSMaxVersion)
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: minVer,
			MaxVersion: maxVer,
		},
		ForceAttemptHTTP2:     p.ForceHTTP2,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   c.cfg.Timeout,
	}
	c.clients[p.Name] = client
	return client
}

func applyProfileHeaders(req *http.Request, p Profile) {
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}
}

// classify maps low-level request errors to the transport error taxonomy.
// Caller cancellation is passed through untouched so the coordinator can
// tell it apart from target misbehavior.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &pipeline.TransportError{Kind: pipeline.KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &pipeline.TransportError{Kind: pipeline.KindTimeout, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &pipeline.TransportError{Kind: pipeline.KindConnRefused, Err: err}
	}
	if isTLSError(err) {
		return &pipeline.TransportError{Kind: pipeline.KindTLS, Err: err}
	}
	return &pipeline.TransportError{Kind: pipeline.KindConnRefused, Err: err}
}

func isTLSError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		certErr   *tls.CertificateVerificationError
		x509Err   x509.UnknownAuthorityError
		hostErr   x509.HostnameError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &certErr) ||
		errors.As(err, &x509Err) ||
		errors.As(err, &hostErr)
}
