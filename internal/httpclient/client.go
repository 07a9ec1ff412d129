// Package httpclient is the HTTP client factory shared by every outbound
// integration. Each integration class gets its own timeout profile but the
// same pooled transport settings.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config holds transport and timeout settings for one client profile.
type Config struct {
	// Timeout bounds the whole request, connect through body read.
	Timeout time.Duration

	// MaxIdleConns and MaxIdleConnsPerHost size the keep-alive pool.
	MaxIdleConns        int
	MaxIdleConnsPerHost int

	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns the shared transport settings with the given overall
// timeout.
func DefaultConfig(timeout time.Duration) Config {
	return Config{
		Timeout:               timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}

// New creates an HTTP client from cfg.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewModelProvider returns the client for language-model API calls. Long
// generations can hold the connection open for minutes.
func NewModelProvider() *http.Client {
	return New(DefaultConfig(120 * time.Second))
}

// NewPlatform returns the client for social-platform API calls.
func NewPlatform() *http.Client {
	return New(DefaultConfig(30 * time.Second))
}

// NewWebhook returns the client for outbound webhook deliveries. A zero
// timeout selects the 30s default.
func NewWebhook(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return New(DefaultConfig(timeout))
}
