// Package session builds the HTTP client configuration shared by every worker.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
)

const (
	defaultUserAgent  = "livecrawl/1.0"
	defaultAPIVersion = "3.0.40"
	defaultTimeout    = 15 * time.Second
)

// Config describes how to authenticate and identify against the API.
type Config struct {
	AuthToken    string
	TokenFile    string
	UserAgent    string
	APIVersion   string
	ExtraHeaders map[string]string
	Timeout      time.Duration
	MaxIdleConns int
}

// Session owns the client configuration and its transport for one crawl.
type Session struct {
	client    crawler.ClientConfig
	transport *http.Transport
}

// New resolves credentials and builds the shared client configuration.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("User-Agent", firstNonEmpty(cfg.UserAgent, defaultUserAgent))
	headers.Set("x-api-version", firstNonEmpty(cfg.APIVersion, defaultAPIVersion))
	headers.Set("Accept", "application/json")
	for k, v := range cfg.ExtraHeaders {
		headers.Set(k, v)
	}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	} else {
		logger.Warn("no auth token configured, crawling anonymously")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := newTransport(cfg.MaxIdleConns)

	return &Session{
		client: crawler.ClientConfig{
			Headers:   headers,
			Transport: transport,
			Timeout:   timeout,
		},
		transport: transport,
	}, nil
}

// Client returns the shared, read-only client configuration.
func (s *Session) Client() crawler.ClientConfig {
	return s.client
}

// Close releases pooled connections.
func (s *Session) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

func resolveToken(cfg Config) (string, error) {
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		return token, nil
	}
	if cfg.TokenFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("token file %q not found: %w", cfg.TokenFile, err)
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func newTransport(maxIdle int) *http.Transport {
	if maxIdle <= 0 {
		maxIdle = 100
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		IdleConnTimeout:       90 * time.Second,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
