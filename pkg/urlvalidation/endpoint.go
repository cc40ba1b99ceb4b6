package urlvalidation

import (
	"fmt"
	"net/url"
	"strings"
)

// Option configures URL validation behavior.
type Option func(*validationConfig)

type validationConfig struct {
	requireTLS bool
}

// RequireTLS rejects the plaintext ws and http schemes.
func RequireTLS() Option {
	return func(c *validationConfig) {
		c.requireTLS = true
	}
}

// ValidateSocketURL checks that a URL is usable as a recognizer websocket endpoint.
func ValidateSocketURL(rawURL string, opts ...Option) error {
	return validate(rawURL, "ws", "wss", opts)
}

// ValidateHTTPURL checks that a URL is usable as a REST API base.
func ValidateHTTPURL(rawURL string, opts ...Option) error {
	return validate(rawURL, "http", "https", opts)
}

func validate(rawURL, plain, secure string, opts []Option) error {
	var cfg validationConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == secure:
	case scheme == plain && !cfg.requireTLS:
	case scheme == plain:
		return fmt.Errorf("URL scheme %q not allowed; use %s", u.Scheme, secure)
	default:
		return fmt.Errorf("URL scheme %q not allowed; use %s or %s", u.Scheme, plain, secure)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	if u.User != nil {
		return fmt.Errorf("URL must not embed credentials")
	}

	return nil
}

// AppendPathSegment returns base with one escaped path segment appended.
// An empty segment returns base unchanged.
func AppendPathSegment(base, segment string) (string, error) {
	if segment == "" {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	return u.JoinPath(url.PathEscape(segment)).String(), nil
}
