package auth

import (
	"net/http"
	"strings"
)

const (
	DefaultCallbackPath      = "/callback/"
	DefaultPagesHostPattern  = "github.io"
	DefaultPagesCallbackPath = "/tiktok-api-features/callback/"
)

// RedirectConfig derives the OAuth redirect URI from the incoming request.
// The provider compares it byte for byte with the registered URI, so the
// result depends only on scheme, host and this configuration.
type RedirectConfig struct {
	// CallbackPath is used for ordinary hosts.
	CallbackPath string
	// PagesHostPattern selects PagesCallbackPath when the host contains it.
	PagesHostPattern  string
	PagesCallbackPath string
	// TrustForwardedProto takes the scheme from X-Forwarded-Proto.
	TrustForwardedProto bool
}

func (c RedirectConfig) withDefaults() RedirectConfig {
	if c.CallbackPath == "" {
		c.CallbackPath = DefaultCallbackPath
	}
	if c.PagesHostPattern == "" {
		c.PagesHostPattern = DefaultPagesHostPattern
	}
	if c.PagesCallbackPath == "" {
		c.PagesCallbackPath = DefaultPagesCallbackPath
	}
	return c
}

// Paths returns the distinct callback paths to route.
func (c RedirectConfig) Paths() []string {
	c = c.withDefaults()
	if c.PagesCallbackPath == c.CallbackPath {
		return []string{c.CallbackPath}
	}
	return []string{c.CallbackPath, c.PagesCallbackPath}
}

// URI returns "{scheme}://{host}{path}" for r.
func (c RedirectConfig) URI(r *http.Request) string {
	c = c.withDefaults()
	p := c.CallbackPath
	if strings.Contains(r.Host, c.PagesHostPattern) {
		p = c.PagesCallbackPath
	}
	return requestScheme(r, c.TrustForwardedProto) + "://" + r.Host + p
}

func requestScheme(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			return proto
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
