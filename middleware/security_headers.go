package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mnehpets/reelboard/endpoint"
)

// DashboardCSP is the default policy for rendered pages. Avatars and video
// covers are served from the provider's CDN, so images may load from any
// https origin.
const DashboardCSP = "default-src 'self'; img-src 'self' https: data:; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'; base-uri 'self'; form-action 'self'; frame-ancestors 'none'"

// APICSP is the default policy for JSON responses.
const APICSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeadersProcessor sets security headers on every response.
//
// Defaults for NewSecurityHeadersProcessor (pages):
//   - HSTS: max-age=31536000; includeSubDomains
//   - Referrer-Policy: strict-origin-when-cross-origin
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: DashboardCSP
//   - Cross-Origin-Opener-Policy: same-origin
//
// Cross-Origin-Embedder-Policy is left unset: require-corp would block the
// CDN images the dashboard renders.
type SecurityHeadersProcessor struct {
	// HSTS configures Strict-Transport-Security. nil disables it.
	HSTS *HSTSConfig

	ReferrerPolicy          string
	FrameOptions            string
	ContentTypeOptions      bool
	ContentSecurityPolicy   string
	CrossOriginOpenerPolicy string
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	// MaxAge is in seconds.
	MaxAge            int
	IncludeSubDomains bool
	Preload           bool
}

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// NewSecurityHeadersProcessor returns a processor with defaults for HTML pages.
func NewSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTS: &HSTSConfig{
			MaxAge:            31536000,
			IncludeSubDomains: true,
		},
		ReferrerPolicy:          "strict-origin-when-cross-origin",
		FrameOptions:            "DENY",
		ContentTypeOptions:      true,
		ContentSecurityPolicy:   DashboardCSP,
		CrossOriginOpenerPolicy: "same-origin",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewAPISecurityHeadersProcessor returns a processor with defaults for JSON APIs.
func NewAPISecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := NewSecurityHeadersProcessor()
	p.ReferrerPolicy = "no-referrer"
	p.ContentSecurityPolicy = APICSP
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS configures HSTS settings.
func WithHSTS(maxAge int, includeSubDomains, preload bool) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTS = &HSTSConfig{
			MaxAge:            maxAge,
			IncludeSubDomains: includeSubDomains,
			Preload:           preload,
		}
	}
}

// WithoutHSTS disables HSTS. Plain-http local deployments use it.
func WithoutHSTS() SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTS = nil
	}
}

// WithReferrerPolicy sets the Referrer-Policy header.
func WithReferrerPolicy(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ReferrerPolicy = policy
	}
}

// WithFrameOptions sets the X-Frame-Options header.
func WithFrameOptions(options string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.FrameOptions = options
	}
}

// WithCSP sets the Content-Security-Policy header.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if hsts := formatHSTS(p.HSTS); hsts != "" {
		h.Set("Strict-Transport-Security", hsts)
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	if p.CrossOriginOpenerPolicy != "" {
		h.Set("Cross-Origin-Opener-Policy", p.CrossOriginOpenerPolicy)
	}
	return next(w, r)
}

func formatHSTS(config *HSTSConfig) string {
	if config == nil || config.MaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(config.MaxAge)}
	if config.IncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.Preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
