// Package auth runs the PKCE authorization-code login against the video
// platform and links the resulting account into the session record.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/tiktok"
	"github.com/rs/zerolog"
)

// DefaultState is the fixed OAuth state value. It is shared by every flow
// and registered with the provider, so it offers no per-flow CSRF binding.
const DefaultState = "tokentest"

var (
	// ErrInvalidRequest means the callback carried a wrong state, no code, or
	// a provider error.
	ErrInvalidRequest = errors.New("auth: invalid authorization callback")
	// ErrMissingVerifier means no login was started in this session.
	ErrMissingVerifier = errors.New("auth: no pending code verifier")
)

// ProviderError represents an error returned by the identity provider on the
// callback.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (description: %s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}

// Provider is the OAuth side of the platform client.
type Provider interface {
	AuthCodeURL(state, challenge, redirectURI string) string
	ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*tiktok.Grant, error)
}

// CallbackParams are the query parameters of the OAuth callback.
type CallbackParams struct {
	State     string `query:"state"`
	Code      string `query:"code"`
	Error     string `query:"error"`
	ErrorDesc string `query:"error_description"`
}

// Flow runs the PKCE authorization-code flow against one session record.
type Flow struct {
	provider Provider
	accounts *account.Manager
	redirect RedirectConfig
	state    string
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithState overrides DefaultState.
func WithState(state string) FlowOption {
	return func(f *Flow) {
		if state != "" {
			f.state = state
		}
	}
}

// WithRedirectConfig sets how redirect URIs are derived.
func WithRedirectConfig(c RedirectConfig) FlowOption {
	return func(f *Flow) {
		f.redirect = c
	}
}

// NewFlow returns a Flow adding accounts through accounts.
func NewFlow(provider Provider, accounts *account.Manager, opts ...FlowOption) *Flow {
	f := &Flow{
		provider: provider,
		accounts: accounts,
		state:    DefaultState,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Redirect returns the redirect URI configuration.
func (f *Flow) Redirect() RedirectConfig {
	return f.redirect
}

// Start begins a login. It replaces any pending verifier in s, keeps the
// linked accounts, and returns the provider authorization URL.
func (f *Flow) Start(r *http.Request, s *account.SessionState) (string, error) {
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return "", err
	}
	s.PendingVerifier = verifier

	redirectURI := f.redirect.URI(r)
	zerolog.Ctx(r.Context()).Info().
		Str("redirect_uri", redirectURI).
		Int("accounts", s.Len()).
		Msg("starting authorization")
	return f.provider.AuthCodeURL(f.state, challenge, redirectURI), nil
}

// Exchange completes a login from the callback parameters.
//
// A wrong state fails with ErrInvalidRequest before s is touched. Once the
// state checks out the pending verifier is consumed whether or not the login
// succeeds, and a provider error or missing code fails without any provider
// call. On success the account is linked through the account manager, which
// makes it current if it is the first.
func (f *Flow) Exchange(r *http.Request, s *account.SessionState, p CallbackParams) (*tiktok.Grant, error) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)

	if p.State != f.state {
		log.Warn().Msg("callback state mismatch")
		return nil, fmt.Errorf("%w: state mismatch", ErrInvalidRequest)
	}
	if p.Error != "" {
		s.PendingVerifier = ""
		perr := &ProviderError{Code: p.Error, Description: p.ErrorDesc}
		log.Warn().Err(perr).Msg("provider rejected authorization")
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, perr)
	}
	if p.Code == "" {
		s.PendingVerifier = ""
		log.Warn().Msg("callback without code")
		return nil, fmt.Errorf("%w: missing code", ErrInvalidRequest)
	}

	verifier := s.PendingVerifier
	if verifier == "" {
		log.Error().Msg("callback without pending code verifier")
		return nil, ErrMissingVerifier
	}
	s.PendingVerifier = ""

	grant, err := f.provider.ExchangeCode(ctx, p.Code, verifier, f.redirect.URI(r))
	if err != nil {
		log.Error().Err(err).Msg("token exchange failed")
		return nil, err
	}

	if err := f.accounts.Add(ctx, s, grant.Token.AccessToken, grant.OpenID); err != nil {
		log.Error().Err(err).Str("open_id", grant.OpenID).Msg("failed to link account")
		return nil, err
	}
	return grant, nil
}
