package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/endpoint"
	"github.com/mnehpets/reelboard/middleware"
	"github.com/mnehpets/reelboard/tiktok"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"state", fmt.Errorf("%w: state mismatch", ErrInvalidRequest), http.StatusBadRequest, "invalid state"},
		{"provider", fmt.Errorf("%w: %w", ErrInvalidRequest, &ProviderError{Code: "access_denied"}), http.StatusBadRequest, "access_denied"},
		{"verifier", ErrMissingVerifier, http.StatusBadRequest, "missing code verifier"},
		{"limit", account.ErrAccountLimit, http.StatusConflict, "Too many accounts"},
		{"unknown", account.ErrUnknownAccount, http.StatusNotFound, "not found"},
		{"cookie full", fmt.Errorf("%w: 4200 bytes", middleware.ErrCookieTooLarge), http.StatusConflict, "Session storage is full"},
		{"no video", &tiktok.Error{Kind: tiktok.ErrNotFound}, http.StatusNotFound, "Video not found"},
		{"token", &tiktok.Error{Kind: tiktok.ErrTokenExchange, Status: 400, Body: `{"error":"invalid_grant"}`}, http.StatusBadRequest, "Token Error: {\"error\":\"invalid_grant\"}"},
		{"malformed", &tiktok.Error{Kind: tiktok.ErrMalformedResponse}, http.StatusBadGateway, "Unexpected response"},
		{"network", &tiktok.Error{Kind: tiktok.ErrNetwork, Err: errors.New("connection refused")}, http.StatusServiceUnavailable, "connection refused"},
		{"timeout", &tiktok.Error{Kind: tiktok.ErrTimeout}, http.StatusGatewayTimeout, "timed out"},
		{"invalid token", &tiktok.Error{Kind: tiktok.ErrInvalidToken, Status: 401}, http.StatusUnauthorized, "no longer valid"},
		{"status", &tiktok.Error{Kind: tiktok.ErrStatus, Status: 500}, http.StatusBadGateway, "TikTok API error"},
		{"api", &tiktok.Error{Kind: tiktok.ErrAPI}, http.StatusBadGateway, "TikTok API error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "Internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ee *endpoint.EndpointError
			require.True(t, errors.As(HTTPError(tt.err), &ee))
			assert.Equal(t, tt.wantStatus, ee.Status)
			assert.Contains(t, ee.Message, tt.wantMsg)
			assert.ErrorIs(t, ee, tt.err)
		})
	}
	assert.NoError(t, HTTPError(nil))
}
