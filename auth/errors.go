package auth

import (
	"errors"
	"net/http"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/endpoint"
	"github.com/mnehpets/reelboard/middleware"
	"github.com/mnehpets/reelboard/tiktok"
)

// HTTPError maps flow, account and provider errors to an
// endpoint.EndpointError with the status the browser should see.
func HTTPError(err error) error {
	if err == nil {
		return nil
	}
	var te *tiktok.Error
	switch {
	case errors.Is(err, ErrInvalidRequest):
		var pe *ProviderError
		if errors.As(err, &pe) {
			return endpoint.Error(http.StatusBadRequest, "Authorization failed: "+pe.Error(), err)
		}
		return endpoint.Error(http.StatusBadRequest, "Authorization failed (invalid state or code)", err)
	case errors.Is(err, ErrMissingVerifier):
		return endpoint.Error(http.StatusBadRequest, "Authorization failed (missing code verifier), please log in again", err)
	case errors.Is(err, account.ErrAccountLimit):
		return endpoint.Error(http.StatusConflict, "Too many accounts linked, remove one before adding another", err)
	case errors.Is(err, middleware.ErrCookieTooLarge):
		return endpoint.Error(http.StatusConflict, "Session storage is full, remove an account before adding another", err)
	case errors.Is(err, account.ErrUnknownAccount):
		return endpoint.Error(http.StatusNotFound, "User not found", err)
	case errors.Is(err, tiktok.ErrNotFound):
		return endpoint.Error(http.StatusNotFound, "Video not found", err)
	case errors.Is(err, tiktok.ErrTimeout):
		return endpoint.Error(http.StatusGatewayTimeout, "The request to TikTok timed out, please try again later", err)
	case errors.Is(err, tiktok.ErrNetwork):
		return endpoint.Error(http.StatusServiceUnavailable, "Network error: "+causeOf(err), err)
	case errors.Is(err, tiktok.ErrTokenExchange) && errors.As(err, &te):
		return endpoint.Error(http.StatusBadRequest, "Token Error: "+te.Body, err)
	case errors.Is(err, tiktok.ErrInvalidToken):
		return endpoint.Error(http.StatusUnauthorized, "The access token is no longer valid, please log in again", err)
	case errors.Is(err, tiktok.ErrMalformedResponse):
		return endpoint.Error(http.StatusBadGateway, "Unexpected response from TikTok", err)
	case errors.Is(err, tiktok.ErrStatus), errors.Is(err, tiktok.ErrAPI):
		return endpoint.Error(http.StatusBadGateway, "TikTok API error, please try again later", err)
	}
	return endpoint.Error(http.StatusInternalServerError, "Internal error", err)
}

func causeOf(err error) string {
	var te *tiktok.Error
	if errors.As(err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	return err.Error()
}
