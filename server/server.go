// Package server assembles the HTTP application from its configuration.
package server

import (
	"fmt"
	"net/http"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/auth"
	"github.com/mnehpets/reelboard/cache"
	"github.com/mnehpets/reelboard/config"
	"github.com/mnehpets/reelboard/dashboard"
	"github.com/mnehpets/reelboard/endpoint"
	"github.com/mnehpets/reelboard/middleware"
	"github.com/mnehpets/reelboard/tiktok"
	"github.com/rs/zerolog"
)

// Server is the wired application.
type Server struct {
	Handler http.Handler
	Cache   *tiktok.Cached
}

// New builds the application for cfg. Request logs are children of logger.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	key, err := cfg.SessionKeyBytes()
	if err != nil {
		return nil, err
	}

	client := tiktok.New(tiktok.Config{
		ClientKey:    cfg.ClientKey,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		APIBaseURL:   cfg.APIBaseURL,
		Scopes:       cfg.Scopes,
		Timeout:      cfg.HTTPTimeout,
	})
	cached := tiktok.NewCached(client, cfg.CacheTTL)
	// Linking and refreshing always read through to the provider.
	accounts := account.NewManager(client,
		account.WithMaxAccounts(cfg.MaxAccounts),
		account.WithLifetime(cfg.SessionLifetime),
	)

	sessions, err := middleware.NewSessionProcessor[account.SessionState](
		key,
		middleware.WithCookieName(cfg.SessionCookieName),
		middleware.WithMaxAge(cfg.SessionLifetime),
		middleware.WithExtendThreshold(cfg.SessionExtend),
		middleware.WithCookieOptions(middleware.WithSecure(cfg.CookieSecure)),
	)
	if err != nil {
		return nil, fmt.Errorf("session processor: %w", err)
	}

	var headerOpts []middleware.SecurityHeadersOption
	if !cfg.CookieSecure {
		// Plain http development; HSTS would pin localhost to https.
		headerOpts = append(headerOpts, middleware.WithoutHSTS())
	}
	pageHeaders := middleware.NewSecurityHeadersProcessor(headerOpts...)
	apiHeaders := middleware.NewAPISecurityHeadersProcessor(headerOpts...)
	sweeper := cache.NewSweepProcessor(cfg.CacheSweepProbability, cached.Tables()...)

	flow := auth.NewFlow(client, accounts,
		auth.WithState(cfg.State),
		auth.WithRedirectConfig(auth.RedirectConfig{
			CallbackPath:        cfg.CallbackPath,
			PagesHostPattern:    cfg.PagesHostPattern,
			PagesCallbackPath:   cfg.PagesCallbackPath,
			TrustForwardedProto: cfg.TrustForwarded,
		}),
	)
	authHandler := auth.NewHandler(flow, auth.WithProcessors(pageHeaders, sessions))

	dash := dashboard.NewHandler(accounts, cached,
		dashboard.WithPageProcessors(pageHeaders, sweeper, sessions),
		dashboard.WithAPIProcessors(apiHeaders, sweeper, sessions),
		dashboard.WithMaxVideos(cfg.MaxVideoCount),
		dashboard.WithTokenPrefix(cfg.TokenPrefix),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", endpoint.HandleFunc(healthz))
	mux.HandleFunc("GET /favicon.ico", endpoint.HandleFunc(favicon, pageHeaders))
	for _, p := range authHandler.Patterns() {
		mux.Handle(p, authHandler)
	}
	mux.Handle("/", dash)

	return &Server{
		Handler: middleware.RequestLogger(logger)(mux),
		Cache:   cached,
	}, nil
}

// healthz answers liveness checks without touching the session.
func healthz(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.StringRenderer{Body: "ok"}, nil
}

// favicon keeps browsers' icon requests out of the dashboard's 404 logs.
func favicon(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.NoContentRenderer{}, nil
}
