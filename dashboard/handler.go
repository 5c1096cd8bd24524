// Package dashboard serves the pages and JSON API over the accounts linked
// to a browser session.
package dashboard

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/auth"
	"github.com/mnehpets/reelboard/endpoint"
	"github.com/mnehpets/reelboard/middleware"
	"github.com/mnehpets/reelboard/tiktok"
	"github.com/rs/zerolog"
)

// DefaultTokenPrefix is the prefix every provider access token carries.
const DefaultTokenPrefix = "act."

const loginURL = "/login"

// Source is the provider data the dashboard reads, with a way to drop cached
// results for a token.
type Source interface {
	tiktok.API
	Invalidate(accessToken string)
}

// Handler serves the dashboard pages and API. Both processor chains must
// include a middleware.SessionProcessor[account.SessionState].
type Handler struct {
	mux            *http.ServeMux
	accounts       *account.Manager
	source         Source
	templates      *template.Template
	maxVideos      int
	tokenPrefix    string
	pageProcessors []endpoint.Processor
	apiProcessors  []endpoint.Processor
}

// Option configures the Handler.
type Option func(*Handler)

// WithPageProcessors adds processors to the HTML endpoints.
func WithPageProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.pageProcessors = append(h.pageProcessors, p...)
	}
}

// WithAPIProcessors adds processors to the JSON endpoints.
func WithAPIProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.apiProcessors = append(h.apiProcessors, p...)
	}
}

// WithMaxVideos sets how many videos are fetched per account.
func WithMaxVideos(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxVideos = n
		}
	}
}

// WithTokenPrefix sets the required access token prefix. An empty prefix
// disables the check.
func WithTokenPrefix(prefix string) Option {
	return func(h *Handler) {
		h.tokenPrefix = prefix
	}
}

// NewHandler creates a dashboard Handler.
func NewHandler(accounts *account.Manager, source Source, opts ...Option) *Handler {
	h := &Handler{
		mux:         http.NewServeMux(),
		accounts:    accounts,
		source:      source,
		templates:   parseTemplates(),
		maxVideos:   tiktok.MaxVideoCount,
		tokenPrefix: DefaultTokenPrefix,
	}
	for _, opt := range opts {
		opt(h)
	}
	// API failures, including parameter validation, answer in JSON.
	api := append([]endpoint.Processor{endpoint.ErrorRenderer(jsonError)}, h.apiProcessors...)

	h.mux.HandleFunc("GET /{$}", endpoint.HandleFunc(h.index, h.pageProcessors...))
	h.mux.HandleFunc("GET /dashboard", endpoint.HandleFunc(h.dashboard, h.pageProcessors...))
	h.mux.HandleFunc("GET /video/{id}", endpoint.HandleFunc(h.video, h.pageProcessors...))
	h.mux.HandleFunc("GET /logout", endpoint.HandleFunc(h.logout, h.pageProcessors...))

	h.mux.HandleFunc("POST /api/switch-user", endpoint.HandleFunc(h.switchUser, api...))
	h.mux.HandleFunc("POST /api/remove-user", endpoint.HandleFunc(h.removeUser, api...))
	h.mux.HandleFunc("POST /api/refresh-profile", endpoint.HandleFunc(h.refreshProfile, api...))
	h.mux.HandleFunc("GET /api/users", endpoint.HandleFunc(h.users, api...))
	h.mux.HandleFunc("GET /api/user-data", endpoint.HandleFunc(h.userData, api...))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func sessionFrom(r *http.Request) (*middleware.Session[account.SessionState], error) {
	sess, ok := middleware.SessionFromContext[account.SessionState](r.Context())
	if !ok {
		return nil, endpoint.Error(http.StatusInternalServerError, "session not configured", nil)
	}
	return sess, nil
}

// unlink removes id from the session and forgets any cached data for it.
func (h *Handler) unlink(sess *middleware.Session[account.SessionState], id string) {
	s := sess.Data()
	if a := s.Find(id); a != nil {
		h.source.Invalidate(a.AccessToken)
	}
	s.Remove(id)
	sess.Save()
}

func (h *Handler) validToken(token string) bool {
	return token != "" && strings.HasPrefix(token, h.tokenPrefix)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	if sess.Data().Authenticated() {
		return &endpoint.RedirectRenderer{URL: "/dashboard", Status: http.StatusFound}, nil
	}
	return &endpoint.HTMLTemplateRenderer{
		Template: h.templates,
		Name:     "index.html",
		Values:   indexPage{LoginURL: loginURL},
	}, nil
}

// current returns the session's current account with a well-formed token,
// or nil when the browser should go back to the index page. A record whose
// current pointer is lost falls back to its first account.
func (h *Handler) current(ctx context.Context, sess *middleware.Session[account.SessionState]) *account.LinkedAccount {
	log := zerolog.Ctx(ctx)
	s := sess.Data()
	if !s.Authenticated() {
		return nil
	}
	if h.accounts.MigrateLegacy(ctx, s) > 0 {
		sess.Save()
	}

	cur := s.Current()
	if cur == nil {
		log.Warn().Str("current", s.CurrentAccountID).Msg("current account missing, selecting first account")
		if err := s.SetCurrent(s.Accounts[0].AccountID); err != nil {
			return nil
		}
		sess.Save()
		cur = s.Current()
	}
	if !h.validToken(cur.AccessToken) {
		log.Warn().Str("open_id", cur.AccountID).Str("token", tiktok.Redact(cur.AccessToken)).Msg("removing account with malformed token")
		h.unlink(sess, cur.AccountID)
		return nil
	}
	return cur
}

// providerFailure answers a failed provider read for a page. A rejected
// token unlinks the account and sends the browser home.
func (h *Handler) providerFailure(ctx context.Context, sess *middleware.Session[account.SessionState], id string, err error) (endpoint.Renderer, error) {
	log := zerolog.Ctx(ctx)
	if errors.Is(err, tiktok.ErrInvalidToken) {
		log.Warn().Str("open_id", id).Msg("access token rejected, removing account")
		h.unlink(sess, id)
		return &endpoint.RedirectRenderer{URL: "/", Status: http.StatusFound}, nil
	}
	log.Error().Err(err).Str("open_id", id).Msg("failed to load provider data")
	return nil, auth.HTTPError(err)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ctx := r.Context()
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	cur := h.current(ctx, sess)
	if cur == nil {
		return &endpoint.RedirectRenderer{URL: "/", Status: http.StatusFound}, nil
	}

	profile, err := h.source.Profile(ctx, cur.AccessToken)
	var videos []tiktok.Video
	if err == nil {
		videos, err = h.source.Videos(ctx, cur.AccessToken, h.maxVideos)
	}
	if err != nil {
		return h.providerFailure(ctx, sess, cur.AccountID, err)
	}

	return &endpoint.HTMLTemplateRenderer{
		Template: h.templates,
		Name:     "dashboard.html",
		Values: dashboardPage{
			Profile:     profile,
			Videos:      videos,
			Totals:      sumVideos(videos),
			Users:       h.userViews(ctx, sess),
			Current:     cur,
			MaxAccounts: h.accounts.MaxAccounts(),
		},
	}, nil
}

// VideoParams selects one video of the current account.
type VideoParams struct {
	ID string `path:"id" validate:"required"`
}

func (h *Handler) video(w http.ResponseWriter, r *http.Request, p VideoParams) (endpoint.Renderer, error) {
	ctx := r.Context()
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	cur := h.current(ctx, sess)
	if cur == nil {
		return &endpoint.RedirectRenderer{URL: "/", Status: http.StatusFound}, nil
	}

	v, err := h.source.Video(ctx, cur.AccessToken, p.ID)
	if err != nil {
		return h.providerFailure(ctx, sess, cur.AccountID, err)
	}
	return &endpoint.HTMLTemplateRenderer{
		Template: h.templates,
		Name:     "video.html",
		Values:   videoPage{Video: v, Current: cur},
	}, nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	for _, a := range sess.Data().Accounts {
		h.source.Invalidate(a.AccessToken)
	}
	if err := sess.Clear(); err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to clear session", err)
	}
	zerolog.Ctx(r.Context()).Info().Msg("logged out")
	return &endpoint.RedirectRenderer{URL: "/", Status: http.StatusFound}, nil
}
