package auth

import (
	"net/http"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/endpoint"
	"github.com/mnehpets/reelboard/middleware"
	"github.com/rs/zerolog"
)

// DefaultSuccessURL is where a completed login lands.
const DefaultSuccessURL = "/dashboard"

// Handler serves the login and callback endpoints. Its processors must
// include a middleware.SessionProcessor[account.SessionState].
type Handler struct {
	mux        *http.ServeMux
	flow       *Flow
	processors []endpoint.Processor
}

// Option configures the Handler.
type Option func(*Handler)

// WithProcessors adds middleware processors to the auth endpoints.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// NewHandler creates a Handler serving GET /login and the callback paths of
// flow's redirect configuration.
func NewHandler(flow *Flow, opts ...Option) *Handler {
	h := &Handler{
		mux:  http.NewServeMux(),
		flow: flow,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("GET /login", endpoint.HandleFunc(h.login, h.processors...))
	callback := endpoint.HandleFunc(h.callback, h.processors...)
	for _, p := range flow.Redirect().Paths() {
		h.mux.HandleFunc("GET "+p, callback)
	}
	return h
}

// Patterns returns the mux patterns the handler serves, for mounting.
func (h *Handler) Patterns() []string {
	patterns := []string{"GET /login"}
	for _, p := range h.flow.Redirect().Paths() {
		patterns = append(patterns, "GET "+p)
	}
	return patterns
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

func (h *Handler) login(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}

	var authURL string
	err = sess.Update(func(s *account.SessionState) error {
		var err error
		authURL, err = h.flow.Start(r, s)
		return err
	})
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to start authorization", err)
	}
	return &endpoint.RedirectRenderer{URL: authURL, Status: http.StatusFound}, nil
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	log := zerolog.Ctx(r.Context())
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}

	s := sess.Data()
	before := s.Len()
	grant, err := h.flow.Exchange(r, s, params)
	if err == nil {
		// A record that no longer fits in the cookie would be dropped by the
		// browser along with every account in it.
		if err = sess.Fits(); err != nil {
			log.Error().Err(err).Str("open_id", grant.OpenID).Int("accounts", s.Len()).Msg("session record full, not linking account")
			if s.Len() > before {
				s.Remove(grant.OpenID)
			}
		}
	}
	// Past the state check the verifier is consumed even on failure.
	if params.State == h.flow.state {
		sess.Save()
	}
	if err != nil {
		return nil, HTTPError(err)
	}

	if err := sess.Renew(); err != nil {
		log.Error().Err(err).Msg("failed to renew session id")
	}
	log.Info().Str("open_id", grant.OpenID).Time("session_expires", sess.Expires()).Msg("login complete")
	return &endpoint.RedirectRenderer{URL: DefaultSuccessURL, Status: http.StatusFound}, nil
}
