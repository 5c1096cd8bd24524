package middleware

// Session middleware for the endpoint processor/renderer pipeline.
//
// Each browser session is one record of application type T sealed into a
// single cookie. The record is decoded once when the request arrives and
// written at most once, just before headers go out, so a request's mutations
// land together or not at all.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/mnehpets/reelboard/endpoint"
	"github.com/rs/zerolog"
)

var ErrNilSession = errors.New("nil session")

// SessionIDBytes is the number of random bytes in a session ID.
//
// 16 bytes -> 22 chars raw URL base64.
const SessionIDBytes = 16

// DefaultSessionPeriod is the default session lifetime.
const DefaultSessionPeriod = time.Hour * 24

// MaxExtendedPeriod bounds how long a session may live in total,
// even if continually extended.
const MaxExtendedPeriod = time.Hour * 24 * 90

// DefaultSessionRevalidationExtendThreshold is the remaining lifetime below
// which a valid session is extended.
const DefaultSessionRevalidationExtendThreshold = DefaultSessionPeriod / 4

// DefaultCookieName is the default name for the session cookie.
const DefaultCookieName = "RBS"

// envelope is the serialized form of a session.
type envelope[T any] struct {
	ID string `cbor:"1,keyasint"`
	// Expires is the absolute expiry time of the session.
	Expires time.Time `cbor:"2,keyasint"`
	// Period is Expires minus the creation time, in seconds.
	Period int `cbor:"3,keyasint"`
	Data   T   `cbor:"4,keyasint"`
}

func newEnvelope[T any](period time.Duration) (*envelope[T], error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	// Truncating moves the creation time backwards, so the valid period
	// always starts in the past.
	now := time.Now().Truncate(time.Second)
	return &envelope[T]{
		ID:      id,
		Expires: now.Add(period),
		Period:  int(period.Seconds()),
	}, nil
}

func newSessionID() (string, error) {
	b := make([]byte, SessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// validate checks whether the envelope is valid now.
//
// If the remaining lifetime is below extendThreshold it is extended to
// now+extendPeriod and extended is true.
func (e *envelope[T]) validate(extendThreshold, extendPeriod time.Duration) (ok bool, extended bool) {
	if e == nil {
		return false, false
	}
	now := time.Now()

	if e.Period <= 0 || e.Period > int(MaxExtendedPeriod.Seconds()) {
		return false, false
	}
	if e.Expires.IsZero() || !now.Before(e.Expires) {
		return false, false
	}

	if extendThreshold <= 0 || extendPeriod <= 0 || extendPeriod < extendThreshold {
		return true, false
	}
	if e.Expires.Sub(now) < extendThreshold {
		return true, e.extendTo(now.Add(extendPeriod))
	}
	return true, false
}

// extendTo moves Expires forward to newExpires, capped at MaxExtendedPeriod
// after the original issue time. It reports whether Expires moved.
func (e *envelope[T]) extendTo(newExpires time.Time) bool {
	if e == nil || e.Expires.IsZero() {
		return false
	}
	newExpires = newExpires.Truncate(time.Second)

	issuedAt := e.Expires.Add(-time.Duration(e.Period) * time.Second)
	if maxExpires := issuedAt.Add(MaxExtendedPeriod); newExpires.After(maxExpires) {
		newExpires = maxExpires
	}
	if !newExpires.After(e.Expires) {
		return false
	}

	e.Period += int(newExpires.Sub(e.Expires).Seconds())
	e.Expires = newExpires
	return true
}

// Session is the request-scoped handle on one browser session's record.
type Session[T any] struct {
	env     *envelope[T]
	period  time.Duration
	dirty   bool
	cleared bool
	cookie  *SecureCookie
}

// ID returns the session identifier.
func (s *Session[T]) ID() string {
	if s == nil || s.env == nil {
		return ""
	}
	return s.env.ID
}

// Expires returns when the session cookie expires.
func (s *Session[T]) Expires() time.Time {
	if s == nil || s.env == nil {
		return time.Time{}
	}
	return s.env.Expires
}

// Fits returns an error wrapping ErrCookieTooLarge if the record, as it
// stands, no longer fits in one cookie. Such a record is never written.
func (s *Session[T]) Fits() error {
	if s == nil || s.env == nil || s.cookie == nil {
		return ErrNilSession
	}
	_, err := s.cookie.Encode(*s.env, int(s.period.Seconds()))
	return err
}

// Data returns the live record. Changes are only persisted after Save or a
// successful Update.
func (s *Session[T]) Data() *T {
	if s == nil || s.env == nil {
		return nil
	}
	return &s.env.Data
}

// Save marks the record as modified so it is written with the response.
func (s *Session[T]) Save() {
	if s != nil {
		s.dirty = true
	}
}

// Update applies fn to the record and marks it modified if fn succeeds.
func (s *Session[T]) Update(fn func(*T) error) error {
	if s == nil || s.env == nil {
		return ErrNilSession
	}
	if err := fn(&s.env.Data); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// Renew issues a new session ID for the same record. Call it when the
// session gains a credential to prevent session fixation.
func (s *Session[T]) Renew() error {
	if s == nil || s.env == nil {
		return ErrNilSession
	}
	id, err := newSessionID()
	if err != nil {
		return err
	}
	s.env.ID = id
	s.dirty = true
	return nil
}

// Clear discards the record and deletes the cookie, unless the record is
// modified again before the response is written.
func (s *Session[T]) Clear() error {
	if s == nil {
		return ErrNilSession
	}
	env, err := newEnvelope[T](s.period)
	if err != nil {
		return err
	}
	s.env = env
	s.dirty = false
	s.cleared = true
	return nil
}

type sessionContextKey[T any] struct{}

// WithSession stores sess in ctx.
func WithSession[T any](ctx context.Context, sess *Session[T]) context.Context {
	return context.WithValue(ctx, sessionContextKey[T]{}, sess)
}

// SessionFromContext returns the Session[T] stored in ctx, if any.
func SessionFromContext[T any](ctx context.Context) (*Session[T], bool) {
	sess, ok := ctx.Value(sessionContextKey[T]{}).(*Session[T])
	if !ok || sess == nil {
		return nil, false
	}
	return sess, true
}

// SessionProcessor loads the session record before the endpoint runs and
// persists it, if modified, just before headers are written.
type SessionProcessor[T any] struct {
	cookie          *SecureCookie
	MaxAge          time.Duration
	ExtendThreshold time.Duration
}

// SessionProcessorOption configures a SessionProcessor.
type SessionProcessorOption func(*sessionProcessorConfig)

type sessionProcessorConfig struct {
	cookieName      string
	cookieOptions   []SecureCookieOption
	maxAge          time.Duration
	extendThreshold time.Duration
}

// WithCookieName sets the session cookie name.
func WithCookieName(name string) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieName = name
	}
}

// WithCookieOptions passes options to the underlying secure cookie.
func WithCookieOptions(opts ...SecureCookieOption) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieOptions = append(c.cookieOptions, opts...)
	}
}

// WithMaxAge sets the session lifetime.
func WithMaxAge(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.maxAge = d
	}
}

// WithExtendThreshold sets the remaining lifetime below which sessions are extended.
func WithExtendThreshold(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.extendThreshold = d
	}
}

// NewSessionProcessor returns a SessionProcessor storing records of type T in
// a cookie sealed with key.
func NewSessionProcessor[T any](key []byte, opts ...SessionProcessorOption) (*SessionProcessor[T], error) {
	cfg := sessionProcessorConfig{
		cookieName:      DefaultCookieName,
		maxAge:          DefaultSessionPeriod,
		extendThreshold: DefaultSessionRevalidationExtendThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAge > MaxExtendedPeriod {
		return nil, errors.New("session max age exceeds MaxExtendedPeriod")
	}

	cookie, err := NewSecureCookie(cfg.cookieName, key, cfg.cookieOptions...)
	if err != nil {
		return nil, err
	}
	return &SessionProcessor[T]{
		cookie:          cookie,
		MaxAge:          cfg.maxAge,
		ExtendThreshold: cfg.extendThreshold,
	}, nil
}

func (p *SessionProcessor[T]) maxAge() time.Duration {
	if p.MaxAge <= 0 {
		return DefaultSessionPeriod
	}
	return p.MaxAge
}

// Process implements endpoint.Processor.
func (p *SessionProcessor[T]) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if p.cookie == nil {
		return errors.New("SessionProcessor requires SecureCookie")
	}
	log := zerolog.Ctx(r.Context())

	sess := &Session[T]{period: p.maxAge(), cookie: p.cookie}

	if c, err := r.Cookie(p.cookie.Name()); err == nil {
		var env envelope[T]
		if err := p.cookie.Decode(c, &env); err != nil {
			log.Debug().Err(err).Msg("discarding undecodable session cookie")
			sess.cleared = true
		} else {
			extendThreshold := p.ExtendThreshold
			if extendThreshold <= 0 {
				extendThreshold = DefaultSessionRevalidationExtendThreshold
			}
			ok, extended := env.validate(extendThreshold, p.maxAge())
			if ok {
				sess.env = &env
				sess.dirty = extended
			} else {
				log.Debug().Msg("discarding expired session cookie")
				sess.cleared = true
			}
		}
	}

	if sess.env == nil {
		env, err := newEnvelope[T](p.maxAge())
		if err != nil {
			return endpoint.Error(http.StatusInternalServerError, "failed to create session", err)
		}
		sess.env = env
	}

	ctx := r.Context()
	endpoint.Defer(ctx, func(w http.ResponseWriter) {
		p.maybeSetCookie(ctx, w, sess)
	})

	*r = *r.WithContext(WithSession(ctx, sess))
	return next(w, r)
}

func (p *SessionProcessor[T]) maybeSetCookie(ctx context.Context, w http.ResponseWriter, sess *Session[T]) {
	if !sess.dirty {
		if sess.cleared {
			http.SetCookie(w, p.cookie.Clear())
		}
		return
	}

	maxAge := int(time.Until(sess.env.Expires).Seconds())
	if maxAge <= 0 {
		http.SetCookie(w, p.cookie.Clear())
		return
	}

	// An oversize cookie is not sent; the client keeps its previous record.
	c, err := p.cookie.Encode(*sess.env, maxAge)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode session cookie")
		return
	}
	http.SetCookie(w, c)
}

var _ endpoint.Processor = (*SessionProcessor[struct{}])(nil)
