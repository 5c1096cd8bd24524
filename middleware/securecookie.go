package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat   = errors.New("invalid session cookie format")
	ErrCookieInvalid  = errors.New("invalid session cookie")
	ErrCookieTooLarge = errors.New("session cookie exceeds browser size limit")
)

// MaxCookieBytes is the largest Set-Cookie value, attributes included, that
// browsers reliably store. Larger cookies are dropped without notice.
const MaxCookieBytes = 4096

// maxCookieLen bounds the attacker-controlled data we decode for a cookie value.
const maxCookieLen = 8192

// KeySize is the length of a secure cookie key.
const KeySize = chacha20poly1305.KeySize

// SecureCookie seals CBOR values into an HttpOnly, SameSite=Lax cookie with
// XChaCha20-Poly1305.
//
// Format: base64url(nonce || Seal(plaintext, aad)), aad = name ":" secure.
// SameSite=Lax is required: the OAuth callback is a top-level cross-site GET.
type SecureCookie struct {
	name   string
	secure bool
	aead   cipher.AEAD
}

// SecureCookieOption configures a SecureCookie.
type SecureCookieOption func(*SecureCookie)

// WithSecure sets the Secure flag. Local http:// deployments need false.
func WithSecure(secure bool) SecureCookieOption {
	return func(sc *SecureCookie) {
		sc.secure = secure
	}
}

// NewSecureCookie creates a SecureCookie sealing with key, which must be
// KeySize bytes. Cookies are Secure unless WithSecure(false) is given.
func NewSecureCookie(name string, key []byte, opts ...SecureCookieOption) (*SecureCookie, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secure cookie key: %w", err)
	}
	sc := &SecureCookie{name: name, secure: true, aead: aead}
	for _, opt := range opts {
		opt(sc)
	}
	return sc, nil
}

func (sc *SecureCookie) Name() string {
	return sc.name
}

func (sc *SecureCookie) aad() []byte {
	if sc.secure {
		return []byte(sc.name + ":t")
	}
	return []byte(sc.name + ":f")
}

// Encode marshals and seals plain into a cookie that lives maxAge seconds.
// It returns ErrCookieTooLarge rather than a cookie browsers would discard.
func (sc *SecureCookie) Encode(plain any, maxAge int) (*http.Cookie, error) {
	if maxAge <= 0 {
		return nil, ErrCookieInvalid
	}
	b, err := cbor.Marshal(plain)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, sc.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := sc.aead.Seal(nonce, nonce, b, sc.aad())

	c := sc.cookie(base64.RawURLEncoding.EncodeToString(sealed), maxAge)
	if n := len(c.String()); n > MaxCookieBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrCookieTooLarge, n)
	}
	return c, nil
}

// Decode opens cookie and unmarshals the value into v.
func (sc *SecureCookie) Decode(cookie *http.Cookie, v any) error {
	if cookie == nil || len(cookie.Value) == 0 || len(cookie.Value) > maxCookieLen {
		return ErrCookieFormat
	}
	sealed, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return ErrCookieFormat
	}
	ns := sc.aead.NonceSize()
	if len(sealed) < ns+sc.aead.Overhead() {
		return ErrCookieFormat
	}
	b, err := sc.aead.Open(nil, sealed[:ns], sealed[ns:], sc.aad())
	if err != nil {
		return ErrCookieInvalid
	}
	return cbor.Unmarshal(b, v)
}

// Clear returns a cookie that deletes this cookie in the client.
func (sc *SecureCookie) Clear() *http.Cookie {
	c := sc.cookie("", -1)
	c.Expires = time.Unix(0, 0)
	return c
}

func (sc *SecureCookie) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     sc.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	return c
}
