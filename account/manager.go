package account

import (
	"context"
	"time"

	"github.com/mnehpets/reelboard/tiktok"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxAccounts = 5
	DefaultLifetime    = 24 * time.Hour
	unknownDisplayName = "Unknown"
)

// ProfileLookup fetches the profile behind an access token.
type ProfileLookup interface {
	Profile(ctx context.Context, accessToken string) (*tiktok.Profile, error)
}

// Manager applies account operations to a SessionState. It holds no
// per-session data; the caller loads and persists the state.
type Manager struct {
	profiles    ProfileLookup
	maxAccounts int
	lifetime    time.Duration
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAccounts sets how many accounts one session may link.
func WithMaxAccounts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAccounts = n
		}
	}
}

// WithLifetime sets how long a linked account's session is shown as valid.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager that fetches profiles through profiles.
func NewManager(profiles ProfileLookup, opts ...Option) *Manager {
	m := &Manager{
		profiles:    profiles,
		maxAccounts: DefaultMaxAccounts,
		lifetime:    DefaultLifetime,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxAccounts returns the configured account limit.
func (m *Manager) MaxAccounts() int { return m.maxAccounts }

// Add links the account id authenticated by token.
//
// Adding an id that is already linked succeeds without changes. When the
// limit is reached Add returns ErrAccountLimit and s is unchanged. The first
// account linked becomes current. Profile lookup errors are returned as is.
func (m *Manager) Add(ctx context.Context, s *SessionState, token, id string) error {
	log := zerolog.Ctx(ctx)

	if s.Find(id) != nil {
		log.Info().Str("open_id", id).Msg("account already linked")
		return nil
	}
	if len(s.Accounts) >= m.maxAccounts {
		log.Warn().Int("max", m.maxAccounts).Str("open_id", id).Msg("account limit reached")
		return ErrAccountLimit
	}

	p, err := m.profiles.Profile(ctx, token)
	if err != nil {
		return err
	}

	now := m.now()
	a := LinkedAccount{
		AccountID:        id,
		AccessToken:      token,
		AddedAt:          now,
		SessionExpiresAt: now.Add(m.lifetime),
	}
	applyProfile(&a, p)
	s.Accounts = append(s.Accounts, a)

	if len(s.Accounts) == 1 || s.Current() == nil {
		s.CurrentAccountID = id
	}
	log.Info().Str("open_id", id).Int("accounts", len(s.Accounts)).Msg("account linked")
	return nil
}

// RefreshProfile re-fetches the profile snapshot of id. The token and expiry
// are left alone.
func (m *Manager) RefreshProfile(ctx context.Context, s *SessionState, id string) error {
	a := s.Find(id)
	if a == nil {
		return ErrUnknownAccount
	}
	p, err := m.profiles.Profile(ctx, a.AccessToken)
	if err != nil {
		return err
	}
	applyProfile(a, p)
	a.UpdatedAt = m.now()
	zerolog.Ctx(ctx).Info().Str("open_id", id).Msg("profile refreshed")
	return nil
}

func applyProfile(a *LinkedAccount, p *tiktok.Profile) {
	a.DisplayName = p.DisplayName
	if a.DisplayName == "" {
		a.DisplayName = unknownDisplayName
	}
	a.Username = p.Username
	a.FollowerCount = p.FollowerCount
	a.VideoCount = p.VideoCount
}
