package account

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ExpiredMessage is shown for accounts whose session has lapsed.
const ExpiredMessage = "Session expired"

// Expiry describes how long a linked account's session has left.
type Expiry struct {
	Expired bool   `json:"expired"`
	Message string `json:"message"`
	// Remaining is the bucketed remaining time, e.g. "2 hours 5 minutes".
	Remaining        string    `json:"remaining,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"time_remaining"`
}

// FormatRemaining renders d in the coarsest bucket that fits:
// "H hours M minutes", "M minutes S seconds" or "S seconds".
func FormatRemaining(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%d hours %d minutes", h, m)
	case m > 0:
		return fmt.Sprintf("%d minutes %d seconds", m, s)
	default:
		return fmt.Sprintf("%d seconds", s)
	}
}

// DescribeAt reports the expiry of a at now. a must have SessionExpiresAt set.
func DescribeAt(a *LinkedAccount, now time.Time) Expiry {
	remaining := a.SessionExpiresAt.Sub(now)
	if remaining <= 0 {
		return Expiry{
			Expired:   true,
			Message:   ExpiredMessage,
			ExpiresAt: a.SessionExpiresAt,
		}
	}
	r := FormatRemaining(remaining)
	return Expiry{
		Message:          "Session valid for " + r,
		Remaining:        r,
		ExpiresAt:        a.SessionExpiresAt,
		RemainingSeconds: int64(remaining / time.Second),
	}
}

// migrate gives a legacy record a fresh lifetime. AddedAt is reset to now
// along with it.
func (m *Manager) migrate(a *LinkedAccount) bool {
	if !a.SessionExpiresAt.IsZero() {
		return false
	}
	now := m.now()
	a.AddedAt = now
	a.SessionExpiresAt = now.Add(m.lifetime)
	return true
}

// Describe reports a's expiry, migrating it first if it predates expiry
// tracking. migrated tells the caller the record changed and must be saved.
func (m *Manager) Describe(ctx context.Context, a *LinkedAccount) (e Expiry, migrated bool) {
	if m.migrate(a) {
		zerolog.Ctx(ctx).Info().Str("open_id", a.AccountID).Msg("added expiry to legacy account")
		migrated = true
	}
	return DescribeAt(a, m.now()), migrated
}

// MigrateLegacy migrates every legacy account in s and returns how many
// changed.
func (m *Manager) MigrateLegacy(ctx context.Context, s *SessionState) int {
	n := 0
	for i := range s.Accounts {
		if m.migrate(&s.Accounts[i]) {
			n++
		}
	}
	if n > 0 {
		zerolog.Ctx(ctx).Info().Int("accounts", n).Msg("added expiry to legacy accounts")
	}
	return n
}
