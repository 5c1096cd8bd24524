// Package account holds the accounts linked to one browser session and the
// rules for adding, switching, removing and refreshing them.
package account

import (
	"errors"
	"time"
)

var (
	ErrAccountLimit   = errors.New("account: too many linked accounts")
	ErrUnknownAccount = errors.New("account: no such linked account")
)

// LinkedAccount is one provider identity the session has authenticated.
// The whole session must fit in one cookie, so only what the account list
// needs is kept; avatars and other display data are read from the provider.
type LinkedAccount struct {
	AccountID     string    `cbor:"1,keyasint" json:"open_id"`
	AccessToken   string    `cbor:"2,keyasint" json:"-"`
	DisplayName   string    `cbor:"3,keyasint,omitempty" json:"display_name"`
	Username      string    `cbor:"4,keyasint,omitempty" json:"username"`
	// Key 5 held the avatar URL and is not reused.
	FollowerCount int64     `cbor:"6,keyasint,omitempty" json:"follower_count"`
	VideoCount    int64     `cbor:"7,keyasint,omitempty" json:"video_count"`
	AddedAt       time.Time `cbor:"8,keyasint" json:"added_at"`
	// SessionExpiresAt is zero on records written before expiry tracking.
	SessionExpiresAt time.Time `cbor:"9,keyasint" json:"session_expires_at"`
	UpdatedAt        time.Time `cbor:"10,keyasint" json:"updated_at"`
}

// SessionState is the whole per-session record. It is persisted as one
// value, so accounts and the current pointer never diverge.
type SessionState struct {
	// PendingVerifier is the PKCE verifier of an in-flight login.
	PendingVerifier  string          `cbor:"1,keyasint,omitempty" json:"-"`
	Accounts         []LinkedAccount `cbor:"2,keyasint,omitempty" json:"accounts"`
	CurrentAccountID string          `cbor:"3,keyasint,omitempty" json:"current_user_open_id"`
}

// Len returns the number of linked accounts.
func (s *SessionState) Len() int {
	return len(s.Accounts)
}

// Authenticated reports whether any account is linked.
func (s *SessionState) Authenticated() bool {
	return len(s.Accounts) > 0
}

// Find returns the account with id, or nil. The pointer aliases the slice
// element and is invalidated by Remove.
func (s *SessionState) Find(id string) *LinkedAccount {
	for i := range s.Accounts {
		if s.Accounts[i].AccountID == id {
			return &s.Accounts[i]
		}
	}
	return nil
}

// Current returns the current account, or nil.
func (s *SessionState) Current() *LinkedAccount {
	if s.CurrentAccountID == "" {
		return nil
	}
	return s.Find(s.CurrentAccountID)
}

// SetCurrent makes id the current account.
func (s *SessionState) SetCurrent(id string) error {
	if s.Find(id) == nil {
		return ErrUnknownAccount
	}
	s.CurrentAccountID = id
	return nil
}

// Remove unlinks id. Removing an absent id is not an error. If id was
// current, the first remaining account becomes current, or the pointer is
// cleared when none remain. It reports whether an account was removed.
func (s *SessionState) Remove(id string) bool {
	removed := false
	kept := s.Accounts[:0]
	for _, a := range s.Accounts {
		if a.AccountID == id {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	// Zero the tail so dropped tokens are not retained by the backing array.
	for i := len(kept); i < len(s.Accounts); i++ {
		s.Accounts[i] = LinkedAccount{}
	}
	s.Accounts = kept

	if s.CurrentAccountID == id {
		s.CurrentAccountID = ""
		if len(s.Accounts) > 0 {
			s.CurrentAccountID = s.Accounts[0].AccountID
		}
	}
	return removed
}

// Reset drops every account and any pending login.
func (s *SessionState) Reset() {
	*s = SessionState{}
}
