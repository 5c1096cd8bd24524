package account

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mnehpets/reelboard/tiktok"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfiles struct {
	calls    int
	err      error
	profiles map[string]*tiktok.Profile
}

func (f *fakeProfiles) Profile(_ context.Context, token string) (*tiktok.Profile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.profiles[token]; ok {
		return p, nil
	}
	return &tiktok.Profile{DisplayName: "user " + token, FollowerCount: 1}, nil
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(p ProfileLookup, now *time.Time) *Manager {
	return NewManager(p, WithClock(func() time.Time { return *now }))
}

func TestManager_Add_FirstBecomesCurrent(t *testing.T) {
	now := t0
	m := newTestManager(&fakeProfiles{}, &now)
	var s SessionState

	require.NoError(t, m.Add(context.Background(), &s, "act.1", "u1"))
	require.Len(t, s.Accounts, 1)
	assert.Equal(t, "u1", s.CurrentAccountID)

	a := s.Accounts[0]
	assert.Equal(t, "act.1", a.AccessToken)
	assert.Equal(t, "user act.1", a.DisplayName)
	assert.Equal(t, t0, a.AddedAt)
	assert.Equal(t, t0.Add(24*time.Hour), a.SessionExpiresAt)

	require.NoError(t, m.Add(context.Background(), &s, "act.2", "u2"))
	assert.Equal(t, "u1", s.CurrentAccountID, "second account must not steal current")
}

func TestManager_Add_DuplicateIsNoop(t *testing.T) {
	now := t0
	fp := &fakeProfiles{}
	m := newTestManager(fp, &now)
	var s SessionState

	require.NoError(t, m.Add(context.Background(), &s, "act.1", "u1"))
	require.NoError(t, m.Add(context.Background(), &s, "act.other", "u1"))

	require.Len(t, s.Accounts, 1)
	assert.Equal(t, "act.1", s.Accounts[0].AccessToken)
	assert.Equal(t, 1, fp.calls, "duplicate add must not fetch a profile")
}

func TestManager_Add_LimitLeavesStoreUnchanged(t *testing.T) {
	now := t0
	fp := &fakeProfiles{}
	m := newTestManager(fp, &now)
	var s SessionState
	for i := range 5 {
		require.NoError(t, m.Add(context.Background(), &s, fmt.Sprintf("act.%d", i), fmt.Sprintf("u%d", i)))
	}

	err := m.Add(context.Background(), &s, "act.6", "u6")
	assert.ErrorIs(t, err, ErrAccountLimit)
	assert.Len(t, s.Accounts, 5)
	assert.Nil(t, s.Find("u6"))
	assert.Equal(t, 5, fp.calls)
}

func TestManager_Add_ProfileErrorAddsNothing(t *testing.T) {
	now := t0
	m := newTestManager(&fakeProfiles{err: &tiktok.Error{Kind: tiktok.ErrTimeout}}, &now)
	var s SessionState

	err := m.Add(context.Background(), &s, "act.1", "u1")
	assert.ErrorIs(t, err, tiktok.ErrTimeout)
	assert.Empty(t, s.Accounts)
	assert.Empty(t, s.CurrentAccountID)
}

func TestManager_Add_UnknownDisplayName(t *testing.T) {
	now := t0
	m := newTestManager(&fakeProfiles{profiles: map[string]*tiktok.Profile{"act.1": {}}}, &now)
	var s SessionState

	require.NoError(t, m.Add(context.Background(), &s, "act.1", "u1"))
	assert.Equal(t, "Unknown", s.Accounts[0].DisplayName)
}

func TestSessionState_SetCurrent(t *testing.T) {
	s := SessionState{Accounts: []LinkedAccount{{AccountID: "a"}, {AccountID: "b"}}, CurrentAccountID: "a"}

	require.NoError(t, s.SetCurrent("b"))
	assert.Equal(t, "b", s.Current().AccountID)

	assert.ErrorIs(t, s.SetCurrent("zzz"), ErrUnknownAccount)
	assert.Equal(t, "b", s.CurrentAccountID)
}

func TestSessionState_Remove(t *testing.T) {
	s := SessionState{
		Accounts:         []LinkedAccount{{AccountID: "a"}, {AccountID: "b"}, {AccountID: "c"}},
		CurrentAccountID: "b",
	}

	assert.True(t, s.Remove("b"))
	assert.Equal(t, "a", s.CurrentAccountID, "first remaining account is promoted")
	assert.Len(t, s.Accounts, 2)

	assert.False(t, s.Remove("missing"))
	assert.Len(t, s.Accounts, 2)

	assert.True(t, s.Remove("c"))
	assert.Equal(t, "a", s.CurrentAccountID, "removing a non-current account keeps current")

	assert.True(t, s.Remove("a"))
	assert.Empty(t, s.CurrentAccountID)
	assert.Empty(t, s.Accounts)
	assert.False(t, s.Authenticated())
}

func TestManager_RefreshProfile(t *testing.T) {
	now := t0
	fp := &fakeProfiles{profiles: map[string]*tiktok.Profile{}}
	m := newTestManager(fp, &now)
	var s SessionState
	require.NoError(t, m.Add(context.Background(), &s, "act.1", "u1"))
	before := s.Accounts[0]

	fp.profiles["act.1"] = &tiktok.Profile{DisplayName: "Renamed", Username: "new", FollowerCount: 99, VideoCount: 7}
	now = t0.Add(time.Hour)
	require.NoError(t, m.RefreshProfile(context.Background(), &s, "u1"))

	a := s.Accounts[0]
	assert.Equal(t, "Renamed", a.DisplayName)
	assert.Equal(t, int64(99), a.FollowerCount)
	assert.Equal(t, int64(7), a.VideoCount)
	assert.Equal(t, now, a.UpdatedAt)
	assert.Equal(t, before.AccessToken, a.AccessToken)
	assert.Equal(t, before.SessionExpiresAt, a.SessionExpiresAt)
	assert.Equal(t, before.AddedAt, a.AddedAt)

	assert.ErrorIs(t, m.RefreshProfile(context.Background(), &s, "nope"), ErrUnknownAccount)
}

func TestManager_RefreshProfile_ErrorLeavesSnapshot(t *testing.T) {
	now := t0
	fp := &fakeProfiles{}
	m := newTestManager(fp, &now)
	var s SessionState
	require.NoError(t, m.Add(context.Background(), &s, "act.1", "u1"))

	fp.err = &tiktok.Error{Kind: tiktok.ErrInvalidToken, Status: 401}
	err := m.RefreshProfile(context.Background(), &s, "u1")
	assert.ErrorIs(t, err, tiktok.ErrInvalidToken)
	assert.Equal(t, "user act.1", s.Accounts[0].DisplayName)
	assert.True(t, s.Accounts[0].UpdatedAt.IsZero())
}

func TestSessionState_CBORRoundTripKeepsLegacyMarker(t *testing.T) {
	s := SessionState{
		PendingVerifier: "v",
		Accounts: []LinkedAccount{
			{AccountID: "new", AccessToken: "act.1", AddedAt: t0, SessionExpiresAt: t0.Add(time.Hour)},
			{AccountID: "legacy", AccessToken: "act.2"},
		},
		CurrentAccountID: "new",
	}
	b, err := cbor.Marshal(s)
	require.NoError(t, err)

	var got SessionState
	require.NoError(t, cbor.Unmarshal(b, &got))
	assert.Equal(t, "v", got.PendingVerifier)
	assert.Equal(t, "new", got.CurrentAccountID)
	require.Len(t, got.Accounts, 2)
	assert.True(t, got.Accounts[0].SessionExpiresAt.Equal(t0.Add(time.Hour)))
	assert.True(t, got.Accounts[1].SessionExpiresAt.IsZero())
}
