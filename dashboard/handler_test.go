package dashboard

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/endpoint"
	"github.com/mnehpets/reelboard/middleware"
	"github.com/mnehpets/reelboard/tiktok"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	errs        map[string]error
	videos      []tiktok.Video
	profileCall int
	maxCount    int
	invalidated []string
}

func (f *fakeSource) Profile(_ context.Context, token string) (*tiktok.Profile, error) {
	f.profileCall++
	if err := f.errs[token]; err != nil {
		return nil, err
	}
	return &tiktok.Profile{DisplayName: "fresh " + token, AvatarURL: "https://cdn/" + token, FollowerCount: 42}, nil
}

func (f *fakeSource) Videos(_ context.Context, token string, maxCount int) ([]tiktok.Video, error) {
	f.maxCount = maxCount
	if err := f.errs[token]; err != nil {
		return nil, err
	}
	return f.videos, nil
}

func (f *fakeSource) Video(_ context.Context, token, id string) (*tiktok.Video, error) {
	if err := f.errs[token]; err != nil {
		return nil, err
	}
	for i := range f.videos {
		if f.videos[i].ID == id {
			return &f.videos[i], nil
		}
	}
	return nil, &tiktok.Error{Kind: tiktok.ErrNotFound, Op: "video.query", Body: id}
}

func (f *fakeSource) Invalidate(token string) {
	f.invalidated = append(f.invalidated, token)
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testApp struct {
	handler *Handler
	source  *fakeSource
	session *middleware.SessionProcessor[account.SessionState]
}

func newTestApp(t *testing.T, opts ...Option) *testApp {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	sp, err := middleware.NewSessionProcessor[account.SessionState](key,
		middleware.WithCookieOptions(middleware.WithSecure(false)))
	require.NoError(t, err)

	src := &fakeSource{errs: map[string]error{}}
	m := account.NewManager(src, account.WithClock(func() time.Time { return now }))
	opts = append([]Option{WithPageProcessors(sp), WithAPIProcessors(sp)}, opts...)
	return &testApp{handler: NewHandler(m, src, opts...), source: src, session: sp}
}

// with runs fn against the session carried by cookies and returns the
// resulting cookies.
func (a *testApp) with(t *testing.T, cookies []*http.Cookie, fn func(*account.SessionState)) []*http.Cookie {
	t.Helper()
	h := endpoint.HandleFunc(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		sess, ok := middleware.SessionFromContext[account.SessionState](r.Context())
		require.True(t, ok)
		fn(sess.Data())
		sess.Save()
		return &endpoint.NoContentRenderer{}, nil
	}, a.session)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec.Result().Cookies()
}

func (a *testApp) seed(t *testing.T, s account.SessionState) []*http.Cookie {
	return a.with(t, nil, func(dst *account.SessionState) { *dst = s })
}

func (a *testApp) state(t *testing.T, cookies []*http.Cookie) account.SessionState {
	var got account.SessionState
	a.with(t, cookies, func(s *account.SessionState) { got = *s })
	return got
}

func (a *testApp) do(method, target, body string, cookies []*http.Cookie) *http.Response {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec.Result()
}

// latest returns the cookies of resp, or prev if the response did not
// rewrite the session.
func latest(resp *http.Response, prev []*http.Cookie) []*http.Cookie {
	if c := resp.Cookies(); len(c) > 0 {
		return c
	}
	return prev
}

func twoAccounts() account.SessionState {
	return account.SessionState{
		Accounts: []account.LinkedAccount{
			{AccountID: "u1", AccessToken: "act.one", DisplayName: "One", AddedAt: now, SessionExpiresAt: now.Add(2 * time.Hour)},
			{AccountID: "u2", AccessToken: "act.two", DisplayName: "Two", AddedAt: now, SessionExpiresAt: now.Add(-time.Minute)},
		},
		CurrentAccountID: "u1",
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestIndex(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `href="/login"`)

	cookies := app.seed(t, twoAccounts())
	resp = app.do(http.MethodGet, "/", "", cookies)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestDashboard_Unauthenticated(t *testing.T) {
	app := newTestApp(t)
	resp := app.do(http.MethodGet, "/dashboard", "", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Zero(t, app.source.profileCall)
}

func TestDashboard_Renders(t *testing.T) {
	app := newTestApp(t, WithMaxVideos(7))
	app.source.videos = []tiktok.Video{
		{ID: "v1", Title: "first", ViewCount: 10, LikeCount: 3, CommentCount: 1, ShareCount: 2},
		{ID: "v2", Title: "second", ViewCount: 5, LikeCount: 1, ShareCount: 4},
	}
	cookies := app.seed(t, twoAccounts())

	resp := app.do(http.MethodGet, "/dashboard", "", cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	page := string(body)

	assert.Contains(t, page, "fresh act.one")
	assert.Contains(t, page, "Views: 15")
	assert.Contains(t, page, "Shares: 6")
	assert.Contains(t, page, "Session valid for 2 hours 0 minutes")
	assert.Contains(t, page, account.ExpiredMessage)
	assert.Equal(t, 7, app.source.maxCount)
}

func TestDashboard_MigratesLegacy(t *testing.T) {
	app := newTestApp(t)
	s := twoAccounts()
	s.Accounts[0].SessionExpiresAt = time.Time{}
	cookies := app.seed(t, s)

	resp := app.do(http.MethodGet, "/dashboard", "", cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := app.state(t, latest(resp, cookies))
	assert.Equal(t, now.Add(account.DefaultLifetime), got.Accounts[0].SessionExpiresAt.UTC())
	assert.Equal(t, now, got.Accounts[0].AddedAt.UTC())
}

func TestDashboard_RepairsLostCurrentPointer(t *testing.T) {
	app := newTestApp(t)
	s := twoAccounts()
	s.CurrentAccountID = "gone"
	cookies := app.seed(t, s)

	resp := app.do(http.MethodGet, "/dashboard", "", cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode, "must not bounce between / and /dashboard")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "fresh act.one")

	got := app.state(t, latest(resp, cookies))
	assert.Equal(t, "u1", got.CurrentAccountID)
	assert.Len(t, got.Accounts, 2)
}

func TestDashboard_MalformedTokenRemovesAccount(t *testing.T) {
	app := newTestApp(t)
	s := twoAccounts()
	s.Accounts[0].AccessToken = "bogus"
	cookies := app.seed(t, s)

	resp := app.do(http.MethodGet, "/dashboard", "", cookies)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Zero(t, app.source.profileCall)

	got := app.state(t, latest(resp, cookies))
	require.Len(t, got.Accounts, 1)
	assert.Equal(t, "u2", got.CurrentAccountID)
}

func TestDashboard_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantLeft   int
	}{
		{"invalid token", &tiktok.Error{Kind: tiktok.ErrInvalidToken, Status: 401}, http.StatusFound, 1},
		{"server error", &tiktok.Error{Kind: tiktok.ErrStatus, Status: 500}, http.StatusBadGateway, 2},
		{"network", &tiktok.Error{Kind: tiktok.ErrNetwork}, http.StatusServiceUnavailable, 2},
		{"timeout", &tiktok.Error{Kind: tiktok.ErrTimeout}, http.StatusGatewayTimeout, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			app.source.errs["act.one"] = tt.err
			cookies := app.seed(t, twoAccounts())

			resp := app.do(http.MethodGet, "/dashboard", "", cookies)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			got := app.state(t, latest(resp, cookies))
			assert.Len(t, got.Accounts, tt.wantLeft)
		})
	}
}

func TestDashboard_InvalidTokenInvalidatesCache(t *testing.T) {
	app := newTestApp(t)
	app.source.errs["act.one"] = &tiktok.Error{Kind: tiktok.ErrInvalidToken, Status: 401}
	cookies := app.seed(t, twoAccounts())

	resp := app.do(http.MethodGet, "/dashboard", "", cookies)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, []string{"act.one"}, app.source.invalidated)
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	cookies := app.seed(t, twoAccounts())

	resp := app.do(http.MethodGet, "/logout", "", cookies)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	require.Len(t, resp.Cookies(), 1)
	assert.Negative(t, resp.Cookies()[0].MaxAge)
	assert.ElementsMatch(t, []string{"act.one", "act.two"}, app.source.invalidated)
}

func TestVideo(t *testing.T) {
	app := newTestApp(t)
	app.source.videos = []tiktok.Video{
		{ID: "v1", Title: "first clip", ViewCount: 10, LikeCount: 3, CommentCount: 1, ShareCount: 2, ShareURL: "https://share/v1"},
	}
	cookies := app.seed(t, twoAccounts())

	resp := app.do(http.MethodGet, "/video/v1", "", cookies)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	page := string(body)
	assert.Contains(t, page, "first clip")
	assert.Contains(t, page, "Views: 10")
	assert.Contains(t, page, "https://share/v1")
	assert.Contains(t, page, "Back to One")

	resp = app.do(http.MethodGet, "/video/missing", "", cookies)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = app.do(http.MethodGet, "/video/v1", "", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestVideo_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantLeft   int
	}{
		{"invalid token", &tiktok.Error{Kind: tiktok.ErrInvalidToken, Status: 401}, http.StatusFound, 1},
		{"network", &tiktok.Error{Kind: tiktok.ErrNetwork}, http.StatusServiceUnavailable, 2},
		{"timeout", &tiktok.Error{Kind: tiktok.ErrTimeout}, http.StatusGatewayTimeout, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			app.source.errs["act.one"] = tt.err
			cookies := app.seed(t, twoAccounts())

			resp := app.do(http.MethodGet, "/video/v1", "", cookies)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Len(t, app.state(t, latest(resp, cookies)).Accounts, tt.wantLeft)
		})
	}
}
