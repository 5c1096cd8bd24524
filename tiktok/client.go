// Package tiktok is a small client for the TikTok v2 Open API: the PKCE
// authorization URL, the code-for-token exchange, user info, the video list
// and single video queries.
//
// The provider deviates from stock OAuth2 in two ways the client absorbs:
// the client identifier is sent as client_key, and the token response may
// arrive either flat or nested under "data".
package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL    = "https://www.tiktok.com/v2/auth/authorize"
	DefaultTokenURL   = "https://open.tiktokapis.com/v2/oauth/token/"
	DefaultAPIBaseURL = "https://open.tiktokapis.com"
	DefaultTimeout    = 30 * time.Second
	// MaxVideoCount is the largest page the video list endpoint accepts.
	MaxVideoCount = 20
)

// DefaultScopes are requested at login.
var DefaultScopes = []string{
	"user.info.basic",
	"user.info.profile",
	"user.info.stats",
	"video.list",
	"video.publish",
	"video.upload",
}

const (
	userInfoFields  = "open_id,union_id,avatar_url,display_name,username,follower_count,following_count,likes_count,video_count"
	videoListFields = "id,title,video_description,duration,cover_image_url,embed_link,share_url,create_time,view_count,like_count,comment_count,share_count"
	maxBody         = 1 << 20
)

// Config configures a Client.
type Config struct {
	ClientKey    string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string
	// Timeout bounds every provider call. Calls are never retried.
	Timeout time.Duration
	// HTTPClient is used for all calls. Defaults to a client with no timeout
	// of its own; Timeout is applied per call through the context.
	HTTPClient *http.Client
}

// Profile is the subset of user info the dashboard shows.
type Profile struct {
	OpenID         string `json:"open_id"`
	UnionID        string `json:"union_id,omitempty"`
	AvatarURL      string `json:"avatar_url"`
	DisplayName    string `json:"display_name"`
	Username       string `json:"username"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	LikesCount     int64  `json:"likes_count"`
	VideoCount     int64  `json:"video_count"`
}

// Video is one entry of the user's video list.
type Video struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"video_description"`
	Duration      int    `json:"duration"`
	CoverImageURL string `json:"cover_image_url"`
	EmbedLink     string `json:"embed_link"`
	ShareURL      string `json:"share_url"`
	CreateTime    int64  `json:"create_time"`
	ViewCount     int64  `json:"view_count"`
	LikeCount     int64  `json:"like_count"`
	CommentCount  int64  `json:"comment_count"`
	ShareCount    int64  `json:"share_count"`
}

// CreatedAt returns CreateTime as a time.
func (v Video) CreatedAt() time.Time {
	return time.Unix(v.CreateTime, 0)
}

// Grant is the result of a successful code exchange.
type Grant struct {
	Token  *oauth2.Token
	OpenID string
	Scope  string
}

// API is the part of the provider the dashboard reads from.
type API interface {
	Profile(ctx context.Context, accessToken string) (*Profile, error)
	Videos(ctx context.Context, accessToken string, maxCount int) ([]Video, error)
	Video(ctx context.Context, accessToken, id string) (*Video, error)
}

// Client talks to the provider.
type Client struct {
	cfg    Config
	oauth  *oauth2.Config
	http   *http.Client
	apiURL string
}

// New returns a Client, filling unset fields with the production defaults.
func New(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Scopes == nil {
		cfg.Scopes = DefaultScopes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientKey,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:   hc,
		apiURL: strings.TrimRight(cfg.APIBaseURL, "/"),
	}
}

// AuthCodeURL builds the authorization redirect. challenge is the hex
// S256 digest of the PKCE verifier.
func (c *Client) AuthCodeURL(state, challenge, redirectURI string) string {
	conf := *c.oauth
	conf.RedirectURL = redirectURI
	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("client_key", c.cfg.ClientKey),
		oauth2.SetAuthURLParam("scope", strings.Join(c.cfg.Scopes, ",")),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

type tokenFields struct {
	AccessToken      string `json:"access_token"`
	OpenID           string `json:"open_id"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
}

// decodeTokenResponse accepts the flat shape, then the "data"-nested shape,
// and rejects anything else.
func decodeTokenResponse(body []byte) (*tokenFields, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("token", body, err)
	}

	var f tokenFields
	switch {
	case raw["access_token"] != nil:
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, malformed("token", body, err)
		}
	case raw["data"] != nil:
		if err := json.Unmarshal(raw["data"], &f); err != nil {
			return nil, malformed("token", body, err)
		}
	default:
		return nil, malformed("token", body, nil)
	}

	if f.AccessToken == "" || f.OpenID == "" {
		return nil, malformed("token", body, nil)
	}
	return &f, nil
}

// ExchangeCode trades an authorization code for an access token. It makes
// exactly one request.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*Grant, error) {
	log := zerolog.Ctx(ctx)

	form := url.Values{
		"client_key":    {c.cfg.ClientKey},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Op: "token", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError("token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, transportError("token", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("token exchange rejected")
		return nil, &Error{Kind: ErrTokenExchange, Op: "token", Status: resp.StatusCode, Body: truncate(body)}
	}

	f, err := decodeTokenResponse(body)
	if err != nil {
		log.Error().Str("body", string(body)).Msg("token response has no access token")
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken:  f.AccessToken,
		TokenType:    f.TokenType,
		RefreshToken: f.RefreshToken,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if f.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(f.ExpiresIn) * time.Second)
	}

	log.Info().Str("open_id", f.OpenID).Str("token", Redact(f.AccessToken)).Msg("token exchanged")
	return &Grant{Token: tok, OpenID: f.OpenID, Scope: f.Scope}, nil
}

// apiError is the error envelope on every Open API response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e *apiError) failed() bool {
	return e != nil && e.Code != "" && e.Code != "ok"
}

// call performs an authenticated request and returns the 2xx body.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, accessToken string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}

	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.http),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, transportError(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: ErrInvalidToken, Op: op, Status: resp.StatusCode, Body: truncate(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, statusError(op, resp.StatusCode, body)
	}
	return body, nil
}

func decodeAPI[T any](op string, body []byte) (*T, error) {
	var env struct {
		Data  *T        `json:"data"`
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed(op, body, err)
	}
	if env.Error.failed() {
		kind := ErrAPI
		if env.Error.Code == "access_token_invalid" {
			kind = ErrInvalidToken
		}
		return nil, &Error{Kind: kind, Op: op, Body: env.Error.Code + ": " + env.Error.Message}
	}
	if env.Data == nil {
		return nil, malformed(op, body, nil)
	}
	return env.Data, nil
}

// Profile fetches the user info for the token's owner.
func (c *Client) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	body, err := c.call(ctx, "user.info", http.MethodGet, "/v2/user/info/",
		url.Values{"fields": {userInfoFields}}, accessToken, nil)
	if err != nil {
		return nil, err
	}
	data, err := decodeAPI[struct {
		User *Profile `json:"user"`
	}]("user.info", body)
	if err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, malformed("user.info", body, nil)
	}
	return data.User, nil
}

// Videos lists up to maxCount of the user's most recent videos. maxCount is
// clamped to [1, MaxVideoCount].
func (c *Client) Videos(ctx context.Context, accessToken string, maxCount int) ([]Video, error) {
	if maxCount <= 0 || maxCount > MaxVideoCount {
		maxCount = MaxVideoCount
	}
	body, err := c.call(ctx, "video.list", http.MethodPost, "/v2/video/list/",
		url.Values{"fields": {videoListFields}}, accessToken, map[string]int{"max_count": maxCount})
	if err != nil {
		return nil, err
	}
	data, err := decodeAPI[struct {
		Videos  []Video `json:"videos"`
		Cursor  int64   `json:"cursor"`
		HasMore bool    `json:"has_more"`
	}]("video.list", body)
	if err != nil {
		return nil, err
	}
	if data.Videos == nil {
		return []Video{}, nil
	}
	return data.Videos, nil
}

type videoQuery struct {
	Filters struct {
		VideoIDs []string `json:"video_ids"`
	} `json:"filters"`
}

// Video fetches one of the user's videos by id. A video the token's owner
// does not have fails with ErrNotFound.
func (c *Client) Video(ctx context.Context, accessToken, id string) (*Video, error) {
	var q videoQuery
	q.Filters.VideoIDs = []string{id}
	body, err := c.call(ctx, "video.query", http.MethodPost, "/v2/video/query/",
		url.Values{"fields": {videoListFields}}, accessToken, q)
	if err != nil {
		return nil, err
	}
	data, err := decodeAPI[struct {
		Videos []Video `json:"videos"`
	}]("video.query", body)
	if err != nil {
		return nil, err
	}
	for i := range data.Videos {
		if data.Videos[i].ID == id {
			return &data.Videos[i], nil
		}
	}
	return nil, &Error{Kind: ErrNotFound, Op: "video.query", Body: id}
}

var _ API = (*Client)(nil)
