package dashboard

import (
	"errors"
	"net/http"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/auth"
	"github.com/mnehpets/reelboard/endpoint"
	"github.com/mnehpets/reelboard/tiktok"
	"github.com/rs/zerolog"
)

// AccountParams selects a linked account in a JSON body.
type AccountParams struct {
	OpenID string `json:"open_id" validate:"required"`
}

// UserDataParams selects a linked account in the query.
type UserDataParams struct {
	OpenID string `query:"open_id" validate:"required"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type usersResponse struct {
	apiResponse
	Users             []userView `json:"users"`
	CurrentUserOpenID string     `json:"current_user_open_id"`
}

type userInfo struct {
	OpenID      string `json:"open_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Totals
}

type userDataResponse struct {
	apiResponse
	Profile  *tiktok.Profile `json:"profile"`
	Videos   []tiktok.Video  `json:"videos"`
	UserInfo userInfo        `json:"user_info"`
}

type refreshResponse struct {
	apiResponse
	User account.LinkedAccount `json:"user"`
}

func jsonOK(v any) endpoint.Renderer {
	return &endpoint.JSONRenderer{Value: v}
}

func jsonError(status int, msg string) endpoint.Renderer {
	return &endpoint.JSONRenderer{Status: status, Value: apiResponse{Error: msg}}
}

// jsonFailure renders err with the status auth.HTTPError assigns it.
func jsonFailure(err error) endpoint.Renderer {
	var ee *endpoint.EndpointError
	if errors.As(auth.HTTPError(err), &ee) {
		return jsonError(ee.Status, ee.Message)
	}
	return jsonError(http.StatusInternalServerError, "Internal error")
}

func (h *Handler) switchUser(w http.ResponseWriter, r *http.Request, p AccountParams) (endpoint.Renderer, error) {
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	if err := sess.Update(func(s *account.SessionState) error {
		return s.SetCurrent(p.OpenID)
	}); err != nil {
		return jsonError(http.StatusNotFound, "User not found"), nil
	}
	zerolog.Ctx(r.Context()).Info().Str("open_id", p.OpenID).Msg("switched account")
	return jsonOK(apiResponse{Success: true, Message: "Switched account"}), nil
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request, p AccountParams) (endpoint.Renderer, error) {
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	h.unlink(sess, p.OpenID)
	zerolog.Ctx(r.Context()).Info().Str("open_id", p.OpenID).Int("accounts", sess.Data().Len()).Msg("removed account")
	return jsonOK(apiResponse{Success: true, Message: "Removed account"}), nil
}

func (h *Handler) refreshProfile(w http.ResponseWriter, r *http.Request, p AccountParams) (endpoint.Renderer, error) {
	ctx := r.Context()
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	s := sess.Data()
	a := s.Find(p.OpenID)
	if a == nil {
		return jsonError(http.StatusNotFound, "User not found"), nil
	}
	h.source.Invalidate(a.AccessToken)

	if err := h.accounts.RefreshProfile(ctx, s, p.OpenID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("open_id", p.OpenID).Msg("profile refresh failed")
		if errors.Is(err, tiktok.ErrInvalidToken) {
			h.unlink(sess, p.OpenID)
		}
		return jsonFailure(err), nil
	}
	if err := sess.Fits(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("open_id", p.OpenID).Msg("refreshed profile does not fit the session")
		return jsonFailure(err), nil
	}
	sess.Save()
	return jsonOK(refreshResponse{
		apiResponse: apiResponse{Success: true, Message: "Profile refreshed"},
		User:        *s.Find(p.OpenID),
	}), nil
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ctx := r.Context()
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	return jsonOK(usersResponse{
		apiResponse:       apiResponse{Success: true},
		Users:             h.userViews(ctx, sess),
		CurrentUserOpenID: sess.Data().CurrentAccountID,
	}), nil
}

func (h *Handler) userData(w http.ResponseWriter, r *http.Request, p UserDataParams) (endpoint.Renderer, error) {
	ctx := r.Context()
	sess, err := sessionFrom(r)
	if err != nil {
		return nil, err
	}
	a := sess.Data().Find(p.OpenID)
	if a == nil {
		return jsonError(http.StatusNotFound, "User not found"), nil
	}

	profile, err := h.source.Profile(ctx, a.AccessToken)
	var videos []tiktok.Video
	if err == nil {
		videos, err = h.source.Videos(ctx, a.AccessToken, h.maxVideos)
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("open_id", p.OpenID).Msg("failed to load user data")
		if errors.Is(err, tiktok.ErrInvalidToken) {
			h.unlink(sess, p.OpenID)
		}
		return jsonFailure(err), nil
	}

	return jsonOK(userDataResponse{
		apiResponse: apiResponse{Success: true},
		Profile:     profile,
		Videos:      videos,
		UserInfo: userInfo{
			OpenID:      a.AccountID,
			DisplayName: a.DisplayName,
			AvatarURL:   profile.AvatarURL,
			Totals:      sumVideos(videos),
		},
	}), nil
}
