package dashboard

import (
	"context"
	"embed"
	"html/template"

	"github.com/mnehpets/reelboard/account"
	"github.com/mnehpets/reelboard/middleware"
	"github.com/mnehpets/reelboard/tiktok"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"videoDate": func(v tiktok.Video) string {
		if v.CreateTime == 0 {
			return "Unknown"
		}
		return v.CreatedAt().Format("2006-01-02 15:04")
	},
}

func parseTemplates() *template.Template {
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}

// Totals are the summed counters of a video list.
type Totals struct {
	Shares   int64 `json:"total_share_count"`
	Views    int64 `json:"total_view_count"`
	Likes    int64 `json:"total_like_count"`
	Comments int64 `json:"total_comment_count"`
}

func sumVideos(videos []tiktok.Video) Totals {
	var t Totals
	for _, v := range videos {
		t.Shares += v.ShareCount
		t.Views += v.ViewCount
		t.Likes += v.LikeCount
		t.Comments += v.CommentCount
	}
	return t
}

// userView is a linked account as listed to the browser.
type userView struct {
	account.LinkedAccount
	SessionInfo account.Expiry `json:"session_info"`
	Current     bool           `json:"is_current"`
}

// userViews lists the session's accounts, saving the record if describing
// them migrated a legacy account.
func (h *Handler) userViews(ctx context.Context, sess *middleware.Session[account.SessionState]) []userView {
	s := sess.Data()
	users := make([]userView, 0, len(s.Accounts))
	for i := range s.Accounts {
		a := &s.Accounts[i]
		info, migrated := h.accounts.Describe(ctx, a)
		if migrated {
			sess.Save()
		}
		users = append(users, userView{
			LinkedAccount: *a,
			SessionInfo:   info,
			Current:       a.AccountID == s.CurrentAccountID,
		})
	}
	return users
}

type dashboardPage struct {
	Profile     *tiktok.Profile
	Videos      []tiktok.Video
	Totals      Totals
	Users       []userView
	Current     *account.LinkedAccount
	MaxAccounts int
}

type videoPage struct {
	Video   *tiktok.Video
	Current *account.LinkedAccount
}

type indexPage struct {
	LoginURL string
}
