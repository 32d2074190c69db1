package mapview

import (
	"net/url"

	"github.com/joeblew999/casemap/internal/areadetail"
	"github.com/joeblew999/casemap/internal/export"
	"github.com/joeblew999/casemap/internal/postcode"
	"github.com/joeblew999/casemap/internal/session"
)

// SearchPath is where "see more data" postcode links point.
const SearchPath = "/search"

// InfoView is rendered by the "info" fragment.
type InfoView struct {
	Visible      bool
	Loading      bool
	AreaName     string
	AreaType     string
	Date         string
	Message      string
	Summary      *areadetail.Summary
	Postcode     string
	PostcodeHref string
	CloseURL     string
}

// PostcodeView is rendered by the "postcode" fragment.
type PostcodeView struct {
	Postcode string
	Error    string
}

// FallbackView is rendered by the "fallback" fragment.
type FallbackView struct {
	DownloadURL string
}

func infoView(v *session.View, base string) InfoView {
	info := v.Info
	out := InfoView{
		Visible:  info.Visible,
		Loading:  info.Detail.Status == areadetail.StatusLoading,
		AreaType: v.Selection.AreaType,
		AreaName: v.Selection.AreaCode,
		Date:     v.Viewport.Date,
		Message:  info.Message,
		CloseURL: base + "/info/close",
	}
	if s := info.Detail.Summary; s != nil {
		out.Summary = s
		if s.AreaName != "" {
			out.AreaName = s.AreaName
		}
		if s.Date != "" {
			out.Date = s.Date
		}
	}
	if info.Postcode != "" {
		out.Postcode = info.Postcode
		out.PostcodeHref = SearchPath + "?" + url.Values{"postcode": {postcode.Normalize(info.Postcode)}}.Encode()
	}
	return out
}

func postcodeView(v *session.View) PostcodeView {
	if v.Postcode == nil {
		return PostcodeView{}
	}
	return PostcodeView{Postcode: v.Postcode.Postcode}
}

// viewportSignals mirrors the viewport into page signals.
func viewportSignals(v *session.View) map[string]any {
	return map[string]any{
		"date":       v.Viewport.Date,
		"layer":      v.Layer.ID,
		"pinned":     v.Viewport.Pinned,
		"exportName": export.Filename(v.Viewport.Date),
	}
}
