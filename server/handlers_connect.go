package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mixtape-labs/fmbot/telemetry"
)

// HandleConnect redirects the visitor to the Last.fm authorize page. Last.fm
// sends them back to /connect/callback with a request token.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.ValidateLastFMReady(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	authURL, err := h.lastfm.BuildAuthURL(h.cfg.SelfURL + "/connect/callback")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleConnectCallback exchanges the Last.fm request token for a session and
// issues a short-lived linking code the visitor pastes into chat.
func (h *Handlers) HandleConnectCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Invalid token", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	session, err := h.lastfm.GetSession(ctx, token)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("last.fm session exchange failed", slog.Any("err", err), slog.String("component", "connect"))
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}
	code, _, err := h.links.Issue(ctx, session.Key)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("linking code issue failed", slog.Any("err", err), slog.String("component", "connect"))
		http.Error(w, "Authentication failed", http.StatusInternalServerError)
		return
	}
	minutes := int(h.links.TTL().Minutes())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Got your token! at some point in the next %d minutes, send this message in any channel with the bot: `my last.fm bot linking code is %s`", minutes, code)
}
