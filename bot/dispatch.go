package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mixtape-labs/fmbot/lastfm"
	"github.com/mixtape-labs/fmbot/linking"
	"github.com/mixtape-labs/fmbot/telemetry"
)

const (
	apologyReply  = "whoops an error :("
	denialReply   = "no its not you lier (maybe it expired?)"
	noScrobbles   = "you haven't scrobbled anything yet!"
	linkHelpHint  = "please declare `" + linkHelpPhrase + "`"
	notLinkedInfo = "i have no idea! you need to link your account first, " + linkHelpHint
	notLinkedSong = "who even are you?? you need to link your account first, " + linkHelpHint
)

// Dispatcher classifies inbound chat messages and produces replies. Every
// handler converts store and provider failures into the generic apology so
// nothing propagates back to the transport.
type Dispatcher struct {
	Links     *linking.Service
	Users     linking.LinkedUserStore
	LastFM    *lastfm.Client
	SelfURL   string
	BotName   string
	StartedAt time.Time
}

// Handle processes one inbound message. The second return is false when no
// reply should be sent: unrecognized bodies, self messages, and non-text
// message kinds are silently ignored.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (string, bool) {
	if msg.Kind != KindText {
		return "", false
	}
	if msg.Sender == "" || strings.EqualFold(msg.Sender, d.BotName) {
		return "", false
	}
	in := classify(msg.Body)
	if in == intentNone {
		return "", false
	}
	inc(telemetry.CommandsHandled)

	switch in {
	case intentPing:
		return fmt.Sprintf("yeah! %d seconds and counting!", int(time.Since(d.StartedAt).Seconds())), true
	case intentLinkHelp:
		return fmt.Sprintf("rad, go to %s/connect to do that", d.SelfURL), true
	case intentLinkClaim:
		return d.handleClaim(ctx, msg), true
	case intentUsername:
		return d.handleUsername(ctx, msg), true
	case intentNowPlaying:
		return d.handleNowPlaying(ctx, msg), true
	}
	return "", false
}

func (d *Dispatcher) handleClaim(ctx context.Context, msg Message) string {
	code := claimCode(msg.Body)
	sessionKey, err := d.Links.Claim(ctx, msg.Sender, code)
	if errors.Is(err, linking.ErrCodeNotFound) {
		// Not a system error: unknown and expired codes get the same denial.
		slog.Info("link claim rejected", slog.String("command", intentLinkClaim.String()), slog.String("sender", msg.Sender))
		return denialReply
	}
	if err != nil {
		return d.apologize(intentLinkClaim, err)
	}
	user, err := d.LastFM.GetUserInfo(ctx, sessionKey)
	if err != nil {
		return d.apologize(intentLinkClaim, err)
	}
	name := user.RealName
	if name == "" {
		name = user.Name
	}
	return fmt.Sprintf("you're all linked up, %s!", name)
}

func (d *Dispatcher) handleUsername(ctx context.Context, msg Message) string {
	linked, err := d.Users.Get(ctx, msg.Sender)
	if errors.Is(err, linking.ErrNotLinked) {
		return notLinkedInfo
	}
	if err != nil {
		return d.apologize(intentUsername, err)
	}
	user, err := d.LastFM.GetUserInfo(ctx, linked.SessionKey)
	if err != nil {
		return d.apologize(intentUsername, err)
	}
	return fmt.Sprintf("your username is %s", user.Name)
}

func (d *Dispatcher) handleNowPlaying(ctx context.Context, msg Message) string {
	linked, err := d.Users.Get(ctx, msg.Sender)
	if errors.Is(err, linking.ErrNotLinked) {
		return notLinkedSong
	}
	if err != nil {
		return d.apologize(intentNowPlaying, err)
	}
	user, err := d.LastFM.GetUserInfo(ctx, linked.SessionKey)
	if err != nil {
		return d.apologize(intentNowPlaying, err)
	}
	tracks, err := d.LastFM.GetRecentTracks(ctx, user.Name, 1)
	if err != nil {
		return d.apologize(intentNowPlaying, err)
	}
	if len(tracks) == 0 {
		return noScrobbles
	}
	current := tracks[0]
	return fmt.Sprintf("%s - %s %s", current.Artist, current.Name, current.URL)
}

func (d *Dispatcher) apologize(in intent, err error) string {
	inc(telemetry.CommandErrors)
	slog.Error("command handler failed", slog.String("command", in.String()), slog.Any("err", err))
	return apologyReply
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
