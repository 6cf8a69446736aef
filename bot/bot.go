// Package bot connects to chat and dispatches recognized commands. The
// transport is Twitch IRC; the dispatcher itself is transport-neutral.
package bot

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/mixtape-labs/fmbot/config"
)

// Start joins the configured channel and dispatches inbound messages until
// the context is cancelled. Replies reference the originating message.
func Start(ctx context.Context, cfg *config.Config, d *Dispatcher) {
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch creds not set; skipping chat bot", slog.Any("err", err))
		return
	}
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		reply, ok := d.Handle(ctx, Message{Sender: msg.User.Name, Body: msg.Message, Kind: KindText})
		if !ok {
			return
		}
		client.Reply(msg.Channel, msg.ID, reply)
	})
	// Whispers reach the dispatcher as non-text kinds and are dropped there.
	client.OnWhisperMessage(func(msg twitch.WhisperMessage) {
		_, _ = d.Handle(ctx, Message{Sender: msg.User.Name, Body: msg.Message, Kind: KindWhisper})
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	client.Join(cfg.TwitchChannel)
	slog.Info("chat bot joining channel", slog.String("channel", cfg.TwitchChannel), slog.String("bot", cfg.TwitchBotUsername))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
