// Command fmbot is the main entrypoint for the Last.fm chat bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Joins chat and answers the recognized commands (status, link help,
//     code claim, username, now playing).
//   - Exposes an HTTP server with the /connect flow, OAuth endpoints for the
//     bot's chat credential, health probes, and /metrics.
//   - Runs background jobs: pending-link purge and OAuth token refresh.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mixtape-labs/fmbot/bot"
	"github.com/mixtape-labs/fmbot/config"
	"github.com/mixtape-labs/fmbot/crypto"
	"github.com/mixtape-labs/fmbot/db"
	"github.com/mixtape-labs/fmbot/lastfm"
	"github.com/mixtape-labs/fmbot/linking"
	"github.com/mixtape-labs/fmbot/server"
	"github.com/mixtape-labs/fmbot/telemetry"
	"github.com/mixtape-labs/fmbot/twitchauth"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("fmbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Encryption for session keys and OAuth tokens at rest (optional).
	var enc crypto.Encryptor
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		aes, err := crypto.NewAESEncryptor(key)
		if err != nil {
			slog.Error("encryption init failed", slog.Any("err", err))
			os.Exit(1)
		}
		enc = aes
		slog.Info("session key encryption enabled (AES-256-GCM)")
	} else {
		slog.Warn("ENCRYPTION_KEY not set, session keys will be stored in plaintext (not recommended for production)")
	}

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; embedded SQL as fallback for deployments
	// without the migration files on disk.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wiring: stores, linking service, Last.fm client, Twitch credential service.
	pending := linking.NewPostgresPendingLinkStore(database, enc)
	users := linking.NewPostgresLinkedUserStore(database, enc)
	links := linking.NewService(pending, users, cfg.LinkCodeTTL)
	lfm := &lastfm.Client{APIKey: cfg.LastFMAPIKey, SharedSecret: cfg.LastFMSharedSecret}
	twitchSvc := twitchauth.New(cfg, database, enc)

	// Prefer an explicit TWITCH_OAUTH_TOKEN; otherwise use the stored credential
	// from the /auth/twitch/start flow.
	if cfg.TwitchOAuthToken == "" {
		if tok, err := twitchSvc.ChatToken(ctx); err == nil {
			cfg.TwitchOAuthToken = tok
		} else {
			slog.Info("no stored twitch credential", slog.Any("err", err))
		}
	}

	// Chat bot
	dispatcher := &bot.Dispatcher{
		Links:     links,
		Users:     users,
		LastFM:    lfm,
		SelfURL:   cfg.SelfURL,
		BotName:   cfg.TwitchBotUsername,
		StartedAt: time.Now(),
	}
	go bot.Start(ctx, cfg, dispatcher)

	// Background jobs
	linking.StartPurgeJob(ctx, pending, time.Minute)
	twitchSvc.StartRefresher(ctx, 5*time.Minute, 15*time.Minute)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (connect flow, oauth, health, metrics)
	go func() {
		if err := server.Start(ctx, database, cfg, links, lfm, twitchSvc); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
