package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"solarbot/internal/bot"
	"solarbot/internal/config"
	"solarbot/internal/store"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DataPath)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		slog.Error("failed to create Discord session", "error", err)
		os.Exit(1)
	}

	// Enable automatic rate limit handling
	dg.ShouldRetryOnRateLimit = true
	dg.MaxRestRetries = 3

	b := bot.New(cfg, st)

	dg.AddHandler(b.OnReady)
	dg.AddHandler(b.OnReactionAdd)
	dg.AddHandler(b.OnInteractionCreate)

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions

	if err := dg.Open(); err != nil {
		slog.Error("failed to open connection", "error", err)
		os.Exit(1)
	}
	defer dg.Close()

	slog.Info("bot is running")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	slog.Info("shutting down")
	b.Shutdown()
}
