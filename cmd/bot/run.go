package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/user/ticketbot/internal/alert"
	"github.com/user/ticketbot/internal/commands"
	"github.com/user/ticketbot/internal/config"
	"github.com/user/ticketbot/internal/discord"
	"github.com/user/ticketbot/internal/housekeeping"
	"github.com/user/ticketbot/internal/lock"
	"github.com/user/ticketbot/internal/storage"
	"github.com/user/ticketbot/internal/theoryhunt"
	"github.com/user/ticketbot/internal/tickets"
	"github.com/user/ticketbot/internal/transcript"
	"github.com/user/ticketbot/internal/web"
	"github.com/user/ticketbot/pkg/logger"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot",
		Long:  `Connect to Discord, resume pending transcripts, start housekeeping and serve the transcript API.`,
		RunE:  runBot,
	}
}

// loadConfig loads configuration and initializes the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Init("info", "")
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newLocker(cfg *config.Config) (lock.Locker, func(), error) {
	if !cfg.Redis.Enabled {
		return lock.NewMemory(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis ticket locks")
	return lock.NewRedis(client), func() { client.Close() }, nil
}

func newNotifier(cfg *config.Config) alert.Notifier {
	tg := cfg.Alerts.Telegram
	if tg.Token == "" || tg.ChatID == 0 {
		return alert.Nop{}
	}
	n, err := alert.NewTelegram(tg.Token, tg.ChatID, "ticketbot/"+cfg.Env)
	if err != nil {
		logger.Error().Err(err).Msg("Telegram alerts disabled")
		return alert.Nop{}
	}
	return n
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dep := cfg.Deployment()
	logger.Info().Str("env", cfg.Env).Str("server_id", dep.ServerID).Msg("Starting ticket bot")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	store := storage.NewStore(db)
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	locker, closeLocker, err := newLocker(cfg)
	if err != nil {
		return err
	}
	defer closeLocker()
	alerts := newNotifier(cfg)

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	client := discord.NewClient(session)

	pipeline := transcript.New(store, client, alerts, transcript.Options{
		PageSize:      cfg.Transcripts.PageSize,
		ProgressEvery: cfg.Transcripts.ProgressEvery,
		LogChannelID:  dep.Channel("transcript_log"),
	})
	catalog := tickets.NewCatalog(tickets.DefaultTypes(dep)...)
	engine := tickets.NewEngine(store, client, catalog, locker, pipeline, tickets.Options{})
	hunts := theoryhunt.NewService(store, client, theoryhunt.Options{
		OpenChannelID:   dep.Channel("theoryhunt_open"),
		ClosedChannelID: dep.Channel("theoryhunt_closed"),
	})
	keeper := housekeeping.New(store, client, catalog, alerts, housekeeping.RealClock())
	scheduler := housekeeping.NewScheduler(housekeeping.RealClock(), cfg.Housekeeping.Interval, keeper.Tick)
	moves := housekeeping.NewMoveLog()

	router := commands.NewRouter(commands.Default(commands.Deps{
		Engine:      engine,
		Theoryhunts: hunts,
		Housekeeper: keeper,
		Moves:       moves,
		Platform:    client,
	})...)

	bot := discord.NewBot(session, client, discord.Deps{
		Router:      router,
		Engine:      engine,
		Store:       store,
		Housekeeper: keeper,
		Scheduler:   scheduler,
		Pipeline:    pipeline,
		Moves:       moves,
		Prefix:      cfg.Discord.Prefix,
	})

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: web.NewRouter(store, cfg.Server.Token),
	}
	if cfg.Server.Token == "" {
		logger.Warn().Msg("server.token is empty, transcript API requests will be refused")
	}
	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	if err := bot.Start(); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bot.Stop()
	scheduler.Stop()
	// cursors of interrupted transcripts stay queued and resume on the next start
	pipeline.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
