package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"clockbot/internal/bot"
	"clockbot/internal/config"
	"clockbot/internal/db"
	"clockbot/internal/ledger"
	"clockbot/internal/logger"
	"clockbot/internal/queue"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	runMigrations := flag.Bool("migrate", false, "apply database migrations before starting")
	flag.Parse()

	// Load environment variables from .env file
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	if envErr != nil {
		zlog.Info("no .env file found")
	}
	zlog.Info("starting clockbot application", zap.String("timezone", cfg.DisplayTimezone))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *runMigrations {
		if err := db.RunMigrations(cfg.Database.URL(), zlog); err != nil {
			zlog.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize database
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	replacements, rdb, err := queue.Connect(ctx, cfg.Redis, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize replacement queue", zap.Error(err))
	}
	defer rdb.Close()

	led := ledger.New(database, replacements, cfg, cfg.Location(), zlog.Named("ledger"))

	// Initialize bot
	discordBot, err := bot.New(cfg, database, led, replacements, zlog.Named("bot"))
	if err != nil {
		zlog.Fatal("failed to create bot", zap.Error(err))
	}

	// Start blocks until ctx is cancelled, then shuts the bot down
	if err := discordBot.Start(ctx); err != nil && ctx.Err() == nil {
		zlog.Error("error running bot", zap.Error(err))
		os.Exit(1)
	}

	zlog.Info("application shutdown complete")
}
