package main

import (
	"flag"
	"log"
	"os"

	"clockbot/internal/config"
	"clockbot/internal/db"
	"clockbot/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.LoadDatabase(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	if err := db.RunMigrations(cfg.Database.URL(), zlog); err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}
	zlog.Info("migration completed successfully")
}
