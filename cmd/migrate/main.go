package main

import (
	"flag"

	"github.com/topicquests/tqos-asr-api/internal/util"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/logger/console"
	"github.com/topicquests/tqos-asr-api/pkg/schema"
)

func main() {
	util.LoadEnv()

	down := flag.Bool("down", false, "revert every migration")
	dsn := flag.String("database", util.GetEnv("DATABASE_URL"), "database URL (postgres://, sqlite:// or file:)")
	flag.Parse()

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	if *dsn == "" {
		logger.Fatal("No database given, set DATABASE_URL or -database")
	}

	if *down {
		if err := schema.Down(*dsn); err != nil {
			logger.Fatal("Migration failed", "err", err)
		}
		logger.Info("Reverted all migrations")
		return
	}
	if err := schema.Migrate(*dsn); err != nil {
		logger.Fatal("Migration failed", "err", err)
	}
	logger.Info("Database is up to date")
}
