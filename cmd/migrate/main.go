package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ovillere/dinerate/internal/database"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		migrationsDir string
		databaseURL   string
		version       bool
	)
	flag.StringVar(&migrationsDir, "dir", "migrations", "Path to migrations directory")
	flag.StringVar(&databaseURL, "database", "", "Database URL (overrides DATABASE_URL env)")
	flag.BoolVar(&version, "version", false, "Print current schema version and exit")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable or -database flag is required")
	}

	absPath, err := filepath.Abs(migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve migrations directory")
	}

	if version {
		v, dirty, err := database.MigrationVersion(databaseURL, absPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to get schema version")
		}
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg("Current schema version")
		return
	}

	if err := database.RunMigrations(databaseURL, absPath); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
