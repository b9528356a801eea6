package main

import (
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/hackgods/dental-booking/internal/db"
	"github.com/hackgods/dental-booking/internal/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	if cmd == "up" {
		if err := db.MigrateUp(dsn); err != nil {
			logger.WithError(err).Fatal("migrate up failed")
		}
		logger.Info("migrations complete")
		return
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		logger.WithError(err).Fatal("create migrator")
	}
	defer func() { _, _ = m.Close() }()

	switch cmd {
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.WithError(err).Fatal("migrate down failed")
		}
		logger.Info("rolled back one migration")
	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			logger.WithError(err).Fatal("read version")
		}
		logger.WithField("version", v).WithField("dirty", dirty).Info("schema version")
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.WithError(err).Fatal("invalid version")
		}
		if err := m.Force(version); err != nil {
			logger.WithError(err).Fatal("force version")
		}
		logger.WithField("version", version).Info("forced schema version")
	default:
		logger.Fatalf("unknown command %q", cmd)
	}
}
