package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/config"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/migrations"
	"github.com/PortNumber53/saas-starter/internal/store"
)

const usage = "usage: dbtool [up|down|version|fix|force <version>|cleanup-jobs <days>]"

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	log, err := logger.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	dsn, err := config.LoadDatabaseURL()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	cmd, args := "up", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	if err := run(context.Background(), db, log, cmd, args); err != nil {
		log.Fatal(cmd+" failed", zap.Error(err))
	}
}

func run(ctx context.Context, db *sql.DB, log *zap.Logger, cmd string, args []string) error {
	switch cmd {
	case "up":
		return migrations.Up(db, log)

	case "down":
		if err := migrations.Down(db); err != nil {
			return err
		}
		log.Info("all migrations rolled back")
		return nil

	case "version":
		v, dirty, err := migrations.Version(db)
		if err != nil {
			return err
		}
		log.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
		return nil

	case "fix":
		if err := migrations.FixDirtyDatabase(db); err != nil {
			return err
		}
		log.Info("dirty flag cleared")
		return nil

	case "force":
		if len(args) < 1 {
			return errors.New(usage)
		}
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[0])
		}
		if err := migrations.ForceVersion(db, uint(v)); err != nil {
			return err
		}
		log.Info("schema version forced", zap.Uint64("version", v))
		return nil

	case "cleanup-jobs":
		days := 30
		if len(args) > 0 {
			d, err := strconv.Atoi(args[0])
			if err != nil || d < 1 {
				return fmt.Errorf("invalid day count %q", args[0])
			}
			days = d
		}
		jobs, err := store.NewJobStore(db)
		if err != nil {
			return err
		}
		n, err := jobs.CleanupOldJobs(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		log.Info("old jobs removed", zap.Int64("deleted", n), zap.Int("older_than_days", days))
		return nil

	default:
		return errors.New(usage)
	}
}
