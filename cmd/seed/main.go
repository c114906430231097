// Command seed writes the demo profiles and posts into a Supabase Postgres
// database so backend mode starts with the same feed as mock mode.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/snapshare/client/internal/seed"
	"github.com/snapshare/client/pkg/logger"
)

func main() {
	var (
		envFile     = flag.String("env", ".env", "Path to a .env file with DATABASE_URL")
		databaseURL = flag.String("database-url", "", "Postgres connection string (default $DATABASE_URL)")
		timeout     = flag.Duration("timeout", 30*time.Second, "Overall timeout")
		logLevel    = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	log := logger.New("seed", logger.Config{Level: *logLevel, Format: "text"})

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	dsn := *databaseURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		log.Fatal("DATABASE_URL missing: pass -database-url or set it in the environment")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	res, err := seed.New(db, log).SeedFixtures(ctx)
	if err != nil {
		log.Fatalf("seed fixtures: %v", err)
	}
	log.Infof("seeded %d profiles and %d posts", res.Profiles, res.Posts)
}
