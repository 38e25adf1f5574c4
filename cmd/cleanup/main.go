// Command cleanup deletes expired pending registrations. Run it from cron.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/FilipeAphrody/farmhand-auth/internal/config"
	"github.com/FilipeAphrody/farmhand-auth/internal/lib/sl"
	"github.com/FilipeAphrody/farmhand-auth/internal/repository"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.MustLoad()
	log := sl.SetupLogger(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		log.Error("failed to open postgres", sl.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	n, err := repository.NewPostgresPendingRepo(db).PurgeExpired(ctx, time.Now())
	if err != nil {
		log.Error("purge failed", sl.Err(err))
		os.Exit(1)
	}
	log.Info("expired pending registrations purged", slog.Int64("deleted", n))
}
