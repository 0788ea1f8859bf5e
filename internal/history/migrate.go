package history

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration under migrations/ to dbURL.
func Migrate(dbURL string, log *slog.Logger) error {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("history: open db: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil && log != nil {
			log.Error("history: close migration connection", "error", err)
		}
	}()

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("history: set dialect: %w", err)
	}

	if log != nil {
		log.Info("running database migrations")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("history: goose up: %w", err)
	}
	if log != nil {
		log.Info("database migrations applied")
	}
	return nil
}
