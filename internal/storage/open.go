package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	logx "caseobserver/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		st      *sqlStore
		dialect goose.Dialect
		err     error
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
		dialect = goose.DialectSQLite3
	case "postgres", "postgresql", "pgx":
		st, err = openPostgres(cfg, log)
		dialect = goose.DialectPostgres
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	if err := migrate(ctx, st, dialect); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func openSQLite(cfg Config, log logx.Logger) (*sqlStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite prefers a single writer; one connection also keeps
	// per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return newSQLStore(db, sq.Question, log), nil
}

func openPostgres(cfg Config, log logx.Logger) (*sqlStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db, sq.Dollar, log), nil
}

func migrate(ctx context.Context, st *sqlStore, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, st.db.DB, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		st.log.Info("migration applied",
			logx.Int64("version", r.Source.Version),
			logx.Duration("took", r.Duration),
		)
	}
	return nil
}
