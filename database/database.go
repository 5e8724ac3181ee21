package database

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsDir embed.FS

var migrationName = regexp.MustCompile(`^(\d+)[-_].*\.sql$`)

// Database keeps separate pools for readers and the single writer SQLite allows.
type Database struct {
	logger *slog.Logger
	read   *sql.DB
	write  *sql.DB
	path   string
}

const initSQL = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	PRAGMA trusted_schema = OFF;
`

var registerHook sync.Once

// New opens the database at path and applies pending migrations. An existing database is
// backed up before it is migrated.
func New(ctx context.Context, path string) (*Database, error) {
	registerHook.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			_, err := conn.ExecContext(context.Background(), initSQL, nil)
			return err
		})
	})

	read, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error when opening database (read): %w", err)
	}
	read.SetMaxOpenConns(4)
	read.SetConnMaxIdleTime(time.Minute)

	write, err := sql.Open("sqlite", path)
	if err != nil {
		read.Close()
		return nil, fmt.Errorf("error when opening database (write): %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetConnMaxIdleTime(time.Minute)

	d := &Database{
		logger: slog.Default().With(slog.String("module", "database")),
		read:   read,
		write:  write,
		path:   path,
	}

	if err := d.migrate(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return d, nil
}

func (d *Database) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

func (d *Database) Close() {
	d.read.Close()
	d.write.Close()
}

type migration struct {
	version int
	name    string
}

func migrations() ([]migration, error) {
	entries, err := migrationsDir.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var res []migration
	for _, e := range entries {
		m := migrationName.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("parse version from migration file: %s", e.Name())
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("convert migration version from file %s: %w", e.Name(), err)
		}
		res = append(res, migration{version: v, name: e.Name()})
	}

	slices.SortFunc(res, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return res, nil
}

func (d *Database) migrate(ctx context.Context) error {
	var current int
	if err := d.write.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	all, err := migrations()
	if err != nil {
		return err
	}
	pending := slices.DeleteFunc(all, func(m migration) bool { return m.version <= current })
	if len(pending) == 0 {
		return nil
	}

	// A fresh database has nothing worth keeping
	if current > 0 {
		if err := d.Backup(ctx); err != nil {
			return fmt.Errorf("backup database before migration: %w", err)
		}
	}

	for _, m := range pending {
		if err := d.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) apply(ctx context.Context, m migration) error {
	d.logger.Debug("applying migration", slog.Int("version", m.version), slog.String("file", m.name))

	data, err := migrationsDir.ReadFile(path.Join("migrations", m.name))
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", m.name, err)
	}

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction for migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("apply migration %d: %w", m.version, err)
	}
	// PRAGMA does not take bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("update database version for migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}

// purgeOlderThan deletes rows of table whose created_at is more than retentionDays old.
// Zero or less keeps everything.
func (d *Database) purgeOlderThan(ctx context.Context, table string, retentionDays int) error {
	if retentionDays < 1 {
		return nil
	}
	before := time.Now().AddDate(0, 0, -retentionDays).UTC().Format(time.RFC3339)
	res, err := d.write.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, table), before)
	if err != nil {
		return fmt.Errorf("purging %s: %w", table, err)
	}
	d.logPurged(res, table)
	return nil
}

func (d *Database) logPurged(res sql.Result, table string) {
	n, err := res.RowsAffected()
	if err != nil {
		d.logger.Warn("can't get rows affected by purge", slog.String("table", table), slog.Any("error", err))
		return
	}
	d.logger.Debug("purged rows", slog.String("table", table), slog.Int64("rows", n))
}
