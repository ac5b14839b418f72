package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir = "sql/migrations"
	// storefrontSchemaLock - ключ pg_advisory_lock, сериализует миграции
	// между репликами, стартующими одновременно.
	storefrontSchemaLock = int64(0x53544f52)
	statusQueryTimeout   = 5 * time.Second
)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// 0003_create_timeline_and_outbox.up.sql
var migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// migration - пара up/down скриптов одной версии схемы.
type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState - состояние схемы для `migrate status`.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
}

// UpToDate сообщает, что все встроенные миграции применены.
func (m MigrationState) UpToDate() bool {
	return len(m.Pending) == 0
}

// MigrateUp применяет не более steps ещё не применённых миграций, 0 - все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, all []migration) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		done := make(map[int64]bool, len(applied))
		for _, v := range applied {
			done[v] = true
		}

		count := 0
		for _, m := range all {
			if done[m.Version] {
				continue
			}
			if steps > 0 && count == steps {
				break
			}
			if err := runMigration(ctx, conn, m, true); err != nil {
				return err
			}
			count++
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций. Неположительное значение
// откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	steps = max(steps, 1)

	return s.withSchemaLock(ctx, func(conn *sql.Conn, all []migration) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		byVersion := make(map[int64]migration, len(all))
		for _, m := range all {
			byVersion[m.Version] = m
		}

		for i := len(applied) - 1; i >= 0 && len(applied)-i <= steps; i-- {
			m, ok := byVersion[applied[i]]
			if !ok {
				return fmt.Errorf("cannot roll back unknown schema version %d", applied[i])
			}
			if err := runMigration(ctx, conn, m, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus сравнивает встроенные миграции с schema_migrations.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, statusQueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied)}
	if len(applied) > 0 {
		state.Version = applied[len(applied)-1]
	}
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	state.Pending = pendingMigrationNames(all, done)
	return state, nil
}

func pendingMigrationNames(all []migration, applied map[int64]bool) []string {
	var pending []string
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m.label())
		}
	}
	return pending
}

// withSchemaLock держит advisory lock на выделенном соединении, пока
// выполняется fn.
func (s *Store) withSchemaLock(ctx context.Context, fn func(*sql.Conn, []migration) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	all, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, statusQueryTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, storefrontSchemaLock); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, storefrontSchemaLock)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(conn, all)
}

// runMigration выполняет скрипт и запись в schema_migrations одной транзакцией.
func runMigration(ctx context.Context, conn *sql.Conn, m migration, up bool) (err error) {
	direction, script := "down", m.DownSQL
	if up {
		direction, script = "up", m.UpSQL
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", direction, m.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("run %s %s: %w", direction, m.label(), err)
	}
	if up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s %s: %w", direction, m.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", direction, m.label(), err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// appliedVersions возвращает применённые версии по возрастанию.
func appliedVersions(ctx context.Context, q queryer) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// loadMigrationsFromFS собирает пары NNNN_name.{up,down}.sql, отсортированные
// по версии. У каждой версии должны быть оба файла с непустым телом.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addMigrationFile(fsys, entry.Name(), byVersion); err != nil {
			return nil, err
		}
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	all := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		all = append(all, *m)
	}
	slices.SortFunc(all, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return all, nil
}

func addMigrationFile(fsys fs.FS, name string, byVersion map[int64]*migration) error {
	parts := migrationFileName.FindStringSubmatch(name)
	if parts == nil {
		return fmt.Errorf("invalid migration file name: %s", name)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("migration version in %s: %w", name, err)
	}

	raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("migration file is empty: %s", name)
	}

	m, ok := byVersion[version]
	if !ok {
		m = &migration{Version: version, Name: parts[2]}
		byVersion[version] = m
	}
	if m.Name != parts[2] {
		return fmt.Errorf("version %d has two names: %s and %s", version, m.Name, parts[2])
	}

	target := &m.DownSQL
	if parts[3] == "up" {
		target = &m.UpSQL
	}
	if *target != "" {
		return fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
	}
	*target = body
	return nil
}
