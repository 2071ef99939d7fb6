// Package migrate applies SQL schema migrations from a file system.
//
// Migrations are plain .sql files in the root of the FS, applied in
// filename order and recorded in a migrations table. Files that ran
// before may never change: removing or renaming one fails the run.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

var (
	// ErrNoTable indicates the migrations table does not exist yet.
	ErrNoTable = errors.New("migrations table does not exist")
	// ErrMigrationsMismatch indicates the migration files on disk no longer
	// line up with the migrations recorded in the database.
	ErrMigrationsMismatch = errors.New("migrations mismatch")
)

// Migration records a single migration file that was applied.
type Migration struct {
	// Sequence numbers the applied migrations, starting at 0.
	Sequence int
	Filename string
	Metadata Metadata
}

// Equal reports whether two migration records describe the same run.
func (m Migration) Equal(other Migration) bool {
	return m.Sequence == other.Sequence &&
		m.Filename == other.Filename &&
		m.Metadata.AppVersion == other.Metadata.AppVersion &&
		m.Metadata.Timestamp.Equal(other.Metadata.Timestamp)
}

// Metadata is stored alongside each applied migration. When a schema
// change turns out to be wrong, it tells us which build applied it and
// when.
type Metadata struct {
	AppVersion string
	Timestamp  time.Time
}

// MigrationError reports which migration file failed to apply.
type MigrationError struct {
	Sequence int
	Filename string
	Err      error
}

func (m MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", m.Sequence, m.Filename, m.Err)
}

const createTableQuery = `CREATE TABLE IF NOT EXISTS migrations (
	sequence    INTEGER PRIMARY KEY,
	filename    TEXT NOT NULL,
	app_version TEXT NOT NULL,
	timestamp   TIMESTAMP NOT NULL
)
`

// RunFS applies the pending migrations from the provided FS and returns
// the migrations it applied, an empty slice when the schema was already
// current. Only .sql files in the root of the FS count, everything runs
// in a single transaction.
func RunFS(ctx context.Context, db *sql.DB, fileSys fs.FS, meta Metadata) ([]Migration, error) {
	files, err := readMigrationFiles(fileSys)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin migration transaction: %w", err)
	}

	if _, err := tx.Exec(createTableQuery); err != nil {
		return nil, rollback(tx, fmt.Errorf("could not create migrations table: %w", err))
	}

	applied, err := scanMigrations(func(q string) (*sql.Rows, error) {
		return tx.Query(q)
	})
	if err != nil {
		return nil, rollback(tx, err)
	}

	ran, err := apply(tx, applied, files, meta)
	if err != nil {
		return nil, rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit migration transaction: %w", err)
	}

	return ran, nil
}

// QueryMigrations returns all migrations recorded in the database, in
// the order they were applied. ErrNoTable when no migration ever ran.
func QueryMigrations(ctx context.Context, db *sql.DB) ([]Migration, error) {
	return scanMigrations(func(q string) (*sql.Rows, error) {
		return db.QueryContext(ctx, q)
	})
}

func apply(tx *sql.Tx, applied []Migration, files []migrationFile, meta Metadata) ([]Migration, error) {
	if err := verifyApplied(applied, files); err != nil {
		return nil, err
	}

	ran := make([]Migration, 0)
	for i, f := range files[len(applied):] {
		m := Migration{
			Sequence: len(applied) + i,
			Filename: f.name,
			Metadata: meta,
		}

		if _, err := tx.Exec(f.content); err != nil {
			return nil, MigrationError{
				Sequence: m.Sequence,
				Filename: m.Filename,
				Err:      err,
			}
		}

		_, err := tx.Exec(
			`INSERT INTO migrations (sequence, filename, app_version, timestamp) VALUES (?, ?, ?, ?)`,
			m.Sequence, m.Filename, m.Metadata.AppVersion, m.Metadata.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("could not record migration %d: %w", m.Sequence, err)
		}

		ran = append(ran, m)
	}

	return ran, nil
}

// verifyApplied checks that every migration recorded in the database is
// still present, unchanged in name and position, among the files.
func verifyApplied(applied []Migration, files []migrationFile) error {
	if len(applied) > len(files) {
		return fmt.Errorf(
			"%d migrations were applied but only %d files remain: %w",
			len(applied), len(files), ErrMigrationsMismatch,
		)
	}

	for i, m := range applied {
		if m.Sequence != i {
			return fmt.Errorf(
				"applied migration at position %d has sequence %d: %w",
				i, m.Sequence, ErrMigrationsMismatch,
			)
		}

		if m.Filename != files[i].name {
			return fmt.Errorf(
				"migration %d was applied as %q but the file is now %q: %w",
				i, m.Filename, files[i].name, ErrMigrationsMismatch,
			)
		}
	}

	return nil
}

func scanMigrations(rowsFunc func(q string) (*sql.Rows, error)) ([]Migration, error) {
	const q = `SELECT sequence, filename, app_version, timestamp FROM migrations ORDER BY sequence`
	rows, err := rowsFunc(q)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, ErrNoTable
		}
		return nil, fmt.Errorf("could not query migrations: %w", err)
	}

	defer rows.Close()

	migrations := make([]Migration, 0)
	for rows.Next() {
		var m Migration
		err := rows.Scan(&m.Sequence, &m.Filename, &m.Metadata.AppVersion, &m.Metadata.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("could not scan migration row: %w", err)
		}

		migrations = append(migrations, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate migration rows: %w", err)
	}

	return migrations, nil
}

type migrationFile struct {
	name    string
	content string
}

// readMigrationFiles loads the .sql files in the root of the FS.
// fs.ReadDir returns entries sorted by filename, which is the order
// migrations apply in.
func readMigrationFiles(fileSys fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fileSys, ".")
	if err != nil {
		return nil, fmt.Errorf("could not read migrations directory: %w", err)
	}

	files := make([]migrationFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(fileSys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("could not read migration %q: %w", entry.Name(), err)
		}

		files = append(files, migrationFile{
			name:    entry.Name(),
			content: string(content),
		})
	}

	return files, nil
}

func rollback(tx *sql.Tx, err error) error {
	if rErr := tx.Rollback(); rErr != nil {
		return errors.Join(err, rErr)
	}

	return err
}
