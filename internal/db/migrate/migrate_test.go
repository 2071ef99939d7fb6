package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/mwestra/ballotbox/internal/db/migrate"
	"github.com/mwestra/ballotbox/internal/db/testdb"
)

func Test_RunFS(t *testing.T) {
	t.Run("ok, empty dir", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		meta := migrate.Metadata{
			"v1.0.0", timeRFC3339(t, "2024-03-20T14:56:00Z"),
		}

		got, err := migrate.RunFS(context.Background(), db, fstest.MapFS{}, meta)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertMigrations(t, got, []migrate.Migration{})
		assertTable(t, db, []migrate.Migration{})
	})

	t.Run("ok, subdir is skipped", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		meta := migrate.Metadata{
			"v1.0.0", timeRFC3339(t, "2024-03-20T14:56:00Z"),
		}

		fsys := fstest.MapFS{
			"1_subdir/1_ignored.sql":  sqlFile("CREATE TABLE ignored (id INTEGER PRIMARY KEY)"),
			"2_create_test_table.sql": sqlFile("CREATE TABLE test_table (id INTEGER PRIMARY KEY)"),
		}

		got, err := migrate.RunFS(context.Background(), db, fsys, meta)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []migrate.Migration{
			{
				Sequence: 0,
				Filename: "2_create_test_table.sql",
				Metadata: meta,
			},
		}
		assertMigrations(t, got, want)
		assertTable(t, db, want)
		assertNrOfRowsInTestTable(t, db, 0)
	})

	t.Run("ok, progression of migrations", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		metas := []migrate.Metadata{
			{"v1.0.0", timeRFC3339(t, "2024-03-20T14:56:00Z")},
			{"v2.0.0", timeRFC3339(t, "2024-04-20T14:56:00Z")},
			{"v3.0.0", timeRFC3339(t, "2024-05-20T14:56:00Z")},
		}

		files := []struct {
			name string
			sql  string
		}{
			{"1_create_test_table.sql", "CREATE TABLE test_table (id INTEGER PRIMARY KEY)"},
			{"2_add_row_to_test_table.sql", "INSERT INTO test_table (id) VALUES (1)"},
			{"3_add_another_row.sql", "INSERT INTO test_table (id) VALUES (2)"},
			{"4_and_one_more.sql", "INSERT INTO test_table (id) VALUES (3)"},
		}

		migrations := []migrate.Migration{
			{Sequence: 0, Filename: files[0].name, Metadata: metas[0]},
			{Sequence: 1, Filename: files[1].name, Metadata: metas[1]},
			{Sequence: 2, Filename: files[2].name, Metadata: metas[2]},
			{Sequence: 3, Filename: files[3].name, Metadata: metas[2]},
		}

		// fsAt returns the filesystem as it looks when the first n files exist.
		fsAt := func(n int) fstest.MapFS {
			fsys := fstest.MapFS{}
			for _, f := range files[:n] {
				fsys[f.name] = sqlFile(f.sql)
			}
			return fsys
		}

		t.Run("run_1", func(t *testing.T) {
			got, err := migrate.RunFS(context.Background(), db, fsAt(1), metas[0])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertMigrations(t, got, migrations[:1])
			assertTable(t, db, migrations[:1])
			assertNrOfRowsInTestTable(t, db, 0)
		})

		t.Run("run_2", func(t *testing.T) {
			got, err := migrate.RunFS(context.Background(), db, fsAt(2), metas[1])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertMigrations(t, got, migrations[1:2])
			assertTable(t, db, migrations[:2])
			assertNrOfRowsInTestTable(t, db, 1)
		})

		t.Run("run_3", func(t *testing.T) {
			got, err := migrate.RunFS(context.Background(), db, fsAt(4), metas[2])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertMigrations(t, got, migrations[2:4])
			assertTable(t, db, migrations[:4])
			assertNrOfRowsInTestTable(t, db, 3)
		})
	})

	t.Run("fail, error in migration", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		metas := []migrate.Metadata{
			{"v1.0.0", timeRFC3339(t, "2024-03-20T14:56:00Z")},
			{"v2.0.0", timeRFC3339(t, "2024-04-20T14:56:00Z")},
		}

		run1 := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (id INTEGER PRIMARY KEY)"),
		}

		run2 := fstest.MapFS{
			"1_create_test_table.sql": run1["1_create_test_table.sql"],
			"2_insert_with_typo.sql":  sqlFile("INSRT INTO test_table (id) VALUES (1)"),
		}

		t.Run("run_1", func(t *testing.T) {
			_, err := migrate.RunFS(context.Background(), db, run1, metas[0])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			assertNrOfRowsInTestTable(t, db, 0)
		})

		t.Run("run_2", func(t *testing.T) {
			_, err := migrate.RunFS(context.Background(), db, run2, metas[1])

			var mErr migrate.MigrationError
			if !errors.As(err, &mErr) {
				t.Fatalf("got %T, want %T", err, mErr)
			}

			want := migrate.MigrationError{
				Sequence: 1,
				Filename: "2_insert_with_typo.sql",
			}

			if mErr.Sequence != want.Sequence || mErr.Filename != want.Filename {
				t.Errorf("got %v, want %v", mErr, want)
			}
		})
	})

	t.Run("fail, migration file that was executed was removed from disk", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		metas := []migrate.Metadata{
			{"v1.0.0", timeRFC3339(t, "2024-03-20T14:56:00Z")},
			{"v2.0.0", timeRFC3339(t, "2024-04-20T14:56:00Z")},
		}

		run1 := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (id INTEGER PRIMARY KEY)"),
			"2_add_rows.sql":          sqlFile("INSERT INTO test_table (id) VALUES (1), (2), (3)"),
		}

		run2 := fstest.MapFS{
			"1_create_test_table.sql": run1["1_create_test_table.sql"],
		}

		t.Run("run_1", func(t *testing.T) {
			_, err := migrate.RunFS(context.Background(), db, run1, metas[0])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Just check if the migrations ran.
			assertNrOfRowsInTestTable(t, db, 3)
		})

		t.Run("run_2", func(t *testing.T) {
			_, err := migrate.RunFS(context.Background(), db, run2, metas[1])
			if !errors.Is(err, migrate.ErrMigrationsMismatch) {
				t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrMigrationsMismatch)
			}

			assertNrOfRowsInTestTable(t, db, 3)
		})
	})

	t.Run("fail, migration file that was executed was renamed", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		metas := []migrate.Metadata{
			{"v1.0.0", timeRFC3339(t, "2024-03-20T14:56:00Z")},
			{"v2.0.0", timeRFC3339(t, "2024-04-20T14:56:00Z")},
		}

		run1 := fstest.MapFS{
			"1_create_test_table.sql": sqlFile("CREATE TABLE test_table (id INTEGER PRIMARY KEY)"),
			"2_add_rows.sql":          sqlFile("INSERT INTO test_table (id) VALUES (1), (2), (3)"),
		}

		run2 := fstest.MapFS{
			"1_create_test_table.sql": run1["1_create_test_table.sql"],
			"2_add_some_rows.sql":     run1["2_add_rows.sql"],
		}

		t.Run("run_1", func(t *testing.T) {
			_, err := migrate.RunFS(context.Background(), db, run1, metas[0])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Just check if the migrations ran.
			assertNrOfRowsInTestTable(t, db, 3)
		})

		t.Run("run_2", func(t *testing.T) {
			_, err := migrate.RunFS(context.Background(), db, run2, metas[1])
			if !errors.Is(err, migrate.ErrMigrationsMismatch) {
				t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrMigrationsMismatch)
			}

			assertNrOfRowsInTestTable(t, db, 3)
		})
	})
}

func Test_QueryMigrations(t *testing.T) {
	t.Run("fail, no table", func(t *testing.T) {
		db := testdb.RunUnmigratedWhile(t, true)

		_, err := migrate.QueryMigrations(context.Background(), db)
		if !errors.Is(err, migrate.ErrNoTable) {
			t.Fatalf("got %v, want %v (via errors.Is)", err, migrate.ErrNoTable)
		}
	})
}

func sqlFile(sql string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(sql)}
}

func timeRFC3339(t *testing.T, s string) time.Time {
	t.Helper()

	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("failed to parse time: %v", err)
	}

	return ts
}

func assertTable(t *testing.T, db *sql.DB, want []migrate.Migration) {
	t.Helper()

	got, err := migrate.QueryMigrations(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}

	assertMigrations(t, got, want)
}

func assertMigrations(t *testing.T, got, want []migrate.Migration) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("got\n%+v\nwant\n%+v\n", got, want)
	}

	if len(want) == 1 && got == nil {
		t.Errorf("got\n%+v\nwant\n%+v\n", got, want)
	}

	for i := range got {
		if !got[i].Equal(want[i]) {
			t.Errorf("got\n%+v\nwant\n%+v\n", got, want)
		}
	}
}

// assertNrOfRowsInTestTable checks the number of rows in the test_table.
// The test fixtures create this table and some migrations add rows to it,
// enabling us to check if migrations were actually executed.
func assertNrOfRowsInTestTable(t *testing.T, db *sql.DB, want int) {
	t.Helper()

	var got int
	err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM test_table").Scan(&got)
	if err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}

	if got != want {
		t.Errorf("got %d rows, want %d", got, want)
	}
}
