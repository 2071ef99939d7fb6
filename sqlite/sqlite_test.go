// Package sqlite compares the performance of the CGO and pure Go
// sqlite drivers on a workload shaped like the vote ledger: many small
// inserts with a unique voter constraint and point lookups.
package sqlite

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const rows = 500

type ledgerRow struct {
	id          int
	voterID     string
	candidateID string
	castAt      string
}

var candidates []string

var data = []ledgerRow{}

func init() {
	candidates = make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		candidates = append(candidates, randString(36))
	}

	data = make([]ledgerRow, 0, rows)
	for i := 0; i < rows; i++ {
		data = append(data, ledgerRow{
			voterID:     randString(36),
			candidateID: candidates[rand.Intn(len(candidates))],
			castAt:      fmt.Sprintf("2021-01-01T%02d:%02d:%02dZ", i%24, i%60, (i*7)%60),
		})
	}
}

func Test_ModernC(t *testing.T) {
	runTests(t, "sqlite", "./modernc.db")
}

func Test_CGO(t *testing.T) {
	runTests(t, "sqlite3", "./cgo.db")
}

func runTests(t *testing.T, driver, file string) {
	db := setupDB(t, driver, file)

	start := time.Now()

	for i := 0; i < rows; i++ {
		r := data[i]
		_, err := db.Exec("INSERT INTO votes (voter_id, candidate_id, cast_at) VALUES (?, ?, ?)", r.voterID, r.candidateID, r.castAt)
		if err != nil {
			t.Fatalf("failed to insert vote: %v", err)
		}
	}

	t.Logf("%s writes: %v", driver, time.Since(start))

	start = time.Now()

	for i := 0; i < rows; i++ {
		var where string
		var param any
		switch i % 3 {
		case 0:
			where = "id = ?"
			param = i + 1
		case 1:
			where = "voter_id = ?"
			param = data[i].voterID
		case 2:
			where = "candidate_id = ?"
			param = data[i].candidateID
		}

		stmt, err := db.Prepare("SELECT id, voter_id, candidate_id, cast_at FROM votes WHERE " + where)
		if err != nil {
			t.Fatalf("failed to prepare query: %v", err)
		}

		rows, err := stmt.Query(param)
		if err != nil {
			t.Fatalf("failed to query votes: %v", err)
		}

		for rows.Next() {
			r := ledgerRow{}
			err := rows.Scan(&r.id, &r.voterID, &r.candidateID, &r.castAt)
			if err != nil {
				t.Fatalf("failed to scan vote: %v", err)
			}
		}

		if err = rows.Err(); err != nil {
			t.Fatalf("failed to read votes: %v", err)
		}
	}

	t.Logf("%s reads: %v", driver, time.Since(start))
}

func setupDB(t *testing.T, driver, file string) *sql.DB {
	t.Helper()

	db, err := sql.Open(driver, file)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}

	t.Cleanup(func() {
		err := db.Close()
		if err != nil {
			t.Errorf("failed to close db: %v", err)
		}

		err = os.Remove(file)
		if err != nil {
			t.Errorf("failed to remove db: %v", err)
		}
	})

	createLedgerTable(t, db)

	return db
}

func createLedgerTable(t *testing.T, db *sql.DB) {
	t.Helper()

	const q = `CREATE TABLE votes (
	id           INTEGER PRIMARY KEY,
	voter_id     TEXT NOT NULL UNIQUE,
	candidate_id TEXT NOT NULL,
	cast_at      TEXT NOT NULL
)`

	_, err := db.Exec(q)
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
}

func randString(nr int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, nr)
	for i := 0; i < nr; i++ {
		out[i] = alphabet[rand.Intn(len(alphabet))]
	}

	return string(out)
}
