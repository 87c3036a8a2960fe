package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Turn is one journaled conversation turn.
type Turn struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Persona    string    `json:"persona"`
	CreatedAt  time.Time `json:"created_at"`
	UserText   string    `json:"user_text"`
	ReplyText  string    `json:"reply_text"`
	ToolName   string    `json:"tool_name,omitempty"`
	Intent     string    `json:"intent"`
	Directive  string    `json:"directive,omitempty"`
	Degraded   bool      `json:"degraded"`
	Note       string    `json:"note,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Job is a journaled AutoML run request.
type Job struct {
	ID                 string    `json:"id"`
	TurnID             string    `json:"turn_id,omitempty"`
	Platform           string    `json:"platform"`
	DatasetID          string    `json:"dataset_id"`
	Task               string    `json:"task"`
	OptimizationMetric string    `json:"optimization_metric,omitempty"`
	Status             string    `json:"status"`
	QueuedAt           time.Time `json:"queued_at"`
}

// Store is the turn journal. It lives in an in-memory SQLite database and
// is gone when the process exits.
type Store struct {
	db *sql.DB
}

// Open creates the in-memory journal and applies the schema.
func Open() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the embedded SQL migrations that have not been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Turns ---

const turnColumns = `id, session_id, persona, created_at, user_text, reply_text, tool_name, intent, directive, degraded, note, duration_ms`

func (s *Store) SaveTurn(t Turn) error {
	_, err := s.db.Exec(`INSERT INTO turns (`+turnColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Persona, t.CreatedAt.UTC().Format(time.RFC3339), t.UserText, t.ReplyText,
		t.ToolName, t.Intent, t.Directive, t.Degraded, t.Note, t.DurationMs,
	)
	return err
}

func (s *Store) GetTurn(id string) (Turn, error) {
	t, err := scanTurn(s.db.QueryRow(`SELECT `+turnColumns+` FROM turns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, ErrNotFound
	}
	return t, err
}

// ListTurns returns turns newest first.
func (s *Store) ListTurns(limit, offset int) ([]Turn, error) {
	rows, err := s.db.Query(`SELECT `+turnColumns+` FROM turns ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTurns returns the total number of journaled turns.
func (s *Store) CountTurns() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&n)
	return n, err
}

// CountTurnsByIntent returns the number of turns per intent kind.
func (s *Store) CountTurnsByIntent() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT intent, COUNT(*) FROM turns GROUP BY intent`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var intent string
		var n int
		if err := rows.Scan(&intent, &n); err != nil {
			return nil, err
		}
		out[intent] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(r rowScanner) (Turn, error) {
	var t Turn
	var createdAt string
	if err := r.Scan(&t.ID, &t.SessionID, &t.Persona, &createdAt, &t.UserText, &t.ReplyText,
		&t.ToolName, &t.Intent, &t.Directive, &t.Degraded, &t.Note, &t.DurationMs); err != nil {
		return Turn{}, err
	}
	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Turn{}, fmt.Errorf("parsing created_at: %w", err)
	}
	t.CreatedAt = ts
	return t, nil
}

// --- AutoML jobs ---

func (s *Store) SaveJob(j Job) error {
	_, err := s.db.Exec(`
		INSERT INTO automl_jobs (id, turn_id, platform, dataset_id, task, optimization_metric, status, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TurnID, j.Platform, j.DatasetID, j.Task, j.OptimizationMetric, j.Status,
		j.QueuedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListJobs returns AutoML jobs, newest first.
func (s *Store) ListJobs(limit int) ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT id, turn_id, platform, dataset_id, task, optimization_metric, status, queued_at
		FROM automl_jobs ORDER BY queued_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var queuedAt string
		if err := rows.Scan(&j.ID, &j.TurnID, &j.Platform, &j.DatasetID, &j.Task, &j.OptimizationMetric, &j.Status, &queuedAt); err != nil {
			return nil, err
		}
		if j.QueuedAt, err = time.Parse(time.RFC3339, queuedAt); err != nil {
			return nil, fmt.Errorf("parsing queued_at for job %s: %w", j.ID, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
