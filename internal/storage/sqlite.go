package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding industry profiles, data sources,
// conversation messages, and the document_chunks vector table (managed by
// the retrieval package over the same connection).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database in dataDir and applies pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "industrychat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to a single connection to avoid "database is locked" errors and
	// to serialize writes (one ingestion's bulk insert never interleaves
	// with another).
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
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

// DB exposes the underlying connection for the vector store, which shares
// this database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies embedded SQL migration files that have not yet run.
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

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
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

// --- Industry profiles ---

func (s *Store) SaveProfile(p IndustryProfile) error {
	_, err := s.db.Exec(`
		INSERT INTO industry_profiles (id, name, description, system_prompt, temperature, top_k, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.SystemPrompt, p.Temperature, p.TopK,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProfile(id string) (IndustryProfile, error) {
	var p IndustryProfile
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, description, system_prompt, temperature, top_k, created_at
		FROM industry_profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.SystemPrompt, &p.Temperature, &p.TopK, &createdAt)
	if err == sql.ErrNoRows {
		return IndustryProfile{}, ErrNotFound
	}
	if err != nil {
		return IndustryProfile{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return IndustryProfile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

func (s *Store) ListProfiles() ([]IndustryProfile, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, system_prompt, temperature, top_k, created_at
		FROM industry_profiles ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []IndustryProfile
	for rows.Next() {
		var p IndustryProfile
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.SystemPrompt, &p.Temperature, &p.TopK, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// UpdateProfile overwrites the mutable fields of an existing profile.
func (s *Store) UpdateProfile(p IndustryProfile) error {
	res, err := s.db.Exec(`
		UPDATE industry_profiles
		SET name = ?, description = ?, system_prompt = ?, temperature = ?, top_k = ?
		WHERE id = ?`,
		p.Name, p.Description, p.SystemPrompt, p.Temperature, p.TopK, p.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProfile removes a profile. Data sources, document chunks, and
// messages cascade via foreign keys.
func (s *Store) DeleteProfile(id string) error {
	res, err := s.db.Exec("DELETE FROM industry_profiles WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Data sources ---

func (s *Store) SaveDataSource(d DataSource) error {
	_, err := s.db.Exec(`
		INSERT INTO data_sources (id, industry_profile_id, name, type, mime, content, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.IndustryProfileID, d.Name, d.Type, d.MIME, d.Content, d.URL,
		d.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDataSource(id string) (DataSource, error) {
	var d DataSource
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, industry_profile_id, name, type, mime, content, url, created_at
		FROM data_sources WHERE id = ?`, id,
	).Scan(&d.ID, &d.IndustryProfileID, &d.Name, &d.Type, &d.MIME, &d.Content, &d.URL, &createdAt)
	if err == sql.ErrNoRows {
		return DataSource{}, ErrNotFound
	}
	if err != nil {
		return DataSource{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return DataSource{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return d, nil
}

func (s *Store) ListDataSources(profileID string) ([]DataSource, error) {
	rows, err := s.db.Query(`
		SELECT id, industry_profile_id, name, type, mime, content, url, created_at
		FROM data_sources WHERE industry_profile_id = ? ORDER BY created_at ASC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []DataSource
	for rows.Next() {
		var d DataSource
		var createdAt string
		if err := rows.Scan(&d.ID, &d.IndustryProfileID, &d.Name, &d.Type, &d.MIME, &d.Content, &d.URL, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sources = append(sources, d)
	}
	return sources, rows.Err()
}

// DeleteDataSource removes a data source; its chunks cascade.
func (s *Store) DeleteDataSource(id string) error {
	res, err := s.db.Exec("DELETE FROM data_sources WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

func (s *Store) SaveMessage(m Message) error {
	citations := m.CitationsJSON
	if citations == "" {
		citations = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, industry_profile_id, role, content, citations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.IndustryProfileID, m.Role, m.Content, citations,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListMessages returns the most recent limit messages for a profile in
// chronological order. limit <= 0 returns everything.
func (s *Store) ListMessages(profileID string, limit int) ([]Message, error) {
	query := `
		SELECT id, industry_profile_id, role, content, citations, created_at
		FROM messages WHERE industry_profile_id = ? ORDER BY created_at ASC, rowid ASC`
	args := []any{profileID}
	if limit > 0 {
		// Page from the end: newest limit rows, then reverse into
		// chronological order below.
		query = `
			SELECT id, industry_profile_id, role, content, citations, created_at FROM (
				SELECT id, industry_profile_id, role, content, citations, created_at, rowid AS rid
				FROM messages WHERE industry_profile_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
			) ORDER BY created_at ASC, rid ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.IndustryProfileID, &m.Role, &m.Content, &m.CitationsJSON, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
