// Package store persists sessions, transcripts, analyses, and mind-maps to
// PostgreSQL (spec.md §3 Data Model, §6 Persisted layout). Store is the sole
// owner of all persisted rows.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/hearthline/voicegateway/internal/settings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrSessionNotFound is returned when a lookup references an unknown
// session id (spec.md §7 SessionNotFound).
var ErrSessionNotFound = errors.New("session not found")

// Store wraps a PostgreSQL connection pool via database/sql + pgx/v5/stdlib,
// following the embedded-migration convention used throughout this gateway.
type Store struct {
	db *sql.DB
}

// Open connects to connStr and applies any pending migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session is a row of the sessions table.
type Session struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
	IsActive     bool
}

// EnsureSession upserts a session row: it creates an active session if id is
// unknown, and reactivates (is_active = TRUE) an existing one otherwise, so
// the same call satisfies both "create on first inbound audio" (spec.md §3
// Session) and "start_stream re-activates a session" (spec.md §4.8, §6).
func (s *Store) EnsureSession(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, created_at, last_activity, is_active)
		 VALUES ($1, $1, $2, $2, TRUE)
		 ON CONFLICT (id) DO UPDATE SET is_active = TRUE, last_activity = $2`,
		id, now,
	)
	return err
}

// TouchSession advances last_activity for id. Returns ErrSessionNotFound if
// no such session exists.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = $1 WHERE id = $2`, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// EndSession marks a session inactive.
func (s *Store) EndSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE id = $1`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// GetSession returns a single session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, last_activity, is_active FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.LastActivity, &sess.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

// ListSessions returns sessions newest-first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, last_activity, is_active FROM sessions
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err = rows.Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.LastActivity, &sess.IsActive); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Transcript is a row of the transcripts table.
type Transcript struct {
	ID          int64
	SessionID   string
	Text        string
	Language    string
	Model       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// CreateTranscript inserts a transcript row and returns its assigned id.
// Text and language are immutable once created (spec.md §3 Transcript).
func (s *Store) CreateTranscript(ctx context.Context, sessionID, text, language, model string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO transcripts (session_id, text, language, model, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		sessionID, text, language, model, time.Now().UTC(),
	).Scan(&id)
	return id, err
}

// MarkTranscriptProcessed sets processed_at once both pipelines have
// considered the transcript.
func (s *Store) MarkTranscriptProcessed(ctx context.Context, transcriptID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET processed_at = $1 WHERE id = $2`, time.Now().UTC(), transcriptID,
	)
	return err
}

// ListTranscripts returns a session's transcripts oldest-first.
func (s *Store) ListTranscripts(ctx context.Context, sessionID string, limit, offset int) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, language, model, created_at, processed_at FROM transcripts
		 WHERE session_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`, sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		var processedAt sql.NullTime
		if err = rows.Scan(&t.ID, &t.SessionID, &t.Text, &t.Language, &t.Model, &t.CreatedAt, &processedAt); err != nil {
			return nil, err
		}
		if processedAt.Valid {
			t.ProcessedAt = &processedAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TranscriptTexts returns a session's transcript texts, oldest first.
// Implements internal/pipeline.TranscriptReader directly.
func (s *Store) TranscriptTexts(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT text FROM transcripts WHERE session_id = $1 ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err = rows.Scan(&text); err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// Analysis is a row of the analyses table (spec.md §3 Analysis).
type Analysis struct {
	ID             int64
	SessionID      string
	Prompt         string
	Response       string
	Model          string
	ProcessingTime float64
	CreatedAt      time.Time
}

// CreateAnalysis appends an analysis row and returns its id. Implements
// internal/pipeline.AnalysisWriter directly.
func (s *Store) CreateAnalysis(ctx context.Context, sessionID, prompt, response, model string, processingTime float64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO analyses (session_id, prompt, response, model, processing_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		sessionID, prompt, response, model, processingTime, time.Now().UTC(),
	).Scan(&id)
	return id, err
}

// ListAnalyses returns a session's analyses oldest-first.
func (s *Store) ListAnalyses(ctx context.Context, sessionID string, limit, offset int) ([]Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, prompt, response, model, processing_time, created_at FROM analyses
		 WHERE session_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`, sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var a Analysis
		if err = rows.Scan(&a.ID, &a.SessionID, &a.Prompt, &a.Response, &a.Model, &a.ProcessingTime, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MindMap is a row of the mind_maps table. NodesJSON/EdgesJSON hold the
// already-validated JSON array text for "nodes"/"edges" (spec.md §3
// MindMap); structural validation happens in internal/pipeline before the
// row is ever built.
type MindMap struct {
	ID        int64
	SessionID string
	NodesJSON string
	EdgesJSON string
	Model     string
	CreatedAt time.Time
}

// CreateMindMap appends a mind-map row and returns its id. Implements
// internal/pipeline.MindMapWriter directly.
func (s *Store) CreateMindMap(ctx context.Context, sessionID, nodesJSON, edgesJSON, model string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO mind_maps (session_id, nodes_json, edges_json, model, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		sessionID, nodesJSON, edgesJSON, model, time.Now().UTC(),
	).Scan(&id)
	return id, err
}

// ListMindMaps returns a session's mind-maps oldest-first.
func (s *Store) ListMindMaps(ctx context.Context, sessionID string, limit, offset int) ([]MindMap, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, nodes_json, edges_json, model, created_at FROM mind_maps
		 WHERE session_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`, sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MindMap
	for rows.Next() {
		var m MindMap
		if err = rows.Scan(&m.ID, &m.SessionID, &m.NodesJSON, &m.EdgesJSON, &m.Model, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadSettingsProfile reads the singleton settings row and converts it to a
// settings.Effective snapshot. Implements settings.ProfileStore.
func (s *Store) LoadSettingsProfile(ctx context.Context) (settings.Effective, error) {
	var e settings.Effective
	err := s.db.QueryRowContext(ctx,
		`SELECT whisper_language, whisper_model, summary_model, mind_map_model,
		        summary_prompt, mind_map_prompt, frame_length_ms, frames_per_batch
		 FROM settings WHERE id = TRUE`,
	).Scan(&e.WhisperLanguage, &e.WhisperModel, &e.SummaryModel, &e.MindMapModel,
		&e.SummaryPrompt, &e.MindMapPrompt, &e.FrameLengthMs, &e.FramesPerBatch)
	return e, err
}

// SaveSettingsProfile persists a new base profile (distinct from the
// process-wide temporary override applied on top of it by
// settings.Resolver).
func (s *Store) SaveSettingsProfile(ctx context.Context, e settings.Effective) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET whisper_language = $1, whisper_model = $2, summary_model = $3,
		        mind_map_model = $4, summary_prompt = $5, mind_map_prompt = $6,
		        frame_length_ms = $7, frames_per_batch = $8
		 WHERE id = TRUE`,
		e.WhisperLanguage, e.WhisperModel, e.SummaryModel, e.MindMapModel,
		e.SummaryPrompt, e.MindMapPrompt, e.FrameLengthMs, e.FramesPerBatch,
	)
	return err
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
