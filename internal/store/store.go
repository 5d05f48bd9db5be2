package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"eventra/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    user            TEXT NOT NULL,
    title           TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    start_datetime  INTEGER NOT NULL,
    end_datetime    INTEGER NOT NULL,
    original_text   TEXT NOT NULL DEFAULT '',
    remote_id       TEXT NOT NULL DEFAULT '',
    synced          INTEGER NOT NULL DEFAULT 0,
    color_id        TEXT NOT NULL DEFAULT '',
    guest_emails    TEXT NOT NULL DEFAULT '',
    latitude        REAL,
    longitude       REAL,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user_start ON events(user, start_datetime);
CREATE INDEX IF NOT EXISTS idx_events_remote ON events(remote_id);

CREATE TABLE IF NOT EXISTS credentials (
    user        TEXT PRIMARY KEY,
    bundle      TEXT NOT NULL,
    connected   INTEGER NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS parse_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    user            TEXT NOT NULL DEFAULT '',
    input_length    INTEGER NOT NULL,
    provider        TEXT NOT NULL,
    model           TEXT NOT NULL,
    success         INTEGER NOT NULL,
    elapsed_ms      REAL NOT NULL,
    error_kind      TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_parse_log_created ON parse_log(created_at);
`

// Store is the SQLite-backed event and credential store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const eventColumns = `id, user, title, description, location, start_datetime, end_datetime,
	original_text, remote_id, synced, color_id, guest_emails, latitude, longitude,
	created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.Event, error) {
	var (
		e          models.Event
		start, end int64
		synced     int
		lat, lng   sql.NullFloat64
		cAt, uAt   int64
	)
	err := row.Scan(&e.ID, &e.User, &e.Title, &e.Description, &e.Location, &start, &end,
		&e.OriginalText, &e.RemoteID, &synced, &e.ColorID, &e.GuestEmails, &lat, &lng,
		&cAt, &uAt)
	if err != nil {
		return nil, err
	}
	e.Start = time.Unix(start, 0).UTC()
	e.End = time.Unix(end, 0).UTC()
	e.Synced = synced != 0
	if lat.Valid {
		v := lat.Float64
		e.Latitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		e.Longitude = &v
	}
	e.CreatedAt = time.Unix(cAt, 0).UTC()
	e.UpdatedAt = time.Unix(uAt, 0).UTC()
	return &e, nil
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// CreateEvent inserts a new event record and fills in its surrogate ID.
func (s *Store) CreateEvent(e *models.Event) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	result, err := s.db.Exec(`
		INSERT INTO events (user, title, description, location, start_datetime, end_datetime,
			original_text, remote_id, synced, color_id, guest_emails, latitude, longitude,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.User, e.Title, e.Description, e.Location, e.Start.Unix(), e.End.Unix(),
		e.OriginalText, e.RemoteID, boolInt(e.Synced), e.ColorID, e.GuestEmails,
		nullFloat(e.Latitude), nullFloat(e.Longitude), now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	return nil
}

// UpdateEvent writes all mutable fields of the event in one statement.
func (s *Store) UpdateEvent(e *models.Event) error {
	e.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE events SET title = ?, description = ?, location = ?, start_datetime = ?,
			end_datetime = ?, remote_id = ?, synced = ?, color_id = ?, guest_emails = ?,
			latitude = ?, longitude = ?, updated_at = ?
		WHERE id = ? AND user = ?`,
		e.Title, e.Description, e.Location, e.Start.Unix(), e.End.Unix(),
		e.RemoteID, boolInt(e.Synced), e.ColorID, e.GuestEmails,
		nullFloat(e.Latitude), nullFloat(e.Longitude), e.UpdatedAt.Unix(),
		e.ID, e.User,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEvent removes an event owned by the given user.
func (s *Store) DeleteEvent(user string, id int64) error {
	result, err := s.db.Exec(`DELETE FROM events WHERE id = ? AND user = ?`, id, user)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent fetches one event owned by the given user.
func (s *Store) GetEvent(user string, id int64) (*models.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ? AND user = ?`, id, user)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *Store) queryEvents(query string, args ...any) ([]*models.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListUpcomingOwn returns the "created by me" view: events starting at or
// after now, excluding imported records, ordered by start time.
func (s *Store) ListUpcomingOwn(user string, now time.Time) ([]*models.Event, error) {
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM events
		WHERE user = ? AND start_datetime >= ? AND original_text NOT LIKE ?
		ORDER BY start_datetime`,
		user, now.Unix(), models.ImportMarker+"%")
}

// ListUpcomingSynced returns every upcoming record (imported ones included)
// that is synced and carries a remote identifier. Deletion detection runs
// over this set.
func (s *Store) ListUpcomingSynced(user string, now time.Time) ([]*models.Event, error) {
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM events
		WHERE user = ? AND start_datetime >= ? AND synced = 1 AND remote_id != ''
		ORDER BY start_datetime`,
		user, now.Unix())
}

// RemoteIDs returns the remote identifiers of every record for the user
// regardless of date window. The import pass keys on this set.
func (s *Store) RemoteIDs(user string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT remote_id FROM events WHERE user = ? AND remote_id != ''`, user)
	if err != nil {
		return nil, fmt.Errorf("query remote ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan remote id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// TimeFilter selects the date window for a search.
type TimeFilter string

const (
	FilterAll      TimeFilter = "all"
	FilterUpcoming TimeFilter = "upcoming"
	FilterPast     TimeFilter = "past"
)

// SearchEvents returns user-created events matching the query over title,
// description, and location, restricted by the time filter. Past results
// come most recent first, everything else chronological.
func (s *Store) SearchEvents(user, query string, filter TimeFilter, now time.Time) ([]*models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE user = ? AND original_text NOT LIKE ?`
	args := []any{user, models.ImportMarker + "%"}

	switch filter {
	case FilterUpcoming:
		q += ` AND start_datetime >= ?`
		args = append(args, now.Unix())
	case FilterPast:
		q += ` AND start_datetime < ?`
		args = append(args, now.Unix())
	}
	if query != "" {
		q += ` AND (title LIKE ? OR description LIKE ? OR location LIKE ?)`
		like := "%" + query + "%"
		args = append(args, like, like, like)
	}
	if filter == FilterPast {
		q += ` ORDER BY start_datetime DESC`
	} else {
		q += ` ORDER BY start_datetime`
	}
	return s.queryEvents(q, args...)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
