package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("frame not found")

// Record is one indexed keyframe.
type Record struct {
	ID         string
	VideoPath  string
	FrameID    string
	FramePath  string
	Timestamp  float64
	Reason     string
	Text       string
	Quality    float64
	SceneScore float64
	TextVec    []float32
	ImageVec   []float32
}

// Stats summarizes the index.
type Stats struct {
	TotalFrames int `json:"total_frames"`
	Videos      int `json:"videos"`
	WithImages  int `json:"with_images"`
}

// Store is a SQLite-backed frame index.
type Store struct {
	conn   *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	s := &Store{conn: conn, logger: logger.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if s.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		s.logger.Debug().Str("name", name).Msg("applied migration")
	}
	return nil
}

func (s *Store) isMigrationApplied(name string) bool {
	var exists int
	err := s.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = s.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// ReplaceVideo overwrites every record of videoPath with records in one
// transaction. Records without an ID get a fresh one.
func (s *Store) ReplaceVideo(ctx context.Context, videoPath string, records []Record) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM frames WHERE video_path = ?", videoPath); err != nil {
		return fmt.Errorf("failed to clear %s: %w", videoPath, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (id, video_path, frame_id, frame_path, timestamp, reason, text, quality, scene_score, text_vec, image_vec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.VideoPath = videoPath
		_, err := stmt.ExecContext(ctx,
			r.ID, r.VideoPath, r.FrameID, r.FramePath, r.Timestamp, r.Reason, r.Text,
			r.Quality, r.SceneScore, encodeVector(r.TextVec), encodeVector(r.ImageVec))
		if err != nil {
			return fmt.Errorf("failed to insert frame %s: %w", r.FrameID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info().Str("video", videoPath).Int("frames", len(records)).Msg("indexed video")
	return nil
}

// DeleteVideo removes a video's records and reports how many were dropped.
func (s *Store) DeleteVideo(ctx context.Context, videoPath string) (int, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM frames WHERE video_path = ?", videoPath)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", videoPath, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const selectColumns = `SELECT id, video_path, frame_id, frame_path, timestamp, reason, text, quality, scene_score, text_vec, image_vec FROM frames`

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Frames lists the records of one video in time order, or of every video
// when videoPath is empty.
func (s *Store) Frames(ctx context.Context, videoPath string) ([]Record, error) {
	query := selectColumns + " ORDER BY video_path, timestamp"
	var args []any
	if videoPath != "" {
		query = selectColumns + " WHERE video_path = ? ORDER BY timestamp"
		args = append(args, videoPath)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Videos returns the indexed video paths.
func (s *Store) Videos(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT DISTINCT video_path FROM frames")
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT video_path), COUNT(image_vec)
		FROM frames`).Scan(&st.TotalFrames, &st.Videos, &st.WithImages)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var textVec, imageVec []byte
	err := row.Scan(&r.ID, &r.VideoPath, &r.FrameID, &r.FramePath, &r.Timestamp, &r.Reason,
		&r.Text, &r.Quality, &r.SceneScore, &textVec, &imageVec)
	if err != nil {
		return nil, err
	}
	if r.TextVec, err = decodeVector(textVec); err != nil {
		return nil, fmt.Errorf("frame %s text vector: %w", r.ID, err)
	}
	if r.ImageVec, err = decodeVector(imageVec); err != nil {
		return nil, fmt.Errorf("frame %s image vector: %w", r.ID, err)
	}
	return &r, nil
}
