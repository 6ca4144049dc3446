package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the durable mirror of engine state. Lookups of missing records
// return (nil, nil).
type Store interface {
	AddProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	PutProject(ctx context.Context, p *Project) error
	ListRecentProjects(ctx context.Context, limit int) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error

	AddClip(ctx context.Context, c *VideoClip) error
	GetClip(ctx context.Context, id string) (*VideoClip, error)
	PutClip(ctx context.Context, c *VideoClip) error
	UpdateClipUsed(ctx context.Context, id string, used bool) error
	DeleteClip(ctx context.Context, id string) error
	DeleteClipsByShot(ctx context.Context, shotID string) error
	ListClipsByShot(ctx context.Context, shotID string) ([]*VideoClip, error)
	ListUsedClips(ctx context.Context) ([]*VideoClip, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (r *SQLiteStore) AddProject(ctx context.Context, p *Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Title, string(data), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func (r *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT data FROM projects WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeProject(data)
}

func (r *SQLiteStore) PutProject(ctx context.Context, p *Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, p.ID, p.Title, string(data), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	return err
}

func (r *SQLiteStore) ListRecentProjects(ctx context.Context, limit int) ([]*Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM projects ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		p, err := decodeProject(data)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

func decodeProject(data string) (*Project, error) {
	var p Project
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	if p.Shots == nil {
		p.Shots = []Shot{}
	}
	if p.TimelineOrder == nil {
		p.TimelineOrder = []string{}
	}
	return &p, nil
}

const clipColumns = "id, shot_id, file_name, content_type, data, duration, is_used, thumbnail_url, created_at"

func (r *SQLiteStore) AddClip(ctx context.Context, c *VideoClip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ShotID, c.FileName, nullString(c.ContentType), c.Data, c.Duration,
		boolToInt(c.IsUsed), nullString(c.ThumbnailURL), formatTime(c.CreatedAt))
	return err
}

func (r *SQLiteStore) GetClip(ctx context.Context, id string) (*VideoClip, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+clipColumns+" FROM clips WHERE id = ?", id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteStore) PutClip(ctx context.Context, c *VideoClip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shot_id = excluded.shot_id,
			file_name = excluded.file_name,
			content_type = excluded.content_type,
			data = excluded.data,
			duration = excluded.duration,
			is_used = excluded.is_used,
			thumbnail_url = excluded.thumbnail_url
	`, c.ID, c.ShotID, c.FileName, nullString(c.ContentType), c.Data, c.Duration,
		boolToInt(c.IsUsed), nullString(c.ThumbnailURL), formatTime(c.CreatedAt))
	return err
}

func (r *SQLiteStore) UpdateClipUsed(ctx context.Context, id string, used bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE clips SET is_used = ? WHERE id = ?", boolToInt(used), id)
	return err
}

func (r *SQLiteStore) DeleteClip(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE id = ?", id)
	return err
}

func (r *SQLiteStore) DeleteClipsByShot(ctx context.Context, shotID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE shot_id = ?", shotID)
	return err
}

func (r *SQLiteStore) ListClipsByShot(ctx context.Context, shotID string) ([]*VideoClip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE shot_id = ? ORDER BY created_at ASC, rowid ASC
	`, shotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

func (r *SQLiteStore) ListUsedClips(ctx context.Context) ([]*VideoClip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE is_used = 1 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(row rowScanner) (*VideoClip, error) {
	var c VideoClip
	var contentType, thumbnailURL sql.NullString
	var used int
	var createdAt string

	err := row.Scan(&c.ID, &c.ShotID, &c.FileName, &contentType, &c.Data, &c.Duration, &used, &thumbnailURL, &createdAt)
	if err != nil {
		return nil, err
	}
	c.ContentType = contentType.String
	c.ThumbnailURL = thumbnailURL.String
	c.IsUsed = used == 1
	c.ContentURL = ContentURL(c.ID)
	c.Size = int64(len(c.Data))
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

func scanClips(rows *sql.Rows) ([]*VideoClip, error) {
	var clips []*VideoClip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
