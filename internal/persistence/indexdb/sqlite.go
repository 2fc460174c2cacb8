package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"voxelprism.ai/internal/activity"
	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/world"
)

// SQLiteIndex stores activities in one table keyed by activity id, with
// indexes for lookups by actor and by position.
type SQLiteIndex struct {
	db *sql.DB

	once sync.Once
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only activity workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			world TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			actor_id TEXT,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			subject TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_actor_ts ON activities(actor, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_pos_ts ON activities(world, x, z, y, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_action_ts ON activities(action, ts);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

// Persist writes the batch in one transaction. Rows already present are
// skipped, so a retried batch never duplicates.
func (s *SQLiteIndex) Persist(ctx context.Context, batch []activity.Activity) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO activities(id,ts,world,action,actor,actor_id,x,y,z,subject,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, a := range batch {
		raw, err := json.Marshal(a)
		if err != nil {
			return err
		}
		var actorID any
		if a.Cause.Actor != nil {
			actorID = a.Cause.Actor.ID.String()
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID.String(),
			a.Timestamp.UnixMilli(),
			a.World,
			a.Action.Type,
			a.Cause.String(),
			actorID,
			a.Location.X, a.Location.Y, a.Location.Z,
			subject(a),
			string(raw),
		); err != nil {
			return fmt.Errorf("sqlite insert %s: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// subject is the material or entity kind the activity touched. A placement
// is indexed by what was placed, not what it replaced.
func subject(a activity.Activity) string {
	switch {
	case a.Action.Entity != nil:
		return a.Action.Entity.Kind
	case a.Action.After != nil && !a.Action.After.IsAir():
		return a.Action.After.Material
	case a.Action.Before != nil && !a.Action.Before.IsAir():
		return a.Action.Before.Material
	case a.Action.After != nil:
		return a.Action.After.Material
	}
	return ""
}

// Filter narrows a lookup. Zero fields match everything.
type Filter struct {
	World   string
	Actor   string
	Action  string
	Subject string
	Near    *world.Coordinate
	Radius  int
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Query returns matching activities, newest first.
func (s *SQLiteIndex) Query(ctx context.Context, f Filter) ([]activity.Activity, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, vs ...any) {
		where = append(where, clause)
		args = append(args, vs...)
	}
	if f.World != "" {
		add("world = ?", f.World)
	}
	if f.Actor != "" {
		add("(actor = ? OR actor_id = ?)", f.Actor, f.Actor)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Subject != "" {
		add("subject = ?", f.Subject)
	}
	if f.Near != nil {
		r := max(f.Radius, 0)
		c := *f.Near
		add("x BETWEEN ? AND ?", c.X-r, c.X+r)
		add("z BETWEEN ? AND ?", c.Z-r, c.Z+r)
		add("y BETWEEN ? AND ?", c.Y-r, c.Y+r)
	}
	if !f.Since.IsZero() {
		add("ts >= ?", f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		add("ts < ?", f.Until.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := "SELECT raw_json FROM activities"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var out []activity.Activity
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a activity.Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Count returns the number of stored activities.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&n)
	return n, err
}

// UpsertCatalogs records which block and entity definitions the server ran
// with, so stored materials can be interpreted later.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs) error {
	if cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type row struct {
		name   string
		digest string
		data   []byte
	}
	var rows []row
	if b, err := json.Marshal(cats.Blocks.Defs); err == nil {
		rows = append(rows, row{name: "blocks", digest: cats.Blocks.Digest, data: b})
	}
	if b, err := json.Marshal(cats.Entities.Defs); err == nil {
		rows = append(rows, row{name: "entities", digest: cats.Entities.Digest, data: b})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.data) == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogDigest returns the stored digest for name, or "" if none.
func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name = ?`, name).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}
