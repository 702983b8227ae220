package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"provisionr/internal/types"
)

// Catalogue is the durable table of completed renders, keyed by
// (template_name, id_field_value). It is backed by a single SQLite
// connection owned by the dispatcher; no other component touches it.
type Catalogue struct {
	db   *sql.DB
	path string
}

// OpenCatalogue opens (or creates) the SQLite database at path.
// The catalogue sees one writer, so the pool is kept to a single
// connection; WAL still lets external readers in.
func OpenCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return nil, fmt.Errorf("catalogue path is required")
	}

	dsn := path
	if !strings.Contains(dsn, "?") && dsn != ":memory:" {
		dsn += "?_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Catalogue{db: db, path: path}
	if err := c.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalogue: %w", err)
	}

	return c, nil
}

func (c *Catalogue) applyPragmas() error {
	// busy_timeout first: it governs how the remaining pragmas behave
	// if another process holds the database.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := c.db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}

// Init creates the rendered_templates table and its template_name
// index. Idempotent.
func (c *Catalogue) Init() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS rendered_templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_name TEXT NOT NULL,
			id_field_value TEXT NOT NULL,
			rendered_content TEXT NOT NULL,
			generated_values TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(template_name, id_field_value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_template_name ON rendered_templates(template_name)`,
	}
	for _, stmt := range ddl {
		if _, err := c.db.Exec(stmt); err != nil {
			return types.DatabaseError("init", err)
		}
	}
	return nil
}

// nowUTC returns the created_at timestamp in ISO-8601 UTC. The fixed
// nanosecond width keeps lexical order equal to chronological order,
// which List's ORDER BY relies on.
func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// Store upserts a render. On conflict the row is replaced and
// created_at refreshed; the dispatcher's prior read means this path is
// only reached for genuinely new renders in normal flow.
func (c *Catalogue) Store(templateName, idValue, rendered, generatedYAML string) (int64, error) {
	res, err := c.db.Exec(
		`INSERT OR REPLACE INTO rendered_templates
		 (template_name, id_field_value, rendered_content, generated_values, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		templateName, idValue, rendered, generatedYAML, nowUTC(),
	)
	if err != nil {
		return 0, types.DatabaseError("store rendered", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, types.DatabaseError("store rendered", err)
	}
	return id, nil
}

// Get returns the artifact for (templateName, idValue), or ok=false.
func (c *Catalogue) Get(templateName, idValue string) (types.RenderedArtifact, bool, error) {
	var a types.RenderedArtifact
	err := c.db.QueryRow(
		`SELECT id, template_name, id_field_value, rendered_content, generated_values, created_at
		 FROM rendered_templates
		 WHERE template_name = ? AND id_field_value = ?`,
		templateName, idValue,
	).Scan(&a.ID, &a.TemplateName, &a.IDFieldValue, &a.RenderedContent, &a.GeneratedValues, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RenderedArtifact{}, false, nil
	}
	if err != nil {
		return types.RenderedArtifact{}, false, types.DatabaseError("get rendered", err)
	}
	return a, true, nil
}

// List returns summaries for a template, newest first.
func (c *Catalogue) List(templateName string) ([]types.RenderedSummary, error) {
	rows, err := c.db.Query(
		`SELECT id_field_value, created_at
		 FROM rendered_templates
		 WHERE template_name = ?
		 ORDER BY created_at DESC`,
		templateName,
	)
	if err != nil {
		return nil, types.DatabaseError("list rendered", err)
	}
	defer rows.Close()

	out := make([]types.RenderedSummary, 0)
	for rows.Next() {
		var s types.RenderedSummary
		if err := rows.Scan(&s.IDFieldValue, &s.CreatedAt); err != nil {
			return nil, types.DatabaseError("list rendered", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.DatabaseError("list rendered", err)
	}
	return out, nil
}

// Counts returns the number of artifacts per template name, used by
// the maintenance job for stats logging.
func (c *Catalogue) Counts() (map[string]int64, error) {
	rows, err := c.db.Query(
		`SELECT template_name, COUNT(*) FROM rendered_templates GROUP BY template_name`,
	)
	if err != nil {
		return nil, types.DatabaseError("counts", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, types.DatabaseError("counts", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

// Checkpoint truncates the WAL. Run from the maintenance scheduler.
func (c *Catalogue) Checkpoint() error {
	if _, err := c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return types.DatabaseError("wal checkpoint", err)
	}
	return nil
}

// Ping checks connectivity, used by the health endpoint.
func (c *Catalogue) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Catalogue) Close() error {
	return c.db.Close()
}
