// Package index maintains a SQLite mirror of the content graph for
// fast lookup and search. The store remains the source of truth; the
// index is rebuilt on startup and kept current through store events.
package index

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/holt/lattice/internal/codec"
	"github.com/holt/lattice/internal/graph"
	"github.com/holt/lattice/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	path        TEXT PRIMARY KEY,
	id          TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	node_type   TEXT NOT NULL DEFAULT '',
	container   INTEGER NOT NULL DEFAULT 0,
	has_task    INTEGER NOT NULL DEFAULT 0,
	task_status TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_nodes_id ON nodes(id);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type);
`

// DB wraps a sql.DB with node-index operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Hit is one search result.
type Hit struct {
	Path       string `json:"path"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	NodeType   string `json:"nodeType"`
	TaskStatus string `json:"taskStatus,omitempty"`
}

// Upsert inserts or replaces one node row.
func (db *DB) Upsert(n *graph.Node) error {
	hasTask := 0
	taskStatus := ""
	if task := n.Meta.Task(); task != nil {
		hasTask = 1
		taskStatus = task.Status
	}
	container := 0
	if n.IsContainer {
		container = 1
	}
	_, err := db.conn.Exec(`
		INSERT INTO nodes (path, id, title, node_type, container, has_task, task_status, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id          = excluded.id,
			title       = excluded.title,
			node_type   = excluded.node_type,
			container   = excluded.container,
			has_task    = excluded.has_task,
			task_status = excluded.task_status,
			body        = excluded.body,
			updated_at  = excluded.updated_at
	`, n.Path, n.ID, n.Label(), n.Meta.GetString(codec.KeyType), container,
		hasTask, taskStatus, n.Body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: upsert node: %w", err)
	}
	return nil
}

// Delete removes the node at path and, for containers, its subtree.
func (db *DB) Delete(path string) error {
	_, err := db.conn.Exec(`DELETE FROM nodes WHERE path = ? OR path LIKE ? ESCAPE '\'`,
		path, likePrefix(path)+"/%")
	if err != nil {
		return fmt.Errorf("index: delete node: %w", err)
	}
	return nil
}

// Rename re-paths a node and any rows beneath it.
func (db *DB) Rename(oldPath, newPath string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`UPDATE nodes SET path = ? WHERE path = ?`, newPath, oldPath); err != nil {
		return fmt.Errorf("index: rename node: %w", err)
	}
	_, err = tx.Exec(`
		UPDATE nodes SET path = ? || substr(path, ?)
		WHERE path LIKE ? ESCAPE '\'
	`, newPath, len(oldPath)+1, likePrefix(oldPath)+"/%")
	if err != nil {
		return fmt.Errorf("index: rename subtree: %w", err)
	}
	return tx.Commit()
}

// Rebuild replaces the entire index with the given snapshot.
func (db *DB) Rebuild(snap store.Snapshot) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM nodes`); err != nil {
		return fmt.Errorf("index: clear nodes: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO nodes (path, id, title, node_type, container, has_task, task_status, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		hasTask := 0
		taskStatus := ""
		if task := n.Meta.Task(); task != nil {
			hasTask = 1
			taskStatus = task.Status
		}
		container := 0
		if n.IsContainer {
			container = 1
		}
		if _, err := stmt.Exec(n.Path, n.ID, n.Label(), n.Meta.GetString(codec.KeyType),
			container, hasTask, taskStatus, n.Body, now); err != nil {
			return fmt.Errorf("index: insert node %s: %w", n.Path, err)
		}
	}
	return tx.Commit()
}

// Apply folds one store event into the index. The node argument carries
// the post-event state and is nil for removals.
func (db *DB) Apply(ev store.Event, n *graph.Node) error {
	switch ev.Kind {
	case "removed":
		return db.Delete(ev.Path)
	case "moved":
		if err := db.Rename(ev.OldPath, ev.Path); err != nil {
			return err
		}
		if n != nil {
			return db.Upsert(n)
		}
		return nil
	default:
		if n == nil {
			return nil
		}
		return db.Upsert(n)
	}
}

// Query filters a search. Empty fields match everything.
type Query struct {
	Text     string
	NodeType string
	HasTask  *bool
	Limit    int
}

// Search matches nodes by title or body substring, with optional type
// and task filters. Results are ordered by path for determinism.
func (db *DB) Search(q Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	where := []string{"1=1"}
	args := []any{}
	if q.Text != "" {
		pat := "%" + likePrefix(q.Text) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat)
	}
	if q.NodeType != "" {
		where = append(where, "node_type = ?")
		args = append(args, q.NodeType)
	}
	if q.HasTask != nil {
		want := 0
		if *q.HasTask {
			want = 1
		}
		where = append(where, "has_task = ?")
		args = append(args, want)
	}
	args = append(args, limit)

	rows, err := db.conn.Query(`
		SELECT path, id, title, node_type, task_status
		FROM nodes
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY path
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Path, &h.ID, &h.Title, &h.NodeType, &h.TaskStatus); err != nil {
			return nil, fmt.Errorf("index: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of indexed nodes.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

// likePrefix escapes LIKE metacharacters in a literal fragment.
func likePrefix(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
