package annot

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Kind names a tag list inside a debug-tags package.
type Kind string

const (
	KindComments  Kind = "comments"
	KindFunctions Kind = "functions"
)

// DB is a SQLite debug-tags package holding tag lists per program image.
type DB struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenDB opens or creates the package at path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("annot: opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("annot: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tags (
		image TEXT NOT NULL,
		kind TEXT NOT NULL,
		addr INTEGER NOT NULL,
		text TEXT NOT NULL,
		PRIMARY KEY (image, kind, addr)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("annot: creating table: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Save replaces the stored kind list for image with the contents of tags.
func (d *DB) Save(image string, kind Kind, tags *Tags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("annot: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tags WHERE image = ? AND kind = ?", image, string(kind)); err != nil {
		return fmt.Errorf("annot: clearing %s: %w", kind, err)
	}
	stmt, err := tx.Prepare("INSERT INTO tags (image, kind, addr, text) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("annot: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range tags.Entries() {
		if _, err := stmt.Exec(image, string(kind), int64(t.Addr), t.Text); err != nil {
			return fmt.Errorf("annot: saving %s at 0x%08X: %w", kind, t.Addr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("annot: commit: %w", err)
	}
	return nil
}

// Load merges the stored kind list for image into tags and returns the
// number of tags read. Existing tags at the same address are replaced.
func (d *DB) Load(image string, kind Kind, tags *Tags) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query("SELECT addr, text FROM tags WHERE image = ? AND kind = ? ORDER BY addr", image, string(kind))
	if err != nil {
		return 0, fmt.Errorf("annot: querying %s: %w", kind, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var addr int64
		var text string
		if err := rows.Scan(&addr, &text); err != nil {
			return n, fmt.Errorf("annot: scanning %s: %w", kind, err)
		}
		tags.Set(uint32(addr), text)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("annot: reading %s: %w", kind, err)
	}
	if n > 0 {
		tags.NotifyChanged()
	}
	return n, nil
}

// Images lists the images that have stored tags.
func (d *DB) Images() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query("SELECT DISTINCT image FROM tags ORDER BY image")
	if err != nil {
		return nil, fmt.Errorf("annot: listing images: %w", err)
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("annot: scanning image: %w", err)
		}
		images = append(images, name)
	}
	return images, rows.Err()
}
