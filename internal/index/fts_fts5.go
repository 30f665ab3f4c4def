//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			path UNINDEXED,
			filename UNINDEXED,
			title,
			tags,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, n NoteRow, body string) error {
	ftsDelete(tx, n.Path)
	_, err := tx.Exec(`INSERT INTO notes_fts (path, filename, title, tags, body) VALUES (?, ?, ?, ?, ?)`,
		n.Path, n.Filename, n.Title, strings.Join(n.Tags, " "), body)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, path)
}

// Search runs an FTS5 query where every term must match. Hits are ranked by
// bm25 with title and tags weighted above the body.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	match := matchExpr(query)
	if match == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	rows, err := db.conn.Query(`
		SELECT path,
		       filename,
		       title,
		       snippet(notes_fts, 4, '<b>', '</b>', '...', 24)
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY bm25(notes_fts, 0, 0, 10.0, 5.0, 1.0)
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// matchExpr quotes every term as an FTS5 string so punctuation is never
// parsed as query syntax; adjacent strings are an implicit AND.
func matchExpr(q string) string {
	terms := searchTerms(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
