package index

import "strings"

// DefaultSearchLimit applies when a caller passes a non-positive limit.
const DefaultSearchLimit = 20

// SearchResult represents one search hit.
type SearchResult struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// searchTerms splits a query on whitespace. Every term must match for a note
// to be a hit.
func searchTerms(q string) []string {
	return strings.Fields(q)
}

func scanResults(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]SearchResult, error) {
	out := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Filename, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
