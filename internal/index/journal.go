package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/cortex/internal/models"
)

// RecordStimulus appends a processed stimulus to the journal. An empty ID is
// replaced by a fresh UUID.
func (db *DB) RecordStimulus(ctx context.Context, s models.Stimulus) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Matched == nil {
		s.Matched = []string{}
	}
	matched, _ := json.Marshal(s.Matched)
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO stimuli (id, text, tag_context, matched, received_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Text, s.TagContext, string(matched), s.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("index: record stimulus: %w", err)
	}
	return nil
}

// RecentStimuli returns the newest journal entries first.
func (db *DB) RecentStimuli(ctx context.Context, limit int) ([]models.Stimulus, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, text, tag_context, matched, received_at
		FROM stimuli
		ORDER BY received_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: recent stimuli: %w", err)
	}
	defer rows.Close()

	out := []models.Stimulus{}
	for rows.Next() {
		var (
			s       models.Stimulus
			matched string
		)
		if err := rows.Scan(&s.ID, &s.Text, &s.TagContext, &matched, &s.ReceivedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(matched), &s.Matched)
		out = append(out, s)
	}
	return out, rows.Err()
}
