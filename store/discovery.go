package store

import (
	"context"
	"fmt"

	"picocontrol/models"
)

// DiscoveryEntry is one row of the discovery history.
type DiscoveryEntry struct {
	ID          int64                 `json:"id"`
	ScannedAt   int64                 `json:"scanned_at"`
	State       models.DiscoveryState `json:"state"`
	DeviceCount int                   `json:"device_count"`
	Message     string                `json:"message,omitempty"`
}

// RecordDiscovery appends a finished discovery outcome to the history and
// drops the oldest rows beyond the history limit.
func (s *Store) RecordDiscovery(ctx context.Context, outcome models.DiscoveryOutcome) error {
	scannedAt := outcome.UpdatedAt
	if scannedAt == 0 {
		scannedAt = s.now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_log (scanned_at, state, device_count, message) VALUES (?, ?, ?, ?)`,
		scannedAt, string(outcome.State), len(outcome.Devices), outcome.Error)
	if err != nil {
		return fmt.Errorf("store: record discovery: %w", err)
	}
	if s.historyLimit <= 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM discovery_log WHERE id <= (SELECT id FROM discovery_log ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		s.historyLimit)
	if err != nil {
		return fmt.Errorf("store: trim discovery log: %w", err)
	}
	return nil
}

// RecentDiscoveries returns the newest history entries first.
func (s *Store) RecentDiscoveries(ctx context.Context, limit int) ([]DiscoveryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scanned_at, state, device_count, message FROM discovery_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query discoveries: %w", err)
	}
	defer rows.Close()

	out := []DiscoveryEntry{}
	for rows.Next() {
		var e DiscoveryEntry
		var state string
		if err := rows.Scan(&e.ID, &e.ScannedAt, &state, &e.DeviceCount, &e.Message); err != nil {
			return nil, err
		}
		e.State = models.DiscoveryState(state)
		out = append(out, e)
	}
	return out, rows.Err()
}
