package database

import (
	"database/sql"
	"fmt"
	"time"
)

// TrackCache is the current live track for one race entry. Exactly one row
// per entry, overwritten in place by the live cache worker.
type TrackCache struct {
	RaceEntryID int64
	GeoJSON     string
	ETag        *string
	UpdatedAt   int64
}

// UpsertTrackCache replaces an entry's live track snapshot
func (db *DB) UpsertTrackCache(raceEntryID int64, geojson string, etag *string) error {
	_, err := db.conn.Exec(`
		INSERT INTO track_cache (race_entry_id, geojson, etag, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(race_entry_id) DO UPDATE SET
			geojson = excluded.geojson,
			etag = excluded.etag,
			updated_at = excluded.updated_at
	`, raceEntryID, geojson, etag, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert track cache: %w", err)
	}
	return nil
}

// GetTrackCache retrieves an entry's live track, or nil when nothing has been
// cached for it yet
func (db *DB) GetTrackCache(raceEntryID int64) (*TrackCache, error) {
	var c TrackCache
	var etag sql.NullString
	err := db.conn.QueryRow(`
		SELECT race_entry_id, geojson, etag, updated_at
		FROM track_cache
		WHERE race_entry_id = ?
	`, raceEntryID).Scan(&c.RaceEntryID, &c.GeoJSON, &etag, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track cache: %w", err)
	}
	if etag.Valid {
		c.ETag = &etag.String
	}
	return &c, nil
}

// DeleteTrackCache drops an entry's live track row. Used after archival to
// stop serving a stale live view.
func (db *DB) DeleteTrackCache(raceEntryID int64) error {
	_, err := db.conn.Exec(`DELETE FROM track_cache WHERE race_entry_id = ?`, raceEntryID)
	if err != nil {
		return fmt.Errorf("failed to delete track cache: %w", err)
	}
	return nil
}
