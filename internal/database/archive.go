package database

import (
	"database/sql"
	"fmt"
	"time"
)

// TrackArchive is one archived track snapshot. The table is append-only; the
// highest id per entry is the canonical snapshot. raw_txt keeps the source
// device log so the snapshot can be recomputed after a timing correction.
type TrackArchive struct {
	ID          int64
	RaceEntryID int64
	GeoJSON     string
	GPX         string
	RawText     *string
	UpdatedAt   int64
}

// InsertTrackArchive appends a snapshot for an entry and returns the row id
func (db *DB) InsertTrackArchive(raceEntryID int64, geojson, gpx string, rawText *string) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO track_archive (race_entry_id, geojson, gpx, raw_txt, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, raceEntryID, geojson, gpx, rawText, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert track archive: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get archive id: %w", err)
	}
	return id, nil
}

// LatestArchiveForEntry returns the entry's canonical snapshot (highest id),
// or nil when the entry has never been archived
func (db *DB) LatestArchiveForEntry(raceEntryID int64) (*TrackArchive, error) {
	var a TrackArchive
	var rawText sql.NullString
	err := db.conn.QueryRow(`
		SELECT id, race_entry_id, geojson, gpx, raw_txt, updated_at
		FROM track_archive
		WHERE race_entry_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, raceEntryID).Scan(&a.ID, &a.RaceEntryID, &a.GeoJSON, &a.GPX, &rawText, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest archive: %w", err)
	}
	if rawText.Valid {
		a.RawText = &rawText.String
	}
	return &a, nil
}

// CountArchivesForEntry returns how many snapshots an entry has accumulated
func (db *DB) CountArchivesForEntry(raceEntryID int64) (int, error) {
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM track_archive WHERE race_entry_id = ?
	`, raceEntryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count archives: %w", err)
	}
	return count, nil
}

// ArchivedEntryIDs returns the set of a device's entries that already have at
// least one archive snapshot
func (db *DB) ArchivedEntryIDs(deviceID string) (map[int64]bool, error) {
	rows, err := db.conn.Query(`
		SELECT DISTINCT a.race_entry_id
		FROM track_archive a
		JOIN race_entries e ON e.id = a.race_entry_id
		WHERE e.device_id = ?
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived entries: %w", err)
	}
	defer rows.Close()

	archived := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan archived entry id: %w", err)
		}
		archived[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived entries: %w", err)
	}
	return archived, nil
}
