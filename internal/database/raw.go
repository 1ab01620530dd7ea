package database

import (
	"database/sql"
	"fmt"
	"time"
)

// RawPayload is one row of the durable ingest log. processed_at stays NULL
// until the fix decoder has attempted to decode the payload; parse_error
// records why a decode attempt failed without ever blocking the queue.
type RawPayload struct {
	ID          int64
	DeviceID    string
	PayloadJSON string
	ReceivedAt  int64
	ProcessedAt *int64
	ParseError  *string
}

// InsertRawPayload stores a canonical compact payload and returns the row id
func (db *DB) InsertRawPayload(deviceID, payloadJSON string) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO ingest_raw (device_id, payload_json, received_at)
		VALUES (?, ?, ?)
	`, deviceID, payloadJSON, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert raw payload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get raw payload id: %w", err)
	}
	return id, nil
}

// GetUnprocessedRawPayloads returns up to limit unprocessed rows, oldest first.
// Oldest-first ordering keeps decoding fair across devices and bounds tail
// latency for any one of them.
func (db *DB) GetUnprocessedRawPayloads(limit int) ([]*RawPayload, error) {
	rows, err := db.conn.Query(`
		SELECT id, device_id, payload_json, received_at, processed_at, parse_error
		FROM ingest_raw
		WHERE processed_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed payloads: %w", err)
	}
	defer rows.Close()

	var payloads []*RawPayload
	for rows.Next() {
		p, err := scanRawPayload(rows)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw payloads: %w", err)
	}
	return payloads, nil
}

// GetRawPayload retrieves one raw payload by id, or nil if absent
func (db *DB) GetRawPayload(id int64) (*RawPayload, error) {
	row := db.conn.QueryRow(`
		SELECT id, device_id, payload_json, received_at, processed_at, parse_error
		FROM ingest_raw
		WHERE id = ?
	`, id)

	var p RawPayload
	var processedAt sql.NullInt64
	var parseError sql.NullString
	err := row.Scan(&p.ID, &p.DeviceID, &p.PayloadJSON, &p.ReceivedAt, &processedAt, &parseError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw payload: %w", err)
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Int64
	}
	if parseError.Valid {
		p.ParseError = &parseError.String
	}
	return &p, nil
}

// ProcessedMark records the outcome of one decode attempt
type ProcessedMark struct {
	ID         int64
	ParseError *string
}

// MarkRawPayloadsProcessed stamps processed_at on a set of rows in one
// transaction. Rows that failed to decode carry a parse_error; both outcomes
// count as processed so a malformed payload is never retried.
func (db *DB) MarkRawPayloadsProcessed(marks []ProcessedMark, processedAt int64) error {
	if len(marks) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE ingest_raw SET processed_at = ?, parse_error = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare processed update: %w", err)
	}
	defer stmt.Close()

	for _, m := range marks {
		if _, err := stmt.Exec(processedAt, m.ParseError, m.ID); err != nil {
			return fmt.Errorf("failed to mark payload %d processed: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit processed marks: %w", err)
	}
	return nil
}

// CountUnprocessedRawPayloads returns the decoder backlog depth
func (db *DB) CountUnprocessedRawPayloads() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM ingest_raw WHERE processed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed payloads: %w", err)
	}
	return count, nil
}

func scanRawPayload(rows *sql.Rows) (*RawPayload, error) {
	var p RawPayload
	var processedAt sql.NullInt64
	var parseError sql.NullString

	err := rows.Scan(&p.ID, &p.DeviceID, &p.PayloadJSON, &p.ReceivedAt, &processedAt, &parseError)
	if err != nil {
		return nil, fmt.Errorf("failed to scan raw payload: %w", err)
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Int64
	}
	if parseError.Valid {
		p.ParseError = &parseError.String
	}
	return &p, nil
}
