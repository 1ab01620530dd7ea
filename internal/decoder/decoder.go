package decoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"enduro-tracker/internal/database"
	"enduro-tracker/internal/metrics"
	"enduro-tracker/internal/track"
)

// maxParseErrorLen bounds what we store in ingest_raw.parse_error
const maxParseErrorLen = 500

// Decoder drains the raw ingest log: it parses compact payloads into
// positions in batches, marking each payload processed exactly once.
// Malformed payloads are marked processed with a parse_error so they never
// block the queue; store failures leave the batch unmarked for retry.
type Decoder struct {
	db           *database.DB
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
}

// NewDecoder creates a fix decoder
func NewDecoder(db *database.DB, batchSize int, pollInterval time.Duration) *Decoder {
	return &Decoder{
		db:           db,
		logger:       slog.Default(),
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Start begins draining the ingest log until the context is cancelled
func (d *Decoder) Start(ctx context.Context) error {
	d.logger.Info("Starting fix decoder", "batch_size", d.batchSize, "poll_interval", d.pollInterval)
	metrics.DecoderActive.Set(1)
	defer metrics.DecoderActive.Set(0)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping fix decoder")
			return ctx.Err()
		default:
			processed, err := d.ProcessBatch()
			if err != nil {
				d.logger.Error("Decoder batch failed", "error", err)
				time.Sleep(d.pollInterval)
				continue
			}
			if processed == 0 {
				time.Sleep(d.pollInterval)
			}
		}
	}
}

// compactPayload is the upload wire format: a device id plus a batch of
// positional fix arrays
type compactPayload struct {
	DeviceID *string          `json:"device_id"`
	F        [][]*json.Number `json:"f"`
}

// ProcessBatch decodes one batch of unprocessed payloads. Returns the number
// of payloads handled. On a store failure it returns before marking anything
// processed so the whole batch is retried next cycle; the unique
// (device_id, t_epoch) constraint makes the retry harmless.
func (d *Decoder) ProcessBatch() (int, error) {
	start := time.Now()

	payloads, err := d.db.GetUnprocessedRawPayloads(d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unprocessed payloads: %w", err)
	}
	if len(payloads) == 0 {
		return 0, nil
	}

	var positions []*database.Position
	marks := make([]database.ProcessedMark, 0, len(payloads))

	for _, p := range payloads {
		decoded, parseErr := decodePayload(p)
		if parseErr != nil {
			msg := truncateError(parseErr)
			marks = append(marks, database.ProcessedMark{ID: p.ID, ParseError: &msg})
			metrics.RawPayloadsDecodedTotal.WithLabelValues(metrics.ResultParseError).Inc()
			d.logger.Warn("Payload failed to decode",
				"payload_id", p.ID,
				"device_id", p.DeviceID,
				"error", parseErr)
			continue
		}

		positions = append(positions, decoded...)
		marks = append(marks, database.ProcessedMark{ID: p.ID})
		metrics.RawPayloadsDecodedTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	}

	inserted, err := d.db.InsertPositions(positions)
	if err != nil {
		// Leave every payload unprocessed; the batch retries next cycle
		return 0, fmt.Errorf("failed to store positions: %w", err)
	}

	duplicates := len(positions) - inserted
	metrics.PositionsInsertedTotal.Add(float64(inserted))
	metrics.PositionsDuplicatesTotal.Add(float64(duplicates))

	if err := d.db.MarkRawPayloadsProcessed(marks, time.Now().Unix()); err != nil {
		return 0, fmt.Errorf("failed to mark payloads processed: %w", err)
	}

	metrics.DecoderBatchDuration.Observe(time.Since(start).Seconds())
	d.logger.Info("Decoded payload batch",
		"payloads", len(payloads),
		"positions", inserted,
		"duplicates", duplicates)

	return len(payloads), nil
}

// decodePayload parses one stored payload into positions. Fixes missing
// utc/lat/lon are dropped silently (expected sensor dropouts); a payload that
// is not valid compact JSON at all is a parse error.
func decodePayload(p *database.RawPayload) ([]*database.Position, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(p.PayloadJSON)))
	dec.UseNumber()

	var doc compactPayload
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid payload json: %w", err)
	}
	if doc.DeviceID == nil || *doc.DeviceID == "" {
		return nil, fmt.Errorf("payload missing device_id")
	}
	if doc.F == nil {
		return nil, fmt.Errorf("payload missing fix list")
	}

	var positions []*database.Position
	for _, raw := range doc.F {
		f, ok := track.DecodeCompact(raw)
		if !ok {
			continue
		}
		positions = append(positions, &database.Position{
			DeviceID: *doc.DeviceID,
			TEpoch:   f.Epoch,
			Lat:      f.Lat,
			Lon:      f.Lon,
			Ele:      f.Ele,
			Sog:      f.Sog,
			Cog:      f.Cog,
			Fx:       f.Fx,
			Hdop:     f.Hdop,
			Nsat:     f.Nsat,
		})
	}
	return positions, nil
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxParseErrorLen {
		msg = msg[:maxParseErrorLen]
	}
	return msg
}
