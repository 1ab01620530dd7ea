package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for backlog depth queries
type DB interface {
	CountUnprocessedRawPayloads() (int, error)
}

// StartBacklogCollector starts a background goroutine that periodically
// samples the decoder backlog from the database
func StartBacklogCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectBacklog(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Backlog collector stopping")
			return
		case <-ticker.C:
			collectBacklog(db, logger)
		}
	}
}

func collectBacklog(db DB, logger *slog.Logger) {
	if backlog, err := db.CountUnprocessedRawPayloads(); err != nil {
		logger.Error("Failed to count unprocessed payloads", "error", err)
	} else {
		RawPayloadBacklog.Set(float64(backlog))
	}
}
