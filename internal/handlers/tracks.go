package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"enduro-tracker/internal/archive"
	"enduro-tracker/internal/database"
	"enduro-tracker/internal/track"
)

// TracksHandler serves live and archived tracks
type TracksHandler struct {
	db     *database.DB
	writer *archive.Writer
	logger *slog.Logger
}

// NewTracksHandler creates a tracks handler
func NewTracksHandler(db *database.DB, writer *archive.Writer) *TracksHandler {
	return &TracksHandler{
		db:     db,
		writer: writer,
		logger: slog.Default(),
	}
}

// HandleLive serves an entry's current live track from the cache. The cached
// ETag is exposed so viewers can poll cheaply with If-None-Match.
func (h *TracksHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	cached, err := h.db.GetTrackCache(entryID)
	if err != nil {
		h.logger.Error("Failed to read track cache", "race_entry_id", entryID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if cached == nil {
		http.Error(w, "No live track for entry", http.StatusNotFound)
		return
	}

	if cached.ETag != nil {
		etag := `"` + *cached.ETag + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Write([]byte(cached.GeoJSON))
}

// HandleArchive serves an entry's canonical archived track. Format defaults
// to GeoJSON; ?format=gpx returns the GPX rendition.
func (h *TracksHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	snapshot, err := h.db.LatestArchiveForEntry(entryID)
	if err != nil {
		h.logger.Error("Failed to read archive", "race_entry_id", entryID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if snapshot == nil {
		http.Error(w, "No archived track for entry", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "gpx" {
		w.Header().Set("Content-Type", "application/gpx+xml")
		w.Write([]byte(snapshot.GPX))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write([]byte(snapshot.GeoJSON))
}

// HandleDevicePreview builds a GeoJSON track ad hoc from a device's raw
// positions, ignoring entries and windows. Operator tooling uses this to
// inspect what a tracker has actually reported.
func (h *TracksHandler) HandleDevicePreview(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if deviceID == "" {
		http.Error(w, "device id required", http.StatusBadRequest)
		return
	}

	positions, err := h.db.PositionsForDevice(deviceID)
	if err != nil {
		h.logger.Error("Failed to read positions", "device_id", deviceID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if len(positions) == 0 {
		http.Error(w, "No positions for device", http.StatusNotFound)
		return
	}

	geojson, err := track.ToGeoJSON(database.Fixes(positions))
	if err != nil {
		h.logger.Error("Failed to build preview", "device_id", deviceID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Write([]byte(geojson))
}

// manualTimesRequest is an operator correction of an entry's timing window.
// Either side may be null to leave the window open on that side.
type manualTimesRequest struct {
	StartEpoch  *int64 `json:"start_epoch"`
	FinishEpoch *int64 `json:"finish_epoch"`
}

// HandleManualTimes overrides an entry's timing window and rebuilds its
// archived snapshot from the stored raw log
func (h *TracksHandler) HandleManualTimes(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req manualTimesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.StartEpoch != nil && req.FinishEpoch != nil && *req.StartEpoch > *req.FinishEpoch {
		http.Error(w, "start_epoch must not exceed finish_epoch", http.StatusUnprocessableEntity)
		return
	}

	entry, err := h.db.GetRaceEntry(entryID)
	if err != nil {
		h.logger.Error("Failed to get race entry", "race_entry_id", entryID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "Race entry not found", http.StatusNotFound)
		return
	}

	if err := h.db.SetManualTimes(entryID, req.StartEpoch, req.FinishEpoch); err != nil {
		h.logger.Error("Failed to set manual times", "race_entry_id", entryID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.writer.RebuildEntry(entryID); err != nil {
		h.logger.Error("Failed to rebuild archive after correction",
			"race_entry_id", entryID,
			"error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	h.logger.Info("Applied manual timing correction", "race_entry_id", entryID)
	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {name} path segment as an int64 id, writing a 400 on
// failure
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
