package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"enduro-tracker/internal/archive"
	"enduro-tracker/internal/database"
	"enduro-tracker/internal/metrics"
)

// maxUploadBytes caps upload bodies; device text logs for a full race day
// stay well under this
const maxUploadBytes = 16 << 20

// IngestHandler handles telemetry uploads from trackers
type IngestHandler struct {
	db     *database.DB
	writer *archive.Writer
	logger *slog.Logger
}

// NewIngestHandler creates an ingest handler
func NewIngestHandler(db *database.DB, writer *archive.Writer) *IngestHandler {
	return &IngestHandler{
		db:     db,
		writer: writer,
		logger: slog.Default(),
	}
}

// compactUpload is the live telemetry wire format. Fix arrays are kept as
// raw numbers so the stored canonical form preserves them verbatim.
type compactUpload struct {
	DeviceID *string          `json:"device_id"`
	F        [][]*json.Number `json:"f"`
}

// HandleUpload accepts a batch of compact fixes, persists the payload to the
// raw ingest log and returns immediately. Decoding happens asynchronously.
// Responses: 400 for unparsable JSON, 422 for JSON that does not match the
// compact schema, 202 on acceptance.
func (h *IngestHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		h.logger.Error("Failed to read upload body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !json.Valid(body) {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var upload compactUpload
	if err := dec.Decode(&upload); err != nil {
		http.Error(w, "Payload does not match upload schema", http.StatusUnprocessableEntity)
		return
	}
	if upload.DeviceID == nil || *upload.DeviceID == "" || upload.F == nil {
		http.Error(w, "Payload does not match upload schema", http.StatusUnprocessableEntity)
		return
	}

	// Re-marshal for a canonical stored form: stable key order, numbers
	// preserved verbatim via json.Number
	canonical, err := json.Marshal(upload)
	if err != nil {
		h.logger.Error("Failed to canonicalize payload", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	id, err := h.db.InsertRawPayload(*upload.DeviceID, string(canonical))
	if err != nil {
		h.logger.Error("Failed to store raw payload", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	metrics.RawPayloadsIngestedTotal.Inc()
	h.logger.Info("Accepted telemetry upload",
		"payload_id", id,
		"device_id", *upload.DeviceID,
		"fixes", len(upload.F))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": len(upload.F),
		"id":       id,
	})
}

// textLogUpload carries a device's full race-day text log
type textLogUpload struct {
	DeviceID string `json:"device_id"`
	Log      string `json:"log"`
}

// HandleUploadText accepts a device's line-delimited text log and archives a
// track snapshot for every race entry the device served
func (h *IngestHandler) HandleUploadText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		h.logger.Error("Failed to read text log body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var upload textLogUpload
	if err := json.Unmarshal(body, &upload); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if upload.DeviceID == "" || upload.Log == "" {
		http.Error(w, "device_id and log are required", http.StatusUnprocessableEntity)
		return
	}

	written, err := h.writer.ArchiveDeviceLog(upload.DeviceID, upload.Log)
	if err != nil {
		h.logger.Error("Failed to archive device log",
			"device_id", upload.DeviceID,
			"error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	h.logger.Info("Archived device log",
		"device_id", upload.DeviceID,
		"snapshots", written)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"archived": written,
	})
}

// timingMarkRequest reports one gate or device timing mark
type timingMarkRequest struct {
	DeviceID string `json:"device_id"`
	Epoch    *int64 `json:"epoch"`
	Phase    string `json:"phase"`
	Source   string `json:"source"`
}

// HandleTimingMark records a start/finish mark against the device's current
// race entry. The last report per phase+source wins.
func (h *IngestHandler) HandleTimingMark(w http.ResponseWriter, r *http.Request) {
	var req timingMarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.DeviceID == "" || req.Epoch == nil {
		http.Error(w, "device_id and epoch are required", http.StatusUnprocessableEntity)
		return
	}
	if req.Phase != database.PhaseStart && req.Phase != database.PhaseFinish {
		http.Error(w, "phase must be start or finish", http.StatusUnprocessableEntity)
		return
	}
	if req.Source != database.SourceGate && req.Source != database.SourceDevice {
		http.Error(w, "source must be gate or device", http.StatusUnprocessableEntity)
		return
	}

	entry, err := h.db.LatestEntryForDevice(req.DeviceID)
	if err != nil {
		h.logger.Error("Failed to resolve entry for timing mark", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "No race entry for device", http.StatusNotFound)
		return
	}

	if err := h.db.SetTimingMark(entry.ID, req.Phase, req.Source, *req.Epoch); err != nil {
		h.logger.Error("Failed to set timing mark", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Recorded timing mark",
		"device_id", req.DeviceID,
		"race_entry_id", entry.ID,
		"phase", req.Phase,
		"source", req.Source,
		"epoch", *req.Epoch)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"race_entry_id": entry.ID,
	})
}
