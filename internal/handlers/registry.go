package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"enduro-tracker/internal/database"
	"enduro-tracker/internal/track"
)

// RegistryHandler manages devices, riders, races and entries
type RegistryHandler struct {
	db     *database.DB
	logger *slog.Logger
}

// NewRegistryHandler creates a registry handler
func NewRegistryHandler(db *database.DB) *RegistryHandler {
	return &RegistryHandler{
		db:     db,
		logger: slog.Default(),
	}
}

type deviceRequest struct {
	ID         string  `json:"id"`
	DeviceInfo *string `json:"device_info"`
}

// HandleCreateDevice registers (or re-registers) a tracker
func (h *RegistryHandler) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.ID == "" {
		http.Error(w, "id is required", http.StatusUnprocessableEntity)
		return
	}

	device, err := h.db.RegisterDevice(req.ID, req.DeviceInfo)
	if err != nil {
		h.logger.Error("Failed to register device", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Registered device", "device_id", device.ID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          device.ID,
		"device_info": device.DeviceInfo,
	})
}

// HandleListDevices lists registered trackers
func (h *RegistryHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.db.ListDevices()
	if err != nil {
		h.logger.Error("Failed to list devices", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		out = append(out, map[string]interface{}{
			"id":          d.ID,
			"device_info": d.DeviceInfo,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type riderRequest struct {
	Name string  `json:"name"`
	Team *string `json:"team"`
	Bike *string `json:"bike"`
	Bio  *string `json:"bio"`
}

// HandleCreateRider adds an athlete
func (h *RegistryHandler) HandleCreateRider(w http.ResponseWriter, r *http.Request) {
	var req riderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Name == "" {
		http.Error(w, "name is required", http.StatusUnprocessableEntity)
		return
	}

	rider, err := h.db.CreateRider(req.Name, req.Team, req.Bike, req.Bio)
	if err != nil {
		h.logger.Error("Failed to create rider", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":   rider.ID,
		"name": rider.Name,
		"team": rider.Team,
		"bike": rider.Bike,
		"bio":  rider.Bio,
	})
}

// HandleListRiders lists athletes
func (h *RegistryHandler) HandleListRiders(w http.ResponseWriter, r *http.Request) {
	riders, err := h.db.ListRiders()
	if err != nil {
		h.logger.Error("Failed to list riders", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]interface{}, 0, len(riders))
	for _, rd := range riders {
		out = append(out, map[string]interface{}{
			"id":   rd.ID,
			"name": rd.Name,
			"team": rd.Team,
			"bike": rd.Bike,
			"bio":  rd.Bio,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type raceRequest struct {
	Name          string  `json:"name"`
	Description   *string `json:"description"`
	Website       *string `json:"website"`
	StartsAtEpoch *int64  `json:"starts_at_epoch"`
	EndsAtEpoch   *int64  `json:"ends_at_epoch"`
}

// HandleCreateRace adds an event
func (h *RegistryHandler) HandleCreateRace(w http.ResponseWriter, r *http.Request) {
	var req raceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Name == "" {
		http.Error(w, "name is required", http.StatusUnprocessableEntity)
		return
	}

	race, err := h.db.CreateRace(req.Name, req.Description, req.Website, req.StartsAtEpoch, req.EndsAtEpoch)
	if err != nil {
		h.logger.Error("Failed to create race", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, raceResponse(race))
}

// HandleListRaces lists events
func (h *RegistryHandler) HandleListRaces(w http.ResponseWriter, r *http.Request) {
	races, err := h.db.ListRaces()
	if err != nil {
		h.logger.Error("Failed to list races", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]interface{}, 0, len(races))
	for _, rc := range races {
		out = append(out, raceResponse(rc))
	}
	writeJSON(w, http.StatusOK, out)
}

type entryRequest struct {
	RiderID  int64  `json:"rider_id"`
	DeviceID string `json:"device_id"`
	RaceID   int64  `json:"race_id"`
	Category string `json:"category"`
}

// HandleCreateEntry binds a rider and device to a race category, creating
// the category (and its route) on first use
func (h *RegistryHandler) HandleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.RiderID == 0 || req.DeviceID == "" || req.RaceID == 0 || req.Category == "" {
		http.Error(w, "rider_id, device_id, race_id and category are required", http.StatusUnprocessableEntity)
		return
	}

	category, err := h.db.FindOrCreateCategory(req.RaceID, req.Category)
	if err != nil {
		h.logger.Error("Failed to resolve category", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	entry, err := h.db.CreateRaceEntry(req.RiderID, req.DeviceID, category.ID)
	if err != nil {
		h.logger.Error("Failed to create race entry", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Created race entry",
		"race_entry_id", entry.ID,
		"rider_id", entry.RiderID,
		"device_id", entry.DeviceID,
		"category", category.Name)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          entry.ID,
		"rider_id":    entry.RiderID,
		"device_id":   entry.DeviceID,
		"category_id": entry.CategoryID,
	})
}

// HandleUploadRoute accepts a GPX course file for a race category and stores
// it alongside its GeoJSON rendition
func (h *RegistryHandler) HandleUploadRoute(w http.ResponseWriter, r *http.Request) {
	raceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	categoryName := r.URL.Query().Get("category")
	if categoryName == "" {
		http.Error(w, "category query parameter required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	geojson, err := track.GPXToGeoJSON(string(body))
	if err != nil {
		http.Error(w, "Invalid GPX", http.StatusUnprocessableEntity)
		return
	}

	race, err := h.db.GetRace(raceID)
	if err != nil {
		h.logger.Error("Failed to get race", "race_id", raceID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if race == nil {
		http.Error(w, "Race not found", http.StatusNotFound)
		return
	}

	category, err := h.db.FindOrCreateCategory(raceID, categoryName)
	if err != nil {
		h.logger.Error("Failed to resolve category", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.db.UpsertRouteGeometry(category.RouteID, geojson, string(body)); err != nil {
		h.logger.Error("Failed to store route geometry", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Stored course geometry",
		"race_id", raceID,
		"category", categoryName,
		"route_id", category.RouteID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetRoute serves a race category's course geometry as GeoJSON
func (h *RegistryHandler) HandleGetRoute(w http.ResponseWriter, r *http.Request) {
	raceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	categoryName := r.URL.Query().Get("category")
	if categoryName == "" {
		http.Error(w, "category query parameter required", http.StatusBadRequest)
		return
	}

	geojson, err := h.db.GetRouteGeoJSON(raceID, categoryName)
	if err != nil {
		h.logger.Error("Failed to get route geometry", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if geojson == nil {
		http.Error(w, "No course geometry for category", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Write([]byte(*geojson))
}

func raceResponse(rc *database.Race) map[string]interface{} {
	return map[string]interface{}{
		"id":              rc.ID,
		"name":            rc.Name,
		"description":     rc.Description,
		"website":         rc.Website,
		"starts_at_epoch": rc.StartsAtEpoch,
		"ends_at_epoch":   rc.EndsAtEpoch,
		"active":          rc.Active,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
