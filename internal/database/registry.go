package database

import (
	"database/sql"
	"fmt"
)

// Device is a registered hardware tracker
type Device struct {
	ID         string
	DeviceInfo *string
}

// Rider is an athlete
type Rider struct {
	ID   int64
	Name string
	Team *string
	Bike *string
	Bio  *string
}

// Race is an organized event
type Race struct {
	ID            int64
	Name          string
	Description   *string
	Website       *string
	StartsAtEpoch *int64
	EndsAtEpoch   *int64
	Active        bool
}

// Route holds one race category's course geometry
type Route struct {
	ID      int64
	RaceID  int64
	GeoJSON *string
	GPX     *string
}

// Category names a competition class within a race and points at its route
type Category struct {
	ID      int64
	RouteID int64
	Name    string
}

// RegisterDevice upserts a device row; re-registering updates device_info
func (db *DB) RegisterDevice(id string, deviceInfo *string) (*Device, error) {
	_, err := db.conn.Exec(`
		INSERT INTO devices (id, device_info) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET device_info = excluded.device_info
	`, id, deviceInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	return &Device{ID: id, DeviceInfo: deviceInfo}, nil
}

// GetDevice retrieves one device, or nil if unregistered
func (db *DB) GetDevice(id string) (*Device, error) {
	var d Device
	var info sql.NullString
	err := db.conn.QueryRow(`SELECT id, device_info FROM devices WHERE id = ?`, id).Scan(&d.ID, &info)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if info.Valid {
		d.DeviceInfo = &info.String
	}
	return &d, nil
}

// ListDevices returns all registered devices ordered by id
func (db *DB) ListDevices() ([]*Device, error) {
	rows, err := db.conn.Query(`SELECT id, device_info FROM devices ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		var d Device
		var info sql.NullString
		if err := rows.Scan(&d.ID, &info); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		if info.Valid {
			d.DeviceInfo = &info.String
		}
		devices = append(devices, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

// CreateRider adds an athlete and returns the stored row
func (db *DB) CreateRider(name string, team, bike, bio *string) (*Rider, error) {
	result, err := db.conn.Exec(`
		INSERT INTO riders (name, team, bike, bio) VALUES (?, ?, ?, ?)
	`, name, team, bike, bio)
	if err != nil {
		return nil, fmt.Errorf("failed to create rider: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get rider id: %w", err)
	}
	return &Rider{ID: id, Name: name, Team: team, Bike: bike, Bio: bio}, nil
}

// ListRiders returns all riders ordered by id
func (db *DB) ListRiders() ([]*Rider, error) {
	rows, err := db.conn.Query(`SELECT id, name, team, bike, bio FROM riders ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query riders: %w", err)
	}
	defer rows.Close()

	var riders []*Rider
	for rows.Next() {
		var r Rider
		var team, bike, bio sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &team, &bike, &bio); err != nil {
			return nil, fmt.Errorf("failed to scan rider: %w", err)
		}
		if team.Valid {
			r.Team = &team.String
		}
		if bike.Valid {
			r.Bike = &bike.String
		}
		if bio.Valid {
			r.Bio = &bio.String
		}
		riders = append(riders, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating riders: %w", err)
	}
	return riders, nil
}

// CreateRace adds an event and returns the stored row
func (db *DB) CreateRace(name string, description, website *string, startsAt, endsAt *int64) (*Race, error) {
	result, err := db.conn.Exec(`
		INSERT INTO races (name, description, website, starts_at_epoch, ends_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`, name, description, website, startsAt, endsAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create race: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get race id: %w", err)
	}
	return &Race{ID: id, Name: name, Description: description, Website: website,
		StartsAtEpoch: startsAt, EndsAtEpoch: endsAt, Active: true}, nil
}

// ListRaces returns all races ordered by id
func (db *DB) ListRaces() ([]*Race, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, description, website, starts_at_epoch, ends_at_epoch, active
		FROM races ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	var races []*Race
	for rows.Next() {
		var r Race
		var desc, website sql.NullString
		var starts, ends sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Name, &desc, &website, &starts, &ends, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan race: %w", err)
		}
		if desc.Valid {
			r.Description = &desc.String
		}
		if website.Valid {
			r.Website = &website.String
		}
		if starts.Valid {
			r.StartsAtEpoch = &starts.Int64
		}
		if ends.Valid {
			r.EndsAtEpoch = &ends.Int64
		}
		races = append(races, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating races: %w", err)
	}
	return races, nil
}

// GetRace retrieves one race by id, or nil if absent
func (db *DB) GetRace(id int64) (*Race, error) {
	var r Race
	var desc, website sql.NullString
	var starts, ends sql.NullInt64
	err := db.conn.QueryRow(`
		SELECT id, name, description, website, starts_at_epoch, ends_at_epoch, active
		FROM races WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &desc, &website, &starts, &ends, &r.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race: %w", err)
	}
	if desc.Valid {
		r.Description = &desc.String
	}
	if website.Valid {
		r.Website = &website.String
	}
	if starts.Valid {
		r.StartsAtEpoch = &starts.Int64
	}
	if ends.Valid {
		r.EndsAtEpoch = &ends.Int64
	}
	return &r, nil
}

// FindOrCreateCategory resolves a category by name within a race, creating
// the category and its backing route when missing. Every category owns its
// own route row so course geometry can differ per competition class.
func (db *DB) FindOrCreateCategory(raceID int64, name string) (*Category, error) {
	var c Category
	err := db.conn.QueryRow(`
		SELECT c.id, c.route_id, c.name
		FROM categories c
		JOIN routes r ON r.id = c.route_id
		WHERE r.race_id = ? AND c.name = ?
	`, raceID, name).Scan(&c.ID, &c.RouteID, &c.Name)
	if err == nil {
		return &c, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up category: %w", err)
	}

	routeResult, err := db.conn.Exec(`INSERT INTO routes (race_id) VALUES (?)`, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create route: %w", err)
	}
	routeID, err := routeResult.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get route id: %w", err)
	}

	catResult, err := db.conn.Exec(`INSERT INTO categories (route_id, name) VALUES (?, ?)`, routeID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	catID, err := catResult.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category id: %w", err)
	}
	return &Category{ID: catID, RouteID: routeID, Name: name}, nil
}

// ListCategoriesForRace returns a race's categories ordered by name
func (db *DB) ListCategoriesForRace(raceID int64) ([]*Category, error) {
	rows, err := db.conn.Query(`
		SELECT c.id, c.route_id, c.name
		FROM categories c
		JOIN routes r ON r.id = c.route_id
		WHERE r.race_id = ?
		ORDER BY c.name ASC
	`, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []*Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.RouteID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

// UpsertRouteGeometry stores a category's course, keeping both the uploaded
// GPX and its derived GeoJSON
func (db *DB) UpsertRouteGeometry(routeID int64, geojson, gpx string) error {
	result, err := db.conn.Exec(`
		UPDATE routes SET geojson = ?, gpx = ? WHERE id = ?
	`, geojson, gpx, routeID)
	if err != nil {
		return fmt.Errorf("failed to update route geometry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("route %d not found", routeID)
	}
	return nil
}

// GetRouteGeoJSON returns the course geometry for one race category, or nil
// when the category exists but has no geometry yet. sql.ErrNoRows style nil
// is also returned when the category itself is missing.
func (db *DB) GetRouteGeoJSON(raceID int64, categoryName string) (*string, error) {
	var geojson sql.NullString
	err := db.conn.QueryRow(`
		SELECT r.geojson
		FROM routes r
		JOIN categories c ON c.route_id = r.id
		WHERE r.race_id = ? AND c.name = ?
	`, raceID, categoryName).Scan(&geojson)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route geojson: %w", err)
	}
	if !geojson.Valid {
		return nil, nil
	}
	return &geojson.String, nil
}
