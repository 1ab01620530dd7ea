package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Raw ingest log: durable copy of every payload as received (canonical compact JSON).
-- Append-only; only the fix decoder touches processed_at/parse_error.
CREATE TABLE IF NOT EXISTS ingest_raw (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    received_at INTEGER NOT NULL,
    processed_at INTEGER,
    parse_error TEXT
);

-- Decoded GNSS fixes. One row per (device, second); duplicates rejected, never
-- overwritten. Deliberately no foreign key on device_id: a tracker may emit
-- telemetry before it is registered.
CREATE TABLE IF NOT EXISTS points (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    t_epoch INTEGER NOT NULL,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    ele REAL,
    sog REAL,
    cog REAL,
    fx INTEGER,
    hdop REAL,
    nsat INTEGER,
    received_at INTEGER NOT NULL
);

-- Registered hardware trackers
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    device_info TEXT
);

-- Athletes
CREATE TABLE IF NOT EXISTS riders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    team TEXT,
    bike TEXT,
    bio TEXT
);

-- Organized events
CREATE TABLE IF NOT EXISTS races (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT,
    website TEXT,
    starts_at_epoch INTEGER,
    ends_at_epoch INTEGER,
    active BOOLEAN NOT NULL DEFAULT 1
);

-- Course geometry per race category
CREATE TABLE IF NOT EXISTS routes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    race_id INTEGER NOT NULL,
    geojson TEXT,
    gpx TEXT,
    FOREIGN KEY (race_id) REFERENCES races(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    route_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE
);

-- One rider's participation window for one race category. Several rows may
-- share a device_id over time (reassignment) or concurrently (shared device).
-- Timing marks come in two flavors per phase: the start/finish gate hardware
-- and the tracker device itself.
CREATE TABLE IF NOT EXISTS race_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rider_id INTEGER NOT NULL,
    device_id TEXT NOT NULL,
    category_id INTEGER NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    recording BOOLEAN NOT NULL DEFAULT 1,
    start_gate_epoch INTEGER,
    start_device_epoch INTEGER,
    finish_gate_epoch INTEGER,
    finish_device_epoch INTEGER,
    FOREIGN KEY (rider_id) REFERENCES riders(id),
    FOREIGN KEY (device_id) REFERENCES devices(id),
    FOREIGN KEY (category_id) REFERENCES categories(id)
);

-- Live track cache: one row per race entry, overwritten in place
CREATE TABLE IF NOT EXISTS track_cache (
    race_entry_id INTEGER PRIMARY KEY,
    geojson TEXT NOT NULL,
    etag TEXT,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (race_entry_id) REFERENCES race_entries(id) ON DELETE CASCADE
);

-- Archived track snapshots: append-only, latest row per entry is canonical.
-- raw_txt keeps the source text log so a snapshot can be recomputed after a
-- manual timing correction.
CREATE TABLE IF NOT EXISTS track_archive (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    race_entry_id INTEGER NOT NULL,
    geojson TEXT NOT NULL,
    gpx TEXT NOT NULL,
    raw_txt TEXT,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (race_entry_id) REFERENCES race_entries(id) ON DELETE CASCADE
);

-- Indexes for ingest_raw
CREATE INDEX IF NOT EXISTS idx_ingest_raw_device ON ingest_raw(device_id);
CREATE INDEX IF NOT EXISTS idx_ingest_raw_unprocessed ON ingest_raw(id) WHERE processed_at IS NULL;

-- Indexes for points
CREATE UNIQUE INDEX IF NOT EXISTS ux_points_device_time ON points(device_id, t_epoch);
CREATE INDEX IF NOT EXISTS idx_points_t_epoch ON points(t_epoch);

-- Indexes for race structure
CREATE INDEX IF NOT EXISTS idx_routes_race ON routes(race_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_categories_route_name ON categories(route_id, name);
CREATE INDEX IF NOT EXISTS idx_race_entries_device ON race_entries(device_id);
CREATE INDEX IF NOT EXISTS idx_race_entries_category ON race_entries(category_id);

-- Indexes for archive lookups (latest snapshot per entry)
CREATE INDEX IF NOT EXISTS idx_track_archive_entry ON track_archive(race_entry_id, id DESC);
`
