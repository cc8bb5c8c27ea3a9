// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store persists jobs, devices, runs, per-device run records and
// event logs in a single SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/switchboot/internal/model"
)

const timeLayout = time.RFC3339Nano

// Store handles persistence for the controller.
type Store struct {
	db *sql.DB

	// SQLite allows one writer at a time; runners write concurrently, so
	// writes funnel through this mutex instead of racing on SQLITE_BUSY.
	mu sync.Mutex
}

// Open opens or creates the database and applies the schema plus any soft
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// One connection keeps all statements on the same SQLite handle; writes
	// are serialized by the store mutex anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the storage is reachable, used by the health endpoint.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		customer TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL REFERENCES jobs(id),
		port INTEGER,
		vendor TEXT,
		model TEXT,
		hostname TEXT NOT NULL,
		mgmt_ip TEXT NOT NULL,
		mask TEXT NOT NULL,
		gateway TEXT NOT NULL,
		mgmt_vlan INTEGER,
		status TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_devices_job ON devices(job_id);
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL REFERENCES jobs(id),
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL DEFAULT 'RUNNING',
		parallelism INTEGER NOT NULL DEFAULT 4
	);
	CREATE TABLE IF NOT EXISTS run_devices (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		device_id INTEGER NOT NULL REFERENCES devices(id),
		status TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		error_message TEXT,
		error_code TEXT,
		template_hash TEXT,
		tasks TEXT,
		captured_config TEXT,
		UNIQUE(run_id, device_id)
	);
	CREATE TABLE IF NOT EXISTS event_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		device_id INTEGER,
		port INTEGER,
		ts TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		raw TEXT,
		error_code TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_event_logs_run ON event_logs(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrate adds columns that predate the current schema without dropping
// data. Databases created by older releases lack the diagnostic columns on
// run_devices and event_logs.
func (s *Store) migrate() error {
	wanted := map[string][]string{
		"run_devices": {"error_code", "template_hash", "tasks", "captured_config"},
		"event_logs":  {"error_code"},
	}
	for table, columns := range wanted {
		existing, err := s.tableColumns(table)
		if err != nil {
			return err
		}
		for _, col := range columns {
			if existing[col] {
				continue
			}
			if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", table, col)); err != nil {
				return fmt.Errorf("failed to add column %s to %s: %w", col, table, err)
			}
		}
	}
	return nil
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// ErrNotFound is returned for lookups of missing entities.
var ErrNotFound = sql.ErrNoRows

// CreateJob inserts a job and returns it with id and creation time set.
func (s *Store) CreateJob(name, customer string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO jobs (name, customer, created_at) VALUES (?, ?, ?)",
		name, nullString(customer), formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Job{ID: id, Name: name, Customer: customer, CreatedAt: now}, nil
}

// GetJob returns one job or ErrNotFound.
func (s *Store) GetJob(id int64) (*model.Job, error) {
	row := s.db.QueryRow("SELECT id, name, customer, created_at FROM jobs WHERE id = ?", id)
	return scanJob(row)
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]*model.Job, error) {
	rows, err := s.db.Query("SELECT id, name, customer, created_at FROM jobs ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJob applies non-nil fields.
func (s *Store) UpdateJob(id int64, name, customer *string) (*model.Job, error) {
	s.mu.Lock()
	var sets []string
	var args []interface{}
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if customer != nil {
		sets = append(sets, "customer = ?")
		args = append(args, nullString(*customer))
	}
	if len(sets) > 0 {
		args = append(args, id)
		if _, err := s.db.Exec("UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()
	return s.GetJob(id)
}

// DeleteJob removes a job with its devices, runs, run records and events.
func (s *Store) DeleteJob(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmts := []string{
		"DELETE FROM event_logs WHERE run_id IN (SELECT id FROM runs WHERE job_id = ?)",
		"DELETE FROM run_devices WHERE run_id IN (SELECT id FROM runs WHERE job_id = ?)",
		"DELETE FROM runs WHERE job_id = ?",
		"DELETE FROM devices WHERE job_id = ?",
	}
	for _, q := range stmts {
		if _, err := tx.Exec(q, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	res, err := tx.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return tx.Commit()
}

type jobScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row jobScanner) (*model.Job, error) {
	var j model.Job
	var customer sql.NullString
	var created string
	if err := row.Scan(&j.ID, &j.Name, &customer, &created); err != nil {
		return nil, err
	}
	j.Customer = customer.String
	j.CreatedAt = parseTime(created)
	return &j, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

// CreateDevice inserts a device.
func (s *Store) CreateDevice(d *model.Device) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Status == "" {
		d.Status = "pending"
	}
	res, err := s.db.Exec(`
		INSERT INTO devices (job_id, port, vendor, model, hostname, mgmt_ip, mask, gateway, mgmt_vlan, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.JobID, nullInt(d.Port), nullString(d.Vendor), nullString(d.Model),
		d.Hostname, d.MgmtIP, d.Mask, d.Gateway, nullInt(d.MgmtVLAN), d.Status,
	)
	if err != nil {
		return nil, err
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetDevice returns one device or ErrNotFound.
func (s *Store) GetDevice(id int64) (*model.Device, error) {
	row := s.db.QueryRow(
		"SELECT id, job_id, port, vendor, model, hostname, mgmt_ip, mask, gateway, mgmt_vlan, status FROM devices WHERE id = ?", id)
	return scanDevice(row)
}

// ListDevicesByJob returns all devices of a job in insertion order.
func (s *Store) ListDevicesByJob(jobID int64) ([]*model.Device, error) {
	rows, err := s.db.Query(
		"SELECT id, job_id, port, vendor, model, hostname, mgmt_ip, mask, gateway, mgmt_vlan, status FROM devices WHERE job_id = ? ORDER BY id", jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeviceUpdate carries a partial device update; nil fields are untouched.
type DeviceUpdate struct {
	Port     *int
	Vendor   *string
	Model    *string
	Hostname *string
	MgmtIP   *string
	Mask     *string
	Gateway  *string
	MgmtVLAN *int
	Status   *string
}

// UpdateDevice applies non-nil fields and returns the updated row.
func (s *Store) UpdateDevice(id int64, u *DeviceUpdate) (*model.Device, error) {
	s.mu.Lock()
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Port != nil {
		add("port", nullInt(*u.Port))
	}
	if u.Vendor != nil {
		add("vendor", nullString(*u.Vendor))
	}
	if u.Model != nil {
		add("model", nullString(*u.Model))
	}
	if u.Hostname != nil {
		add("hostname", *u.Hostname)
	}
	if u.MgmtIP != nil {
		add("mgmt_ip", *u.MgmtIP)
	}
	if u.Mask != nil {
		add("mask", *u.Mask)
	}
	if u.Gateway != nil {
		add("gateway", *u.Gateway)
	}
	if u.MgmtVLAN != nil {
		add("mgmt_vlan", nullInt(*u.MgmtVLAN))
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if len(sets) > 0 {
		args = append(args, id)
		if _, err := s.db.Exec("UPDATE devices SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()
	return s.GetDevice(id)
}

// DeleteDevice removes one device.
func (s *Store) DeleteDevice(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PortsInUse returns the set of serial ports currently assigned to any
// device in the store.
func (s *Store) PortsInUse() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT DISTINCT port FROM devices WHERE port IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		used[p] = true
	}
	return used, rows.Err()
}

func scanDevice(row jobScanner) (*model.Device, error) {
	var d model.Device
	var port, vlan sql.NullInt64
	var vendor, mdl sql.NullString
	if err := row.Scan(&d.ID, &d.JobID, &port, &vendor, &mdl, &d.Hostname, &d.MgmtIP, &d.Mask, &d.Gateway, &vlan, &d.Status); err != nil {
		return nil, err
	}
	d.Port = int(port.Int64)
	d.Vendor = vendor.String
	d.Model = mdl.String
	d.MgmtVLAN = int(vlan.Int64)
	return &d, nil
}
