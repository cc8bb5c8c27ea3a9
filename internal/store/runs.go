// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"grimm.is/switchboot/internal/model"
)

// CreateRun inserts a run in RUNNING state.
func (s *Store) CreateRun(jobID int64, parallelism int) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO runs (job_id, started_at, status, parallelism) VALUES (?, ?, ?, ?)",
		jobID, formatTime(now), model.RunStatusRunning, parallelism,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Run{
		ID:          id,
		JobID:       jobID,
		StartedAt:   now,
		Status:      model.RunStatusRunning,
		Parallelism: parallelism,
	}, nil
}

// GetRun returns one run or ErrNotFound.
func (s *Store) GetRun(id int64) (*model.Run, error) {
	row := s.db.QueryRow(
		"SELECT id, job_id, started_at, finished_at, status, parallelism FROM runs WHERE id = ?", id)

	var r model.Run
	var started string
	var finished sql.NullString
	if err := row.Scan(&r.ID, &r.JobID, &started, &finished, &r.Status, &r.Parallelism); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseNullTime(finished)
	return &r, nil
}

// SetRunStatus writes the run status and stamps finished_at on terminal
// values.
func (s *Store) SetRunStatus(id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == model.RunStatusCompleted || status == model.RunStatusFailed {
		_, err := s.db.Exec(
			"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?",
			status, formatTime(time.Now()), id,
		)
		return err
	}
	_, err := s.db.Exec("UPDATE runs SET status = ? WHERE id = ?", status, id)
	return err
}

// BeginRunDevice creates the PENDING record for a (run, device) pair ahead of
// execution, so a polled run shows every device immediately. Idempotent.
func (s *Store) BeginRunDevice(runID, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO run_devices (run_id, device_id, status) VALUES (?, ?, ?)",
		runID, deviceID, model.RunDeviceStatusPending,
	)
	return err
}

// StatusUpdate carries the optional diagnostics of a run-device transition.
// Empty fields are left as they are.
type StatusUpdate struct {
	ErrorMessage string
	ErrorCode    string
	TemplateHash string
	Tasks        []model.TaskResult
}

// SetRunDeviceStatus upserts the (run, device) record and applies the
// transition rules: started_at is stamped on the first RUNNING write,
// finished_at on VERIFIED/FAILED, and a terminal status is never replaced by
// a non-terminal one. The call is idempotent.
func (s *Store) SetRunDeviceStatus(runID, deviceID int64, status string, upd *StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upd == nil {
		upd = &StatusUpdate{}
	}

	var current sql.NullString
	var started sql.NullString
	err := s.db.QueryRow(
		"SELECT status, started_at FROM run_devices WHERE run_id = ? AND device_id = ?",
		runID, deviceID,
	).Scan(&current, &started)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(
			"INSERT INTO run_devices (run_id, device_id, status) VALUES (?, ?, ?)",
			runID, deviceID, model.RunDeviceStatusPending,
		); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	terminal := current.String == model.RunDeviceStatusVerified || current.String == model.RunDeviceStatusFailed
	if terminal && status != model.RunDeviceStatusVerified && status != model.RunDeviceStatusFailed {
		return nil
	}

	sets := []string{"status = ?"}
	args := []interface{}{status}
	now := formatTime(time.Now())

	if status == model.RunDeviceStatusRunning && !started.Valid {
		sets = append(sets, "started_at = ?")
		args = append(args, now)
	}
	if status == model.RunDeviceStatusVerified || status == model.RunDeviceStatusFailed {
		sets = append(sets, "finished_at = ?")
		args = append(args, now)
	}
	if upd.ErrorMessage != "" {
		sets = append(sets, "error_message = ?")
		args = append(args, upd.ErrorMessage)
	}
	if upd.ErrorCode != "" {
		sets = append(sets, "error_code = ?")
		args = append(args, upd.ErrorCode)
	}
	if upd.TemplateHash != "" {
		sets = append(sets, "template_hash = ?")
		args = append(args, upd.TemplateHash)
	}
	if upd.Tasks != nil {
		data, err := json.Marshal(upd.Tasks)
		if err != nil {
			return err
		}
		sets = append(sets, "tasks = ?")
		args = append(args, string(data))
	}

	args = append(args, runID, deviceID)
	query := "UPDATE run_devices SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE run_id = ? AND device_id = ?"
	_, err = s.db.Exec(query, args...)
	return err
}

// GetRunDevice returns one (run, device) record or ErrNotFound.
func (s *Store) GetRunDevice(runID, deviceID int64) (*model.RunDevice, error) {
	row := s.db.QueryRow(`
		SELECT run_id, device_id, status, started_at, finished_at, error_message, error_code, template_hash, tasks
		FROM run_devices WHERE run_id = ? AND device_id = ?`, runID, deviceID)
	return scanRunDevice(row)
}

// ListRunDevices returns all device records of a run.
func (s *Store) ListRunDevices(runID int64) ([]*model.RunDevice, error) {
	rows, err := s.db.Query(`
		SELECT run_id, device_id, status, started_at, finished_at, error_message, error_code, template_hash, tasks
		FROM run_devices WHERE run_id = ? ORDER BY device_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rds []*model.RunDevice
	for rows.Next() {
		rd, err := scanRunDevice(rows)
		if err != nil {
			return nil, err
		}
		rds = append(rds, rd)
	}
	return rds, rows.Err()
}

func scanRunDevice(row jobScanner) (*model.RunDevice, error) {
	var rd model.RunDevice
	var started, finished, errMsg, errCode, hash, tasks sql.NullString
	if err := row.Scan(&rd.RunID, &rd.DeviceID, &rd.Status, &started, &finished, &errMsg, &errCode, &hash, &tasks); err != nil {
		return nil, err
	}
	rd.StartedAt = parseNullTime(started)
	rd.FinishedAt = parseNullTime(finished)
	rd.ErrorMessage = errMsg.String
	rd.ErrorCode = errCode.String
	rd.TemplateHash = hash.String
	if tasks.Valid && tasks.String != "" {
		// Tasks column holds the JSON task list written at verification.
		_ = json.Unmarshal([]byte(tasks.String), &rd.Tasks)
	}
	return &rd, nil
}

// AppendEvent appends one event to a run's log. Events are never updated or
// deleted while the run exists.
func (s *Store) AppendEvent(ev *model.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO event_logs (run_id, device_id, port, ts, level, message, raw, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, nullInt64(ev.DeviceID), nullInt(ev.Port), formatTime(ev.TS),
		ev.Level, ev.Message, nullString(ev.Raw), nullString(ev.ErrorCode),
	)
	if err != nil {
		return err
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// ListEvents returns a run's events in append order.
func (s *Store) ListEvents(runID int64) ([]*model.EventLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, device_id, port, ts, level, message, raw, error_code
		FROM event_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.EventLog
	for rows.Next() {
		var ev model.EventLog
		var deviceID, port sql.NullInt64
		var ts string
		var raw, errCode sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &deviceID, &port, &ts, &ev.Level, &ev.Message, &raw, &errCode); err != nil {
			return nil, err
		}
		ev.DeviceID = deviceID.Int64
		ev.Port = int(port.Int64)
		ev.TS = parseTime(ts)
		ev.Raw = raw.String
		ev.ErrorCode = errCode.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
