// Package store persists detector histories of simulation runs in sqlite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/lanedetect/internal/area"
	"github.com/banshee-data/lanedetect/internal/loop"
)

// Store is a sqlite database of simulation runs.
type Store struct {
	*sql.DB
}

// Run is one simulation run.
type Run struct {
	ID          string
	Scenario    string
	StartedAt   time.Time
	SimDuration time.Duration
}

// Open opens or creates the database at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateRun inserts a run for scenario and returns its id.
func (s *Store) CreateRun(scenario string) (string, error) {
	id := uuid.New().String()
	if _, err := s.Exec(`INSERT INTO runs (run_id, scenario) VALUES (?, ?)`, id, scenario); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// FinishRun records the simulated length of a run.
func (s *Store) FinishRun(runID string, simDuration time.Duration) error {
	res, err := s.Exec(`UPDATE runs SET sim_duration_ns = ? WHERE run_id = ?`, int64(simDuration), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// Runs lists runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.Query(`SELECT run_id, scenario, started_at, sim_duration_ns FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var ns int64
		var started any
		if err := rows.Scan(&r.ID, &r.Scenario, &started, &ns); err != nil {
			return nil, err
		}
		r.StartedAt = parseTimestamp(started)
		r.SimDuration = time.Duration(ns)
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseTimestamp accepts the driver's time.Time or sqlite's text form of
// CURRENT_TIMESTAMP.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.DateTime, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// InsertLoopRecords stores the aggregated periods of one loop detector.
// Float values that are NaN or infinite are stored as NULL; other value
// types are stored as JSON.
func (s *Store) InsertLoopRecords(runID, detectorID string, records []loop.Record) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	periodStmt, err := tx.Prepare(`INSERT INTO loop_periods (run_id, detector_id, period, start_ns, end_ns, flow_veh_s, partial) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer periodStmt.Close()
	valueStmt, err := tx.Prepare(`INSERT INTO loop_values (run_id, detector_id, period, name, value, value_json) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer valueStmt.Close()

	for _, r := range records {
		if _, err := periodStmt.Exec(runID, detectorID, r.Period, int64(r.Start), int64(r.End), r.Flow, r.Partial); err != nil {
			return fmt.Errorf("failed to insert period %d of %s: %w", r.Period, detectorID, err)
		}
		for name, v := range r.Values {
			num, raw, err := encodeValue(v)
			if err != nil {
				return fmt.Errorf("%s period %d %q: %w", detectorID, r.Period, name, err)
			}
			if _, err := valueStmt.Exec(runID, detectorID, r.Period, name, num, raw); err != nil {
				return fmt.Errorf("failed to insert value %q of %s: %w", name, detectorID, err)
			}
		}
	}
	return tx.Commit()
}

func encodeValue(v any) (sql.NullFloat64, sql.NullString, error) {
	if f, ok := v.(float64); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return sql.NullFloat64{}, sql.NullString{}, nil
		}
		return sql.NullFloat64{Float64: f, Valid: true}, sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullFloat64{}, sql.NullString{}, err
	}
	return sql.NullFloat64{}, sql.NullString{String: string(b), Valid: true}, nil
}

// LoopRecords reads back the periods of a loop detector in period order.
// Values stored as NULL read back as NaN and JSON values as
// json.RawMessage.
func (s *Store) LoopRecords(runID, detectorID string) ([]loop.Record, error) {
	rows, err := s.Query(`SELECT period, start_ns, end_ns, flow_veh_s, partial FROM loop_periods WHERE run_id = ? AND detector_id = ? ORDER BY period`, runID, detectorID)
	if err != nil {
		return nil, err
	}
	var out []loop.Record
	index := make(map[int]int)
	for rows.Next() {
		var r loop.Record
		var start, end int64
		if err := rows.Scan(&r.Period, &start, &end, &r.Flow, &r.Partial); err != nil {
			rows.Close()
			return nil, err
		}
		r.Start, r.End = time.Duration(start), time.Duration(end)
		r.Values = make(map[string]any)
		index[r.Period] = len(out)
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := s.Query(`SELECT period, name, value, value_json FROM loop_values WHERE run_id = ? AND detector_id = ?`, runID, detectorID)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var period int
		var name string
		var num sql.NullFloat64
		var raw sql.NullString
		if err := vrows.Scan(&period, &name, &num, &raw); err != nil {
			return nil, err
		}
		i, ok := index[period]
		if !ok {
			continue
		}
		switch {
		case num.Valid:
			out[i].Values[name] = num.Float64
		case raw.Valid:
			out[i].Values[name] = json.RawMessage(raw.String)
		default:
			out[i].Values[name] = math.NaN()
		}
	}
	return out, vrows.Err()
}

// InsertSnapshots stores the non-periodic measurement values of a loop
// detector as JSON, replacing earlier snapshots of the same run.
func (s *Store) InsertSnapshots(runID, detectorID string, snapshots map[string]any) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for name, v := range snapshots {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s snapshot %q: %w", detectorID, name, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO loop_snapshots (run_id, detector_id, name, value_json) VALUES (?, ?, ?, ?)`,
			runID, detectorID, name, string(b)); err != nil {
			return fmt.Errorf("failed to insert snapshot %q of %s: %w", name, detectorID, err)
		}
	}
	return tx.Commit()
}

// Snapshot decodes a stored snapshot into dst.
func (s *Store) Snapshot(runID, detectorID, name string, dst any) error {
	var raw string
	err := s.QueryRow(`SELECT value_json FROM loop_snapshots WHERE run_id = ? AND detector_id = ? AND name = ?`,
		runID, detectorID, name).Scan(&raw)
	if err != nil {
		return fmt.Errorf("snapshot %s/%s %q: %w", runID, detectorID, name, err)
	}
	return json.Unmarshal([]byte(raw), dst)
}

// InsertTransitions appends area occupancy transitions. Sequence numbers
// continue from those already stored for each detector.
func (s *Store) InsertTransitions(runID string, transitions []area.Transition) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	next := make(map[string]int)
	for _, tr := range transitions {
		seq, ok := next[tr.DetectorID]
		if !ok {
			if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM area_transitions WHERE run_id = ? AND detector_id = ?`,
				runID, tr.DetectorID).Scan(&seq); err != nil {
				return err
			}
		}
		seq++
		next[tr.DetectorID] = seq
		if _, err := tx.Exec(`INSERT INTO area_transitions (run_id, detector_id, seq, time_ns, occupied) VALUES (?, ?, ?, ?, ?)`,
			runID, tr.DetectorID, seq, int64(tr.Time), tr.Occupied); err != nil {
			return fmt.Errorf("failed to insert transition of %s: %w", tr.DetectorID, err)
		}
	}
	return tx.Commit()
}

// Transitions reads back the transitions of an area detector in order.
func (s *Store) Transitions(runID, detectorID string) ([]area.Transition, error) {
	rows, err := s.Query(`SELECT time_ns, occupied FROM area_transitions WHERE run_id = ? AND detector_id = ? ORDER BY seq`, runID, detectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []area.Transition
	for rows.Next() {
		tr := area.Transition{DetectorID: detectorID}
		var ns int64
		if err := rows.Scan(&ns, &tr.Occupied); err != nil {
			return nil, err
		}
		tr.Time = time.Duration(ns)
		out = append(out, tr)
	}
	return out, rows.Err()
}
