// Package gendb records training runs, their scalar metrics, and generated
// clouds in a sqlite database so runs can be compared after the fact.
package gendb

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/shapegen/internal/gen/dataset"
)

//go:embed schema.sql
var schemaSQL string

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init run schema: %w", err)
	}
	return &DB{db}, nil
}

// StartRun records a new run with its JSON-encoded config and returns the
// run ID.
func (db *DB) StartRun(config any, notes string) (string, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal run config: %w", err)
	}
	runID := uuid.New().String()
	if _, err := db.Exec(`INSERT INTO runs (run_id, config, notes) VALUES (?, ?, ?)`,
		runID, string(cfg), notes); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// RecordMetric stores one scalar observation.
func (db *DB) RecordMetric(runID, name string, step int, value float64) error {
	_, err := db.Exec(`INSERT INTO metrics (run_id, name, step, value) VALUES (?, ?, ?, ?)`,
		runID, name, step, value)
	return err
}

// MetricPoint is one stored scalar.
type MetricPoint struct {
	Step  int
	Value float64
}

// Metrics returns the series for one metric of one run, ordered by step.
func (db *DB) Metrics(runID, name string) ([]MetricPoint, error) {
	rows, err := db.Query(
		`SELECT step, value FROM metrics WHERE run_id = ? AND name = ? ORDER BY step`,
		runID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []MetricPoint
	for rows.Next() {
		var p MetricPoint
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// RecordSample stores one generated cloud with the pose it was conditioned
// on, returning the sample ID.
func (db *DB) RecordSample(runID string, step int, viewAngle, yaw float64, points []dataset.Point) (string, error) {
	sampleID := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO samples (sample_id, run_id, step, view_angle, yaw, num_points, points)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sampleID, runID, step, viewAngle, yaw, len(points), dataset.EncodePointBlob(points))
	if err != nil {
		return "", fmt.Errorf("insert sample: %w", err)
	}
	return sampleID, nil
}

// Sample loads one generated cloud by ID.
func (db *DB) Sample(sampleID string) ([]dataset.Point, error) {
	var blob []byte
	err := db.QueryRow(`SELECT points FROM samples WHERE sample_id = ?`, sampleID).Scan(&blob)
	if err != nil {
		return nil, err
	}
	return dataset.DecodePointBlob(blob)
}

// Sink adapts a run to the metric-sink interface the training loop emits
// into. Write failures are logged, not propagated; a flaky disk should not
// kill a long run.
type Sink struct {
	db    *DB
	runID string
}

// NewSink returns a sink recording into runID.
func (db *DB) NewSink(runID string) *Sink {
	return &Sink{db: db, runID: runID}
}

func (s *Sink) Scalar(name string, value float64, step int) {
	if err := s.db.RecordMetric(s.runID, name, step, value); err != nil {
		log.Printf("record metric %s: %v", name, err)
	}
}
