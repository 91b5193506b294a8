package store

import (
	"database/sql"
	"errors"
	"time"
)

// PredictionStatus is the outcome of a batch submission.
type PredictionStatus string

const (
	StatusOK      PredictionStatus = "ok"
	StatusFailed  PredictionStatus = "failed"
	StatusTimeout PredictionStatus = "timeout"
)

// Prediction is one submitted batch and what the prediction service answered.
type Prediction struct {
	ID        string
	SessionID string
	Mode      string
	Endpoint  string
	Frames    int
	Label     string
	Sentence  string
	Status    PredictionStatus
	Error     string
	LatencyMs int64
	CreatedAt time.Time
}

// PredictionRepository provides operations on the prediction history.
type PredictionRepository struct {
	db *sql.DB
}

// Predictions returns the prediction repository for this store.
func (s *Store) Predictions() *PredictionRepository {
	return &PredictionRepository{db: s.db}
}

// Create inserts a prediction record.
func (r *PredictionRepository) Create(p *Prediction) error {
	p.CreatedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO predictions (id, session_id, mode, endpoint, frames, label, sentence, status, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Mode, p.Endpoint, p.Frames, p.Label, p.Sentence,
		string(p.Status), p.Error, p.LatencyMs, p.CreatedAt,
	)
	return err
}

const predictionColumns = `id, session_id, mode, endpoint, frames, label, sentence, status, error, latency_ms, created_at`

func scanPrediction(row interface{ Scan(...any) error }) (*Prediction, error) {
	p := &Prediction{}
	var status string

	err := row.Scan(&p.ID, &p.SessionID, &p.Mode, &p.Endpoint, &p.Frames, &p.Label,
		&p.Sentence, &status, &p.Error, &p.LatencyMs, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = PredictionStatus(status)
	return p, nil
}

// GetByID retrieves a prediction by its ID.
func (r *PredictionRepository) GetByID(id string) (*Prediction, error) {
	p, err := scanPrediction(r.db.QueryRow(
		`SELECT `+predictionColumns+` FROM predictions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns the most recent predictions, newest first.
// A limit less than or equal to 0 returns every prediction.
func (r *PredictionRepository) List(limit int) ([]*Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(query, args...)
}

// ListBySession returns a session's predictions in submission order.
func (r *PredictionRepository) ListBySession(sessionID string) ([]*Prediction, error) {
	return r.query(
		`SELECT `+predictionColumns+` FROM predictions WHERE session_id = ? ORDER BY created_at, rowid`,
		sessionID,
	)
}

func (r *PredictionRepository) query(query string, args ...any) ([]*Prediction, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return predictions, nil
}

// DeleteBefore removes predictions created before the given time and
// returns how many were removed.
func (r *PredictionRepository) DeleteBefore(t time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM predictions WHERE created_at < ?`, t)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
