// Package store persists experiments and frames in Postgres through
// database/sql and lib/pq.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id          BIGSERIAL PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT 'Untitled',
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'draft',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at  TIMESTAMPTZ,
	ignited_at  TIMESTAMPTZ,
	ended_at    TIMESTAMPTZ,
	serial_port TEXT NOT NULL DEFAULT '',
	baud_rate   INTEGER NOT NULL DEFAULT 115200
);
CREATE INDEX IF NOT EXISTS idx_experiments_status_created
	ON experiments (status, created_at);

CREATE TABLE IF NOT EXISTS frames (
	id            BIGSERIAL PRIMARY KEY,
	experiment_id BIGINT NOT NULL REFERENCES experiments (id) ON DELETE CASCADE,
	second        DOUBLE PRECISION NOT NULL,
	temperature   DOUBLE PRECISION NOT NULL,
	dif_pressure  DOUBLE PRECISION NOT NULL,
	received_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_frames_experiment_second
	ON frames (experiment_id, second);
`

const experimentColumns = "id, title, description, status, created_at, updated_at, started_at, ignited_at, ended_at, serial_port, baud_rate"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) CreateExperiment(ctx context.Context, exp *domain.Experiment) error {
	now := time.Now().UTC()
	if exp.Status == "" {
		exp.Status = domain.StatusDraft
	}
	if exp.Title == "" {
		exp.Title = "Untitled"
	}
	if exp.BaudRate == 0 {
		exp.BaudRate = 115200
	}
	exp.CreatedAt = now
	exp.UpdatedAt = now

	return s.db.QueryRowContext(ctx,
		`INSERT INTO experiments (title, description, status, created_at, updated_at, serial_port, baud_rate)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		exp.Title, exp.Description, exp.Status, exp.CreatedAt, exp.UpdatedAt, exp.SerialPort, exp.BaudRate,
	).Scan(&exp.ID)
}

func (s *PostgresStore) GetExperiment(ctx context.Context, id int64) (*domain.Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+experimentColumns+" FROM experiments WHERE id = $1", id)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	return exp, err
}

func (s *PostgresStore) ListExperiments(ctx context.Context, limit int) ([]*domain.Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+experimentColumns+" FROM experiments ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateExperiment(ctx context.Context, exp *domain.Experiment) error {
	exp.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiments
		 SET title=$1, description=$2, status=$3, updated_at=$4,
		     started_at=$5, ignited_at=$6, ended_at=$7, serial_port=$8, baud_rate=$9
		 WHERE id=$10`,
		exp.Title, exp.Description, exp.Status, exp.UpdatedAt,
		nullTime(exp.StartedAt), nullTime(exp.IgnitedAt), nullTime(exp.EndedAt),
		exp.SerialPort, exp.BaudRate, exp.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// WriteFrames inserts the whole batch as one multi-row statement. This skips
// per-row defaults and triggers on purpose; the batch path trades them for
// throughput.
func (s *PostgresStore) WriteFrames(ctx context.Context, experimentID int64, frames []*domain.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO frames (experiment_id, second, temperature, dif_pressure, received_at) VALUES ")

	args := make([]any, 0, len(frames)*5)
	for i, f := range frames {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5))

		received := f.ReceivedAt
		if received.IsZero() {
			received = time.Now().UTC()
		}
		args = append(args, experimentID, f.Second, f.Temperature, f.DifPressure, received)
	}

	_, err := s.db.ExecContext(ctx, b.String(), args...)
	return err
}

func (s *PostgresStore) CountFrames(ctx context.Context, experimentID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM frames WHERE experiment_id = $1", experimentID).Scan(&n)
	return n, err
}

func (s *PostgresStore) LastFrame(ctx context.Context, experimentID int64) (*domain.Frame, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, second, temperature, dif_pressure, received_at
		 FROM frames WHERE experiment_id = $1
		 ORDER BY second DESC, id DESC LIMIT 1`, experimentID)
	f, err := scanFrame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	return f, err
}

func (s *PostgresStore) RecentFrames(ctx context.Context, experimentID int64, limit int) ([]*domain.Frame, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, second, temperature, dif_pressure, received_at
		 FROM frames WHERE experiment_id = $1
		 ORDER BY second DESC, id DESC LIMIT $2`, experimentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest window, oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(r rowScanner) (*domain.Experiment, error) {
	var (
		exp                     domain.Experiment
		started, ignited, ended sql.NullTime
	)
	err := r.Scan(&exp.ID, &exp.Title, &exp.Description, &exp.Status,
		&exp.CreatedAt, &exp.UpdatedAt, &started, &ignited, &ended,
		&exp.SerialPort, &exp.BaudRate)
	if err != nil {
		return nil, err
	}
	exp.StartedAt = timePtr(started)
	exp.IgnitedAt = timePtr(ignited)
	exp.EndedAt = timePtr(ended)
	return &exp, nil
}

func scanFrame(r rowScanner) (*domain.Frame, error) {
	var f domain.Frame
	err := r.Scan(&f.ID, &f.ExperimentID, &f.Second, &f.Temperature, &f.DifPressure, &f.ReceivedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var (
	_ ports.ExperimentStore = (*PostgresStore)(nil)
	_ ports.FrameStore      = (*PostgresStore)(nil)
)
