package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"clipmill/internal/batch"

	"github.com/jackc/pgx/v5/pgconn"
)

const schema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	progress       INT NOT NULL,
	items          INT NOT NULL,
	variants       INT NOT NULL,
	successes      INT NOT NULL DEFAULT 0,
	failures       INT NOT NULL DEFAULT 0,
	options_json   JSONB NOT NULL,
	manifests_json JSONB,
	error_text     TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS batch_results (
	job_id          TEXT NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
	variant         INT NOT NULL,
	ordinal         INT NOT NULL,
	source_name     TEXT NOT NULL,
	destination_url TEXT,
	caption         TEXT,
	hashtags        TEXT[],
	stage           TEXT,
	message         TEXT,
	attempts        INT NOT NULL,
	PRIMARY KEY (job_id, variant, ordinal)
);
`

// execer is the subset of *pgxpool.Pool used here.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink archives jobs in batch_jobs / batch_results. It writes on
// status changes only; per-item progress stays in Redis.
type PostgresSink struct {
	db execer

	mu   sync.Mutex
	last map[string]batch.Status
}

func NewPostgresSink(db execer) *PostgresSink {
	return &PostgresSink{db: db, last: make(map[string]batch.Status)}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

func (s *PostgresSink) Save(ctx context.Context, snap batch.Snapshot) error {
	if !s.changed(snap) {
		return nil
	}

	if err := s.upsertJob(ctx, snap); err != nil {
		if isUndefinedTable(err) {
			return fmt.Errorf("batch_jobs missing, run EnsureSchema: %w", err)
		}
		return err
	}
	if snap.Status.Terminal() {
		return s.replaceResults(ctx, snap)
	}
	return nil
}

func (s *PostgresSink) changed(snap batch.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last[snap.ID] == snap.Status {
		return false
	}
	if snap.Status.Terminal() {
		delete(s.last, snap.ID)
	} else {
		s.last[snap.ID] = snap.Status
	}
	return true
}

func (s *PostgresSink) upsertJob(ctx context.Context, snap batch.Snapshot) error {
	opts, err := json.Marshal(snap.Options)
	if err != nil {
		return err
	}
	var manifests any
	if len(snap.Manifests) > 0 {
		raw, err := json.Marshal(snap.Manifests)
		if err != nil {
			return err
		}
		manifests = string(raw)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO batch_jobs (id, status, progress, items, variants, successes, failures,
		                        options_json, manifests_json, error_text, created_at, updated_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			progress=EXCLUDED.progress,
			successes=EXCLUDED.successes,
			failures=EXCLUDED.failures,
			manifests_json=EXCLUDED.manifests_json,
			error_text=EXCLUDED.error_text,
			updated_at=EXCLUDED.updated_at,
			finished_at=EXCLUDED.finished_at
	`,
		snap.ID, string(snap.Status), snap.Progress, snap.Items, snap.Options.VariantCount,
		snap.Successes(), len(snap.Errors),
		string(opts), manifests, nullIfEmpty(snap.Error),
		snap.CreatedAt, snap.UpdatedAt, snap.FinishedAt,
	)
	return err
}

func (s *PostgresSink) replaceResults(ctx context.Context, snap batch.Snapshot) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM batch_results WHERE job_id=$1`, snap.ID); err != nil {
		return err
	}

	const insert = `
		INSERT INTO batch_results (job_id, variant, ordinal, source_name, destination_url,
		                           caption, hashtags, stage, message, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	for _, r := range snap.Results {
		if _, err := s.db.Exec(ctx, insert,
			snap.ID, r.Variant, r.Ordinal, r.SourceName, r.DestinationURL,
			r.Caption, r.Hashtags, nil, nil, r.Attempts,
		); err != nil {
			return fmt.Errorf("insert result v%d/%d: %w", r.Variant, r.Ordinal, err)
		}
	}
	for _, e := range snap.Errors {
		if _, err := s.db.Exec(ctx, insert,
			snap.ID, e.Variant, e.Ordinal, e.SourceName, nil,
			nil, nil, e.Stage, e.Message, e.Attempts,
		); err != nil {
			return fmt.Errorf("insert failure v%d/%d: %w", e.Variant, e.Ordinal, err)
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// 42P01 = undefined_table
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return false
}
