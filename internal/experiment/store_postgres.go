package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, goerr.Wrap(err, "connect postgres")
	}
	if err := initExperimentSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initExperimentSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ab_experiments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			model_type TEXT NOT NULL,
			variant_a TEXT NOT NULL,
			variant_b TEXT NOT NULL,
			split_a DOUBLE PRECISION NOT NULL,
			split_b DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			metrics JSONB NOT NULL DEFAULT '{}'::jsonb,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			start_date TIMESTAMPTZ NULL,
			end_date TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ab_experiments_model_status ON ab_experiments (model_type, status, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS ab_assignments (
			user_id TEXT NOT NULL,
			test_id TEXT NOT NULL REFERENCES ab_experiments(id) ON DELETE CASCADE,
			variant TEXT NOT NULL,
			assigned_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, test_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ab_assignments_test ON ab_assignments (test_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "init experiment schema", goerr.V("stmt", stmt))
		}
	}
	return nil
}

const experimentColumns = `id, name, description, model_type, variant_a, variant_b, split_a, split_b,
	status, metrics, metadata, created_at, start_date, end_date`

func (s *PostgresStore) CreateExperiment(ctx context.Context, exp Experiment) error {
	metrics, metadata, err := encodeJSONColumns(exp)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ab_experiments (`+experimentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		exp.ID,
		exp.Name,
		exp.Description,
		exp.ModelType,
		exp.VariantA,
		exp.VariantB,
		exp.TrafficSplit.A,
		exp.TrafficSplit.B,
		string(exp.Status),
		metrics,
		metadata,
		exp.CreatedAt,
		exp.StartDate,
		exp.EndDate,
	)
	if err != nil {
		return goerr.Wrap(err, "insert experiment", goerr.V("id", exp.ID))
	}
	return nil
}

func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+experimentColumns+` FROM ab_experiments WHERE id=$1`, id)
	exp, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Experiment{}, ErrNotFound
		}
		return Experiment{}, goerr.Wrap(err, "get experiment", goerr.V("id", id))
	}
	return exp, nil
}

func (s *PostgresStore) ListExperiments(ctx context.Context, filter ListFilter) ([]Experiment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+experimentColumns+` FROM ab_experiments
		  WHERE ($1 = '' OR model_type = $1) AND ($2 = '' OR status = $2)
		  ORDER BY created_at DESC, id DESC`,
		filter.ModelType, string(filter.Status),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "list experiments")
	}
	defer rows.Close()

	out := make([]Experiment, 0, 8)
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "scan experiment")
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate experiments")
	}
	return out, nil
}

// UpdateExperiment locks the row for the duration of fn so metric updates on
// one experiment serialize across replicas.
func (s *PostgresStore) UpdateExperiment(ctx context.Context, id string, fn func(*Experiment) error) (Experiment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Experiment{}, goerr.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+experimentColumns+` FROM ab_experiments WHERE id=$1 FOR UPDATE`, id)
	exp, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Experiment{}, ErrNotFound
		}
		return Experiment{}, goerr.Wrap(err, "lock experiment", goerr.V("id", id))
	}
	if err := fn(&exp); err != nil {
		return Experiment{}, err
	}

	metrics, metadata, err := encodeJSONColumns(exp)
	if err != nil {
		return Experiment{}, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE ab_experiments SET status=$2, metrics=$3, metadata=$4, start_date=$5, end_date=$6 WHERE id=$1`,
		exp.ID, string(exp.Status), metrics, metadata, exp.StartDate, exp.EndDate,
	)
	if err != nil {
		return Experiment{}, goerr.Wrap(err, "update experiment", goerr.V("id", id))
	}
	if err := tx.Commit(ctx); err != nil {
		return Experiment{}, goerr.Wrap(err, "commit tx")
	}
	return exp, nil
}

func (s *PostgresStore) InsertAssignment(ctx context.Context, a Assignment) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ab_assignments (user_id, test_id, variant, assigned_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id, test_id) DO NOTHING`,
		a.UserID, a.TestID, string(a.Variant), a.AssignedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "insert assignment", goerr.V("test_id", a.TestID))
	}
	if tag.RowsAffected() == 0 {
		return errAssignmentConflict
	}
	return nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, userID, testID string) (Assignment, error) {
	var (
		a       Assignment
		variant string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, test_id, variant, assigned_at FROM ab_assignments WHERE user_id=$1 AND test_id=$2`,
		userID, testID,
	).Scan(&a.UserID, &a.TestID, &variant, &a.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, goerr.Wrap(err, "get assignment", goerr.V("test_id", testID))
	}
	a.Variant = Variant(variant)
	return a, nil
}

func (s *PostgresStore) CountAssignments(ctx context.Context, testID string) (map[Variant]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT variant, COUNT(*) FROM ab_assignments WHERE test_id=$1 GROUP BY variant`, testID)
	if err != nil {
		return nil, goerr.Wrap(err, "count assignments", goerr.V("test_id", testID))
	}
	defer rows.Close()

	out := map[Variant]int{VariantA: 0, VariantB: 0}
	for rows.Next() {
		var (
			variant string
			n       int
		)
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, goerr.Wrap(err, "scan assignment count")
		}
		out[Variant(variant)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate assignment counts")
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func encodeJSONColumns(exp Experiment) ([]byte, []byte, error) {
	metrics, err := json.Marshal(exp.Metrics)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "encode metrics")
	}
	meta := exp.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "encode metadata")
	}
	return metrics, metadata, nil
}

func scanExperiment(row pgx.Row) (Experiment, error) {
	var (
		exp      Experiment
		status   string
		metrics  []byte
		metadata []byte
	)
	err := row.Scan(
		&exp.ID,
		&exp.Name,
		&exp.Description,
		&exp.ModelType,
		&exp.VariantA,
		&exp.VariantB,
		&exp.TrafficSplit.A,
		&exp.TrafficSplit.B,
		&status,
		&metrics,
		&metadata,
		&exp.CreatedAt,
		&exp.StartDate,
		&exp.EndDate,
	)
	if err != nil {
		return Experiment{}, err
	}
	exp.Status = Status(status)
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &exp.Metrics); err != nil {
			return Experiment{}, goerr.Wrap(err, "decode metrics", goerr.V("id", exp.ID))
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &exp.Metadata); err != nil {
			return Experiment{}, goerr.Wrap(err, "decode metadata", goerr.V("id", exp.ID))
		}
	}
	return exp, nil
}
