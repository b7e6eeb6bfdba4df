package repo

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/tinoosan/volload/internal/data"
)

// PostgresRepo implements LoadRepo backed by PostgreSQL.
// It expects a table `loads` with a unique index on `fingerprint`.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// DSNFromEnv builds a DSN from component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (volload),
//	POSTGRES_USER (volload), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
func DSNFromEnv() string {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "volload")
	user := getenv("POSTGRES_USER", "volload")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

func (r *PostgresRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS loads (
    id UUID PRIMARY KEY,
    kind TEXT NOT NULL,
    source TEXT NOT NULL,
    strategy TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    slices INTEGER NOT NULL DEFAULT 0,
    written INTEGER NOT NULL DEFAULT 0,
    revision BIGINT NOT NULL DEFAULT 0,
    current_slice INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE
);
`)
	return err
}

const loadColumns = `id,kind,source,strategy,status,slices,written,revision,current_slice,error,created_at,updated_at`

func (r *PostgresRepo) List(ctx context.Context) (data.Loads, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+loadColumns+` FROM loads ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := data.Loads{}
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*data.Load, error) {
	return r.getWhere(ctx, r.db, `id=$1`, id)
}

func (r *PostgresRepo) GetByFingerprint(ctx context.Context, fprint string) (*data.Load, error) {
	return r.getWhere(ctx, r.db, `fingerprint=$1`, fprint)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *PostgresRepo) getWhere(ctx context.Context, q querier, where string, arg any) (*data.Load, error) {
	l, err := scanLoad(q.QueryRowContext(ctx, `SELECT `+loadColumns+` FROM loads WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// AddWithFingerprint implements atomic check-then-insert based on fingerprint.
func (r *PostgresRepo) AddWithFingerprint(ctx context.Context, l *data.Load, fprint string) (*data.Load, bool, error) {
	id := uuid.NewString()
	err := r.db.QueryRowContext(ctx, `
WITH ins AS (
    INSERT INTO loads (`+loadColumns+`,fingerprint)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    ON CONFLICT (fingerprint) DO NOTHING
    RETURNING id
)
SELECT id FROM ins
`, id, string(l.Kind), l.Source, l.Strategy, string(l.Status), l.Slices, l.Written, int64(l.Revision),
		l.Current, l.Error, l.CreatedAt, l.UpdatedAt, fprint).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if err == nil {
		saved, err := r.Get(ctx, id)
		return saved, true, err
	}
	existing, err := r.GetByFingerprint(ctx, fprint)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Update serializes writers on the row with SELECT ... FOR UPDATE.
func (r *PostgresRepo) Update(ctx context.Context, id string, mutate func(*data.Load) error) (*data.Load, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanLoad(tx.QueryRowContext(ctx, `SELECT `+loadColumns+` FROM loads WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
	if *next == *cur {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return cur, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE loads SET strategy=$1, status=$2, slices=$3, written=$4, revision=$5, current_slice=$6, error=$7, updated_at=$8 WHERE id=$9`,
		next.Strategy, string(next.Status), next.Slices, next.Written, int64(next.Revision), next.Current, next.Error, next.UpdatedAt, id); err != nil {
		if isUniqueViolation(err) {
			return nil, data.ErrConflict
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM loads WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanLoad(rs rowScanner) (*data.Load, error) {
	var (
		l                    data.Load
		kind, status         string
		revision             int64
		created, lastUpdated time.Time
	)
	if err := rs.Scan(&l.ID, &kind, &l.Source, &l.Strategy, &status, &l.Slices, &l.Written, &revision,
		&l.Current, &l.Error, &created, &lastUpdated); err != nil {
		return nil, err
	}
	l.Kind = data.LoadKind(kind)
	l.Status = data.LoadStatus(status)
	l.Revision = uint64(revision)
	l.CreatedAt, l.UpdatedAt = created, lastUpdated
	return &l, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ LoadRepo = (*PostgresRepo)(nil)
