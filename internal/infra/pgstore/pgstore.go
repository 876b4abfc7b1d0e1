// Package pgstore implements port.RecordStore on a single Postgres jsonb
// document table, for deployments that talk to the database directly
// instead of through PostgREST.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/infra/resilience"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("pgstore")

// Store provides record access on the records table using sqlx.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db, logger), nil
}

func New(db *sqlx.DB, logger *zap.Logger) *Store { return &Store{db: db, logger: logger} }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureTable creates the records table if not exists (idempotent).
// Prefer migrations in production.
func (s *Store) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
  tbl TEXT NOT NULL,
  id TEXT NOT NULL,
  data JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tbl, id)
);
CREATE INDEX IF NOT EXISTS idx_records_data ON records USING GIN (data jsonb_path_ops);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

type dataRow struct {
	Data []byte `db:"data"`
}

func (s *Store) Get(ctx context.Context, table, id string, out any) error {
	ctx, span := tracer.Start(ctx, "Postgres.Get")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.String("record.id", id))

	var r dataRow
	err := s.db.GetContext(ctx, &r, `SELECT data FROM records WHERE tbl = $1 AND id = $2`, table, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ErrNotFound{Resource: table, ID: id}
	}
	if err != nil {
		return storeError(table, err)
	}
	return decode(r.Data, out)
}

func (s *Store) Filter(ctx context.Context, table string, match map[string]any, out any) error {
	ctx, span := tracer.Start(ctx, "Postgres.Filter")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.Int("filter.fields", len(match)))

	query, args, err := filterSQL(table, match)
	if err != nil {
		return err
	}
	var rows []dataRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return storeError(table, err)
	}
	return decodeRows(rows, out)
}

func (s *Store) List(ctx context.Context, table, sortKey string, out any) error {
	ctx, span := tracer.Start(ctx, "Postgres.List")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.String("sort", sortKey))

	query, args := listSQL(table, sortKey)
	var rows []dataRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return storeError(table, err)
	}
	return decodeRows(rows, out)
}

func (s *Store) Create(ctx context.Context, table string, data map[string]any, out any) error {
	ctx, span := tracer.Start(ctx, "Postgres.Create")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	doc := make(map[string]any, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	id, _ := doc["id"].(string)
	if id == "" {
		id = ksuid.New().String()
		doc["id"] = id
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}

	var r dataRow
	err = s.db.GetContext(ctx, &r,
		`INSERT INTO records (tbl, id, data) VALUES ($1, $2, $3::jsonb) RETURNING data`,
		table, id, string(payload))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &domain.ErrValidation{Field: "id", Message: fmt.Sprintf("%s %s already exists", table, id)}
		}
		return storeError(table, err)
	}
	return decode(r.Data, out)
}

func (s *Store) Update(ctx context.Context, table, id string, patch map[string]any, out any) error {
	ctx, span := tracer.Start(ctx, "Postgres.Update")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.String("record.id", id))

	clean := make(map[string]any, len(patch))
	for k, v := range patch {
		if k != "id" {
			clean[k] = v
		}
	}
	payload, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("encode %s patch: %w", table, err)
	}

	var r dataRow
	err = s.db.GetContext(ctx, &r,
		`UPDATE records SET data = data || $3::jsonb WHERE tbl = $1 AND id = $2 RETURNING data`,
		table, id, string(payload))
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ErrNotFound{Resource: table, ID: id}
	}
	if err != nil {
		return storeError(table, err)
	}
	return decode(r.Data, out)
}

// filterSQL builds an equality filter. Non-nil values are matched with
// jsonb containment; nil values require the key to be absent or null.
func filterSQL(table string, match map[string]any) (string, []any, error) {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	contains := make(map[string]any)
	var nullKeys []string
	for _, k := range keys {
		if match[k] == nil {
			nullKeys = append(nullKeys, k)
			continue
		}
		contains[k] = match[k]
	}

	payload, err := json.Marshal(contains)
	if err != nil {
		return "", nil, fmt.Errorf("encode filter: %w", err)
	}

	var b strings.Builder
	b.WriteString(`SELECT data FROM records WHERE tbl = $1 AND data @> $2::jsonb`)
	args := []any{table, string(payload)}
	for _, k := range nullKeys {
		args = append(args, k)
		fmt.Fprintf(&b, ` AND (data->>$%d) IS NULL`, len(args))
	}
	b.WriteString(` ORDER BY created_at, id`)
	return b.String(), args, nil
}

func listSQL(table, sortKey string) (string, []any) {
	key := strings.TrimSpace(sortKey)
	if key == "" {
		return `SELECT data FROM records WHERE tbl = $1 ORDER BY created_at, id`, []any{table}
	}
	dir := "ASC"
	if strings.HasPrefix(key, "-") {
		dir = "DESC"
		key = strings.TrimPrefix(key, "-")
	}
	return fmt.Sprintf(`SELECT data FROM records WHERE tbl = $1 ORDER BY data->$2 %s NULLS LAST, created_at, id`, dir),
		[]any{table, key}
}

// storeError wraps a database failure for table, surfacing deadline
// expiry as domain.ErrTimeout.
func storeError(table string, err error) error {
	return &domain.ErrExternalService{
		Service: "postgres/" + table,
		Err:     resilience.TranslateTimeout("postgres "+table, err),
	}
}

func decode(data []byte, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func decodeRows(rows []dataRow, out any) error {
	raw := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		raw = append(raw, r.Data)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
