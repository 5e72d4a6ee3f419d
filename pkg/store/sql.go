package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Dialect selects the SQL flavor.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore implements Store on database/sql. Postgres gets the three
// logical namespaces as schemas (core, workflow, audit) and row locks via
// SELECT ... FOR UPDATE; SQLite collapses everything into one namespace and
// relies on its single-writer transaction model.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Init creates namespaces and tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	if s.dialect == DialectPostgres {
		for _, ns := range []string{"core", "workflow", "audit"} {
			if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ns); err != nil {
				return fmt.Errorf("create schema %s: %w", ns, err)
			}
		}
	}
	for _, stmt := range s.ddl() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}
	return nil
}

// table resolves a logical table name to its namespaced form.
func (s *SQLStore) table(namespace, name string) string {
	if s.dialect == DialectPostgres {
		return namespace + "." + name
	}
	return name
}

func (s *SQLStore) ddl() []string {
	jsonType := "JSONB"
	if s.dialect == DialectSQLite {
		jsonType = "TEXT"
	}
	core := func(n string) string { return s.table("core", n) }
	wf := func(n string) string { return s.table("workflow", n) }
	aud := func(n string) string { return s.table("audit", n) }

	return []string{
		`CREATE TABLE IF NOT EXISTS ` + core("teams") + ` (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			metadata ` + jsonType + `,
			created_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ` + core("assets") + ` (
			id TEXT PRIMARY KEY,
			fqn TEXT NOT NULL,
			owner_team_id TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			current_contract_id TEXT,
			metadata ` + jsonType + `,
			created_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS assets_live_fqn ON ` + core("assets") + ` (fqn) WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS ` + core("contracts") + ` (
			id TEXT PRIMARY KEY,
			asset_id TEXT NOT NULL,
			version TEXT NOT NULL,
			schema_def ` + jsonType + ` NOT NULL,
			compatibility_mode TEXT NOT NULL,
			guarantees ` + jsonType + `,
			status TEXT NOT NULL,
			published_at TIMESTAMP NOT NULL,
			published_by TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS contracts_asset_status ON ` + core("contracts") + ` (asset_id, status)`,
		`CREATE TABLE IF NOT EXISTS ` + core("registrations") + ` (
			id TEXT PRIMARY KEY,
			asset_id TEXT NOT NULL,
			consumer_team_id TEXT NOT NULL,
			pinned_version TEXT,
			status TEXT NOT NULL,
			registered_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS registrations_asset_status ON ` + core("registrations") + ` (asset_id, status)`,
		`CREATE TABLE IF NOT EXISTS ` + core("dependencies") + ` (
			upstream_asset_id TEXT NOT NULL,
			downstream_asset_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (upstream_asset_id, downstream_asset_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + core("api_keys") + ` (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL,
			name TEXT NOT NULL,
			digest TEXT NOT NULL UNIQUE,
			scope TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			revoked_at TIMESTAMP,
			last_used_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ` + wf("proposals") + ` (
			id TEXT PRIMARY KEY,
			asset_id TEXT NOT NULL,
			base_contract_id TEXT NOT NULL,
			proposed_schema ` + jsonType + ` NOT NULL,
			proposed_version TEXT NOT NULL,
			proposed_mode TEXT NOT NULL,
			proposed_guarantees ` + jsonType + `,
			breaking_changes ` + jsonType + ` NOT NULL,
			change_type TEXT NOT NULL,
			status TEXT NOT NULL,
			expected_ackers ` + jsonType + ` NOT NULL,
			proposed_by TEXT NOT NULL,
			proposed_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS proposals_one_pending ON ` + wf("proposals") + ` (asset_id) WHERE status = 'pending'`,
		`CREATE TABLE IF NOT EXISTS ` + wf("acknowledgments") + ` (
			id TEXT PRIMARY KEY,
			proposal_id TEXT NOT NULL,
			consumer_team_id TEXT NOT NULL,
			response TEXT NOT NULL,
			migration_deadline TIMESTAMP,
			notes TEXT,
			responded_at TIMESTAMP NOT NULL,
			UNIQUE (proposal_id, consumer_team_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + aud("events") + ` (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			payload ` + jsonType + `,
			occurred_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_events_keyset ON ` + aud("events") + ` (occurred_at, id)`,
	}
}

// Begin opens a serialisable transaction.
func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, store: s}, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

type sqlTx struct {
	tx    *sql.Tx
	store *SQLStore
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// q rewrites $n placeholders to ? for SQLite.
func (t *sqlTx) q(query string) string {
	if t.store.dialect == DialectPostgres {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				b.WriteByte('?')
				i = j - 1
				continue
			}
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (t *sqlTx) table(namespace, name string) string { return t.store.table(namespace, name) }

// mapWriteErr converts driver uniqueness violations to ErrDuplicate.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	if strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrDuplicate
	}
	return err
}

func (t *sqlTx) LockAsset(ctx context.Context, assetID uuid.UUID) error {
	query := `SELECT id FROM ` + t.table("core", "assets") + ` WHERE id = $1`
	if t.store.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var id string
	err := t.tx.QueryRowContext(ctx, t.q(query), assetID.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ----- helpers -----

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalJSON[T any](raw sql.NullString) (*T, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func scanUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func scanNullUUID(ns sql.NullString) *uuid.UUID {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil
	}
	return &id
}
