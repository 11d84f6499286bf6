// Package postgres implements store.EntityStore over the canonical business
// table in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/postgres"
)

// Store reads business entities. It expects a table shaped like:
//
//	CREATE TABLE businesses (
//	    id              TEXT PRIMARY KEY,
//	    name            TEXT,
//	    canonical_name  TEXT,
//	    alternate_names TEXT[],
//	    description     TEXT,
//	    industry        TEXT,
//	    location        TEXT,
//	    latitude        NUMERIC,
//	    longitude       NUMERIC,
//	    revenue         NUMERIC,
//	    employees       NUMERIC,
//	    hiring          NUMERIC,
//	    tech_stack      TEXT[],
//	    industry_tags   TEXT[],
//	    specializations TEXT[],
//	    business_type   TEXT,
//	    business_mode   TEXT,
//	    ownership       TEXT,
//	    revenue_band    TEXT,
//	    employee_band   TEXT,
//	    metadata        JSONB,
//	    tenant_id       TEXT,
//	    organization_id TEXT,
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db     *postgres.Client
	table  string
	logger *slog.Logger
}

var _ store.EntityStore = (*Store)(nil)

// New creates a Store reading from table (default "businesses").
func New(db *postgres.Client, table string) *Store {
	if table == "" {
		table = "businesses"
	}
	return &Store{
		db:     db,
		table:  pq.QuoteIdentifier(table),
		logger: slog.Default().With("component", "entity-store"),
	}
}

const selectColumns = `id, COALESCE(name, ''), COALESCE(canonical_name, ''),
	COALESCE(alternate_names, '{}'), COALESCE(description, ''), COALESCE(industry, ''),
	COALESCE(location, ''), COALESCE(latitude::text, ''), COALESCE(longitude::text, ''),
	COALESCE(revenue::text, ''), COALESCE(employees::text, ''), COALESCE(hiring::text, ''),
	COALESCE(tech_stack, '{}'), COALESCE(industry_tags, '{}'), COALESCE(specializations, '{}'),
	COALESCE(business_type, ''), COALESCE(business_mode, ''), COALESCE(ownership, ''),
	COALESCE(revenue_band, ''), COALESCE(employee_band, ''), metadata,
	COALESCE(tenant_id, ''), COALESCE(organization_id, ''), updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (store.Entity, error) {
	var (
		e                                  store.Entity
		lat, lon, revenue, employees, hire string
		metadata                           []byte
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.CanonicalName,
		pq.Array(&e.AlternateNames), &e.Description, &e.Industry,
		&e.Location, &lat, &lon,
		&revenue, &employees, &hire,
		pq.Array(&e.TechStack), pq.Array(&e.IndustryTags), pq.Array(&e.Specializations),
		&e.BusinessType, &e.BusinessMode, &e.Ownership,
		&e.RevenueBand, &e.EmployeeBand, &metadata,
		&e.TenantID, &e.OrganizationID, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	e.Latitude = store.Numeric(lat)
	e.Longitude = store.Numeric(lon)
	e.Revenue = store.Numeric(revenue)
	e.Employees = store.Numeric(employees)
	e.Hiring = store.Numeric(hire)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("decoding metadata for %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// FindByID returns nil, nil if the entity does not exist.
func (s *Store) FindByID(ctx context.Context, id string) (*store.Entity, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM `+s.table+` WHERE id = $1`,
		id,
	)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity %s: %w", id, err)
	}
	return &e, nil
}

// FindPage returns entities ordered by id so that consecutive pages do not
// overlap while the table is stable.
func (s *Store) FindPage(ctx context.Context, scope store.Scope, offset, limit int) ([]store.Entity, error) {
	var entities []store.Entity
	err := s.db.Snapshot(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+selectColumns+` FROM `+s.table+`
			 WHERE ($1 = '' OR tenant_id = $1)
			 ORDER BY id
			 LIMIT $2 OFFSET $3`,
			scope.TenantID, limit, offset,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntity(rows)
			if err != nil {
				return fmt.Errorf("scanning entity row: %w", err)
			}
			entities = append(entities, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("querying entity page at offset %d: %w", offset, err)
	}
	s.logger.Debug("entity page loaded", "offset", offset, "limit", limit, "count", len(entities), "tenant_id", scope.TenantID)
	return entities, nil
}

// Count returns the number of entities in scope.
func (s *Store) Count(ctx context.Context, scope store.Scope) (int, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+s.table+` WHERE ($1 = '' OR tenant_id = $1)`,
		scope.TenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting entities: %w", err)
	}
	return n, nil
}
