// Package store defines the read-only boundary to the canonical business
// entity store that the search index is derived from.
package store

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
)

// Numeric is a number as stored upstream, kept in its raw textual form until
// a consumer asks for a parsed value.
type Numeric string

// Float parses n. It reports false for empty, non-numeric, NaN and infinite
// values.
func (n Numeric) Float() (float64, bool) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int truncates the parsed value toward zero.
func (n Numeric) Int() (int64, bool) {
	f, ok := n.Float()
	if !ok || f >= 0x1p63 || f < -0x1p63 {
		return 0, false
	}
	return int64(f), true
}

// Entity is a business record as held by the canonical store.
type Entity struct {
	ID              string
	Name            string
	CanonicalName   string
	AlternateNames  []string
	Description     string
	Industry        string
	Location        string
	Latitude        Numeric
	Longitude       Numeric
	Revenue         Numeric
	Employees       Numeric
	Hiring          Numeric
	TechStack       []string
	IndustryTags    []string
	Specializations []string
	BusinessType    string
	BusinessMode    string
	Ownership       string
	RevenueBand     string
	EmployeeBand    string
	Metadata        map[string]any
	TenantID        string
	OrganizationID  string
	UpdatedAt       time.Time
}

// Scope restricts reads to one tenant. The zero Scope covers the whole
// corpus.
type Scope struct {
	TenantID string
}

// EntityStore is the read interface the sync jobs depend on.
type EntityStore interface {
	// FindByID returns nil, nil when no entity has the given id.
	FindByID(ctx context.Context, id string) (*Entity, error)
	// FindPage returns up to limit entities starting at offset, in a stable
	// order.
	FindPage(ctx context.Context, scope Scope, offset, limit int) ([]Entity, error)
	Count(ctx context.Context, scope Scope) (int, error)
}
