// Package migration manages the lifecycle of the business index: creating
// it from the schema, updating its mapping in place, recreating it, and
// checking that a live index still carries the fields searches rely on.
package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/schema"
)

// Action records what Migrate did.
type Action string

const (
	ActionCreated        Action = "created"
	ActionRecreated      Action = "recreated"
	ActionMappingUpdated Action = "mapping-updated"
	ActionSkipped        Action = "skipped"
	// ActionExists means the index was left alone because no option asked
	// to change it.
	ActionExists Action = "exists"
)

// Options select how an existing index is treated. SkipIfExists wins over
// DeleteExisting, which wins over UpdateMapping.
type Options struct {
	DeleteExisting bool
	SkipIfExists   bool
	UpdateMapping  bool
}

// Report describes the state of a live index.
type Report struct {
	Index         string   `json:"index"`
	Exists        bool     `json:"exists"`
	MissingFields []string `json:"missingFields,omitempty"`
	ClusterStatus string   `json:"clusterStatus,omitempty"`
}

// OK reports whether the index exists with every required field.
func (r Report) OK() bool {
	return r.Exists && len(r.MissingFields) == 0
}

// Migrator applies the schema to one index.
type Migrator struct {
	engine   engine.Engine
	index    string
	shards   int
	replicas int
	logger   *slog.Logger
}

// New creates a Migrator for index.
func New(e engine.Engine, index string, shards, replicas int) *Migrator {
	if index == "" {
		index = schema.DefaultIndexName
	}
	return &Migrator{
		engine:   e,
		index:    index,
		shards:   shards,
		replicas: replicas,
		logger:   slog.Default().With("component", "index-migration", "index", index),
	}
}

// Migrate creates the index, or applies opts when it already exists. A
// freshly created index is verified before Migrate returns.
func (m *Migrator) Migrate(ctx context.Context, opts Options) (Action, error) {
	exists, err := m.engine.IndexExists(ctx, m.index)
	if err != nil {
		return "", fmt.Errorf("checking index %s: %w", m.index, err)
	}

	action := ActionCreated
	if exists {
		switch {
		case opts.SkipIfExists:
			m.logger.Info("index exists, skipping migration")
			return ActionSkipped, nil
		case opts.DeleteExisting:
			m.logger.Warn("deleting existing index")
			if err := m.engine.DeleteIndex(ctx, m.index); err != nil {
				return "", fmt.Errorf("deleting index %s: %w", m.index, err)
			}
			action = ActionRecreated
		case opts.UpdateMapping:
			if err := m.engine.UpdateMapping(ctx, m.index, schema.Mappings()); err != nil {
				return "", fmt.Errorf("updating mapping of %s: %w", m.index, err)
			}
			m.logger.Info("index mapping updated")
			return ActionMappingUpdated, nil
		default:
			m.logger.Info("index exists, set delete-existing to recreate it")
			return ActionExists, nil
		}
	}

	if err := m.engine.CreateIndex(ctx, m.index, schema.Definition(m.shards, m.replicas)); err != nil {
		return "", fmt.Errorf("creating index %s: %w", m.index, err)
	}
	m.logger.Info("index created")

	report, err := m.Verify(ctx)
	if err != nil {
		return "", err
	}
	if !report.OK() {
		return "", fmt.Errorf("index %s created without required fields %v", m.index, report.MissingFields)
	}
	m.logger.Info("index migration completed", "action", action, "cluster_status", report.ClusterStatus)
	return action, nil
}

// Verify inspects the live index. Only engine errors are returned as
// errors; a missing index or field is reported through Report.
func (m *Migrator) Verify(ctx context.Context) (Report, error) {
	report := Report{Index: m.index}
	if health, err := m.engine.Health(ctx); err != nil {
		m.logger.Warn("reading cluster health", "error", err)
	} else {
		report.ClusterStatus = health.Status
	}

	exists, err := m.engine.IndexExists(ctx, m.index)
	if err != nil {
		return report, fmt.Errorf("checking index %s: %w", m.index, err)
	}
	if !exists {
		m.logger.Warn("index does not exist")
		return report, nil
	}
	report.Exists = true

	mapping, err := m.engine.GetMapping(ctx, m.index)
	if err != nil {
		return report, fmt.Errorf("reading mapping of %s: %w", m.index, err)
	}
	properties, _ := mapping["properties"].(map[string]any)
	report.MissingFields = schema.MissingFields(properties)
	if len(report.MissingFields) > 0 {
		m.logger.Warn("index mapping is missing required fields", "missing", report.MissingFields)
	} else {
		m.logger.Info("index verification passed")
	}
	return report, nil
}

// Rollback deletes the index.
func (m *Migrator) Rollback(ctx context.Context) error {
	m.logger.Warn("rolling back index")
	if err := m.engine.DeleteIndex(ctx, m.index); err != nil {
		return fmt.Errorf("deleting index %s: %w", m.index, err)
	}
	return nil
}
