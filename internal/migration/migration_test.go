package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine/enginetest"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/schema"
)

const index = "test_index"

func seeded(t *testing.T) *enginetest.Fake {
	t.Helper()
	fake := enginetest.New()
	require.NoError(t, fake.CreateIndex(context.Background(), index, map[string]any{
		"mappings": map[string]any{"properties": map[string]any{"id": map[string]any{"type": "keyword"}}},
	}))
	fake.Docs[index]["b-1"] = map[string]any{"id": "b-1"}
	return fake
}

func TestMigrateCreatesIndex(t *testing.T) {
	fake := enginetest.New()
	m := New(fake, index, 2, 1)

	action, err := m.Migrate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, action)
	assert.Equal(t, schema.Definition(2, 1), fake.Indices[index])

	report, err := m.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, "green", report.ClusterStatus)
}

func TestMigrateExistingIndex(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		want     Action
		keepDocs bool
		fullMap  bool
	}{
		{"no options", Options{}, ActionExists, true, false},
		{"skip wins over delete", Options{SkipIfExists: true, DeleteExisting: true}, ActionSkipped, true, false},
		{"delete wins over update", Options{DeleteExisting: true, UpdateMapping: true}, ActionRecreated, false, true},
		{"update mapping", Options{UpdateMapping: true}, ActionMappingUpdated, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := seeded(t)
			m := New(fake, index, 1, 0)

			action, err := m.Migrate(context.Background(), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, action)
			assert.Equal(t, tt.keepDocs, fake.DocCount(index) == 1)

			report, err := m.Verify(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.fullMap, report.OK(), "missing %v", report.MissingFields)
		})
	}
}

func TestVerifyReportsMissingFields(t *testing.T) {
	m := New(seeded(t), index, 1, 0)

	report, err := m.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Exists)
	assert.NotContains(t, report.MissingFields, schema.FieldID)
	assert.Contains(t, report.MissingFields, schema.FieldName)
	assert.False(t, report.OK())
}

func TestVerifyMissingIndex(t *testing.T) {
	report, err := New(enginetest.New(), index, 1, 0).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Exists)
	assert.False(t, report.OK())
}

func TestMigrateCreateError(t *testing.T) {
	fake := enginetest.New()
	fake.CreateErr = errors.New("cluster read-only")

	_, err := New(fake, index, 1, 0).Migrate(context.Background(), Options{})
	assert.ErrorContains(t, err, "cluster read-only")
}

func TestRollback(t *testing.T) {
	fake := seeded(t)
	m := New(fake, index, 1, 0)

	require.NoError(t, m.Rollback(context.Background()))
	exists, err := fake.IndexExists(context.Background(), index)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, m.Rollback(context.Background()))
}
