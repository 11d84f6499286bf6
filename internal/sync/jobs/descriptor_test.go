package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

const tenant = "0b6f3b8e-52a1-4c55-9d7a-3f2b7f1b9c10"

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr string
	}{
		{"rebuild", Descriptor{Operation: OpRebuild}, ""},
		{"tenant rebuild", Descriptor{Operation: OpRebuild, TenantID: tenant, BatchSize: 500}, ""},
		{"index", Descriptor{Operation: OpIndex, EntityID: "b-1"}, ""},
		{"unknown operation", Descriptor{Operation: "upsert"}, "operation"},
		{"missing entity id", Descriptor{Operation: OpDelete}, "entityId"},
		{"blank entity id", Descriptor{Operation: OpUpdate, EntityID: "  "}, "entityId"},
		{"batch on incremental", Descriptor{Operation: OpIndex, EntityID: "b-1", BatchSize: 10}, "batchSize"},
		{"batch too large", Descriptor{Operation: OpRebuild, BatchSize: 50000}, "batchSize"},
		{"tenant not uuid", Descriptor{Operation: OpRebuild, TenantID: "acme"}, "tenantId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.wantErr)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

func TestDecodeDescriptor(t *testing.T) {
	d, err := DecodeDescriptor(TypeRebuild, []byte(`{"batchSize":250}`))
	require.NoError(t, err)
	assert.Equal(t, OpRebuild, d.Operation)
	assert.Equal(t, RebuildParams{BatchSize: 250}, d.RebuildParams())

	d, err = DecodeDescriptor(TypeIncremental, []byte(`{"operation":"delete","entityId":"b-9"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultEntityType, d.IncrementalParams().EntityType)

	_, err = DecodeDescriptor(TypeIncremental, []byte(`{"operation":"rebuild"}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = DecodeDescriptor(TypeIncremental, []byte(`not json`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDecodeDescriptorTrimsIdentifiers(t *testing.T) {
	d, err := DecodeDescriptor(TypeIncremental, []byte(`{"operation":"index","entityId":" b-1 ","tenantId":" `+tenant+` "}`))
	require.NoError(t, err)
	assert.Equal(t, "b-1", d.EntityID)
	assert.Equal(t, tenant, d.TenantID)
	assert.Equal(t, "b-1", d.IncrementalParams().EntityID)
}
