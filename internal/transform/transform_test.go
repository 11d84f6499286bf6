package transform

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTransformer() *DocumentTransformer {
	return NewWithClock(func() time.Time { return fixedNow })
}

func TestTransformValidEntitiesAlwaysValidate(t *testing.T) {
	tr := newTestTransformer()
	for i := 0; i < 50; i++ {
		e := store.Entity{
			ID:        fmt.Sprintf("b-%d", i),
			Name:      fmt.Sprintf("Business %d", i),
			Latitude:  store.Numeric([]string{"", "12.5", "abc", "NaN"}[i%4]),
			Longitude: store.Numeric([]string{"77.1", "", "1", "Inf"}[i%4]),
			Revenue:   store.Numeric([]string{"", "1000", "x"}[i%3]),
		}
		doc := tr.Transform(e, "", "")
		assert.True(t, tr.Validate(doc), "entity %s", e.ID)
	}
}

func TestTransformGeopoint(t *testing.T) {
	tr := newTestTransformer()

	tests := []struct {
		name    string
		lat     store.Numeric
		lon     store.Numeric
		wantGeo bool
	}{
		{"both valid", "40.7128", "-74.0060", true},
		{"missing latitude", "", "-74.0060", false},
		{"missing longitude", "40.7128", "", false},
		{"non-numeric latitude", "north", "-74.0060", false},
		{"non-numeric longitude", "40.7128", "west", false},
		{"nan", "NaN", "1", false},
		{"zero is a valid coordinate", "0", "0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tr.Transform(store.Entity{ID: "b-1", Name: "Acme", Latitude: tt.lat, Longitude: tt.lon}, "", "")
			if !tt.wantGeo {
				assert.Nil(t, doc.Geopoint)
				assert.Nil(t, doc.Coordinates)
				return
			}
			lat, _ := tt.lat.Float()
			lon, _ := tt.lon.Float()
			assert.Equal(t, []float64{lon, lat}, doc.Geopoint)
			assert.Equal(t, &GeoPoint{Lat: lat, Lon: lon}, doc.Coordinates)
		})
	}
}

func TestTransformCopiesFieldsAndStampsTime(t *testing.T) {
	tr := newTestTransformer()
	e := store.Entity{
		ID:        "b-7",
		Name:      "Acme Corp",
		Industry:  "software",
		Revenue:   "2500000.9",
		Employees: "120",
		Hiring:    "not-a-number",
		TechStack: []string{"go", "kafka"},
		Metadata:  map[string]any{"source": "crm"},
		TenantID:  "entity-tenant",
	}

	doc := tr.Transform(e, "t-1", "org-9")

	assert.Equal(t, "software", doc.Industry)
	require.NotNil(t, doc.Revenue)
	assert.Equal(t, int64(2500000), *doc.Revenue)
	require.NotNil(t, doc.Employees)
	assert.Equal(t, int64(120), *doc.Employees)
	assert.Nil(t, doc.Hiring)
	assert.Equal(t, "t-1", doc.TenantID)
	assert.Equal(t, "org-9", doc.OrganizationID)
	assert.Equal(t, fixedNow, doc.IndexedAt)

	assert.Equal(t, "entity-tenant", tr.Transform(e, "", "").TenantID)
}

func TestTransformOmitsEmptyTechStack(t *testing.T) {
	doc := newTestTransformer().Transform(store.Entity{ID: "b-1", Name: "Acme", TechStack: []string{}}, "", "")
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "techStack")
	assert.NotContains(t, string(body), "geopoint")
}

func TestValidate(t *testing.T) {
	assert.False(t, Valid(Document{Name: "no id"}))
	assert.False(t, Valid(Document{ID: "no-name"}))
	assert.True(t, Valid(Document{ID: "b-1", Name: "Acme"}))
}

func TestTransformBatchKeepsInvalid(t *testing.T) {
	docs := newTestTransformer().TransformBatch([]store.Entity{
		{ID: "b-1", Name: "Acme"},
		{ID: "b-2"},
	}, "t-1", "")
	require.Len(t, docs, 2)
	assert.False(t, Valid(docs[1]))
	assert.Equal(t, "t-1", docs[1].TenantID)
}
