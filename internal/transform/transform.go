// Package transform maps canonical business entities into search index
// documents and decides whether a document may be written.
package transform

import (
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/store"
)

// GeoPoint is a {lat, lon} object as accepted by geo_point fields.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Document is the unit written to the search index for one entity.
type Document struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	CanonicalName   string         `json:"canonicalName,omitempty"`
	AlternateNames  []string       `json:"alternateNames,omitempty"`
	Description     string         `json:"description,omitempty"`
	Industry        string         `json:"industry,omitempty"`
	Location        string         `json:"location,omitempty"`
	Latitude        *float64       `json:"latitude,omitempty"`
	Longitude       *float64       `json:"longitude,omitempty"`
	Geopoint        []float64      `json:"geopoint,omitempty"`
	Coordinates     *GeoPoint      `json:"coordinates,omitempty"`
	Revenue         *int64         `json:"revenue,omitempty"`
	Employees       *int64         `json:"employees,omitempty"`
	Hiring          *int64         `json:"hiring,omitempty"`
	TechStack       []string       `json:"techStack,omitempty"`
	IndustryTags    []string       `json:"industryTags,omitempty"`
	Specializations []string       `json:"specializations,omitempty"`
	BusinessType    string         `json:"businessType,omitempty"`
	BusinessMode    string         `json:"businessMode,omitempty"`
	Ownership       string         `json:"ownership,omitempty"`
	RevenueBand     string         `json:"revenueBand,omitempty"`
	EmployeeBand    string         `json:"employeeBand,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	TenantID        string         `json:"tenantId,omitempty"`
	OrganizationID  string         `json:"organizationId,omitempty"`
	IndexedAt       time.Time      `json:"indexedAt"`
}

// Transformer turns entities into documents.
type Transformer interface {
	Transform(e store.Entity, tenantID, organizationID string) Document
	TransformBatch(entities []store.Entity, tenantID, organizationID string) []Document
	Validate(doc Document) bool
}

// DocumentTransformer is the default Transformer.
type DocumentTransformer struct {
	now    func() time.Time
	logger *slog.Logger
}

var _ Transformer = (*DocumentTransformer)(nil)

// New creates a DocumentTransformer stamping documents with the wall clock.
func New() *DocumentTransformer {
	return NewWithClock(time.Now)
}

// NewWithClock creates a DocumentTransformer with a fixed time source.
func NewWithClock(now func() time.Time) *DocumentTransformer {
	return &DocumentTransformer{
		now:    now,
		logger: slog.Default().With("component", "transformer"),
	}
}

// Transform copies e into a Document. Explicit tenant and organization ids
// take precedence over the entity's own. Numeric fields that do not parse
// are omitted, and the geo fields are set only when both coordinates are
// finite numbers.
func (t *DocumentTransformer) Transform(e store.Entity, tenantID, organizationID string) Document {
	doc := Document{
		ID:              e.ID,
		Name:            e.Name,
		CanonicalName:   e.CanonicalName,
		AlternateNames:  nonEmpty(e.AlternateNames),
		Description:     e.Description,
		Industry:        e.Industry,
		Location:        e.Location,
		Revenue:         intPtr(e.Revenue),
		Employees:       intPtr(e.Employees),
		Hiring:          intPtr(e.Hiring),
		TechStack:       nonEmpty(e.TechStack),
		IndustryTags:    nonEmpty(e.IndustryTags),
		Specializations: nonEmpty(e.Specializations),
		BusinessType:    e.BusinessType,
		BusinessMode:    e.BusinessMode,
		Ownership:       e.Ownership,
		RevenueBand:     e.RevenueBand,
		EmployeeBand:    e.EmployeeBand,
		TenantID:        firstNonEmpty(tenantID, e.TenantID),
		OrganizationID:  firstNonEmpty(organizationID, e.OrganizationID),
		IndexedAt:       t.now().UTC(),
	}
	if len(e.Metadata) > 0 {
		doc.Metadata = e.Metadata
	}

	lat, latOK := e.Latitude.Float()
	lon, lonOK := e.Longitude.Float()
	if latOK {
		doc.Latitude = &lat
	}
	if lonOK {
		doc.Longitude = &lon
	}
	if latOK && lonOK {
		doc.Geopoint = []float64{lon, lat}
		doc.Coordinates = &GeoPoint{Lat: lat, Lon: lon}
	}
	return doc
}

// TransformBatch transforms every entity. It never drops entries; callers
// decide what to do with documents that fail Validate.
func (t *DocumentTransformer) TransformBatch(entities []store.Entity, tenantID, organizationID string) []Document {
	docs := make([]Document, 0, len(entities))
	for _, e := range entities {
		docs = append(docs, t.Transform(e, tenantID, organizationID))
	}
	return docs
}

// Validate reports whether doc has both an id and a name.
func (t *DocumentTransformer) Validate(doc Document) bool {
	return Valid(doc)
}

// Valid is the side-effect-free validation rule behind Validate.
func Valid(doc Document) bool {
	return doc.ID != "" && doc.Name != ""
}

func intPtr(n store.Numeric) *int64 {
	v, ok := n.Int()
	if !ok {
		return nil
	}
	return &v
}

func nonEmpty(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return values
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
