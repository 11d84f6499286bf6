package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

func boolOf(t *testing.T, body DSL) DSL {
	t.Helper()
	q, ok := body["query"].(DSL)
	require.True(t, ok)
	bq, ok := q["bool"].(DSL)
	require.True(t, ok)
	return bq
}

func int64p(v int64) *int64 { return &v }

func TestBuildEmptyRequestMatchesAll(t *testing.T) {
	body := NewBuilder(Options{}).Build(Request{})
	bq := boolOf(t, body)

	assert.Equal(t, []any{DSL{"match_all": DSL{}}}, bq["must"])
	assert.Equal(t, []any{}, bq["filter"])
	assert.NotContains(t, bq, "should")
	assert.NotContains(t, bq, "minimum_should_match")
	assert.Equal(t, []any{DSL{"_score": DSL{"order": "desc"}}}, body["sort"])
	assert.Equal(t, 0, body["from"])
	assert.Equal(t, 20, body["size"])
}

func TestBuildEmptyFilterSerializesAsArray(t *testing.T) {
	raw, err := json.Marshal(NewBuilder(Options{}).Build(Request{}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"filter":[]`)
}

func TestBuildTextQuery(t *testing.T) {
	bq := boolOf(t, NewBuilder(Options{}).Build(Request{Query: "acme"}))
	must := bq["must"].([]any)
	require.Len(t, must, 1)

	mm := must[0].(DSL)["multi_match"].(DSL)
	assert.Equal(t, "acme", mm["query"])
	assert.Equal(t, "AUTO", mm["fuzziness"])
	assert.Contains(t, mm["fields"], "name^3")
	assert.Contains(t, mm["fields"], "canonicalName^3")
}

func TestBuildGeoDistanceFilter(t *testing.T) {
	bq := boolOf(t, NewBuilder(Options{}).Build(Request{
		Location: &Location{Lat: 40.7, Lon: -74},
		RadiusKm: 50,
	}))
	assert.Equal(t, []any{DSL{
		"geo_distance": DSL{
			"distance":    "50km",
			"coordinates": DSL{"lat": 40.7, "lon": -74.0},
		},
	}}, bq["filter"])
}

func TestBuildGeoFilterNeedsRadius(t *testing.T) {
	bq := boolOf(t, NewBuilder(Options{}).Build(Request{Location: &Location{Lat: 1, Lon: 2}}))
	assert.Empty(t, bq["filter"])

	bq = boolOf(t, NewBuilder(Options{}).Build(Request{Location: &Location{Lat: 1, Lon: 2}, RadiusKm: 2.5}))
	geo := bq["filter"].([]any)[0].(DSL)["geo_distance"].(DSL)
	assert.Equal(t, "2.5km", geo["distance"])
}

func TestBuildRevenueSort(t *testing.T) {
	body := NewBuilder(Options{}).Build(Request{SortBy: SortRevenue, SortOrder: OrderAsc})
	assert.Equal(t, []any{DSL{"revenue": DSL{"order": "asc", "missing": "_last"}}}, body["sort"])
}

func TestBuildSorts(t *testing.T) {
	b := NewBuilder(Options{})
	loc := &Location{Lat: 1, Lon: 2}

	tests := []struct {
		name string
		req  Request
		want []any
	}{
		{"employees", Request{SortBy: SortEmployees}, []any{DSL{"employees": DSL{"order": "desc", "missing": "_last"}}}},
		{"hiring", Request{SortBy: SortHiring, SortOrder: OrderAsc}, []any{DSL{"hiring": DSL{"order": "asc", "missing": "_last"}}}},
		{"name", Request{SortBy: SortName, SortOrder: OrderAsc}, []any{DSL{"name.keyword": DSL{"order": "asc"}}}},
		{"distance with location", Request{SortBy: SortDistance, SortOrder: OrderAsc, Location: loc}, []any{DSL{
			"_geo_distance": DSL{"coordinates": DSL{"lat": 1.0, "lon": 2.0}, "order": "asc", "unit": "km"},
		}}},
		{"distance without location falls back to score", Request{SortBy: SortDistance}, []any{DSL{"_score": DSL{"order": "desc"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Build(tt.req)["sort"])
		})
	}
}

func TestBuildTagsFanOut(t *testing.T) {
	bq := boolOf(t, NewBuilder(Options{}).Build(Request{Tags: []string{"SaaS", "B2B"}}))

	should := bq["should"].([]any)
	assert.Len(t, should, 4)
	assert.Equal(t, 1, bq["minimum_should_match"])
	assert.Contains(t, should, DSL{"term": DSL{"industryTags.keyword": "SaaS"}})
	assert.Contains(t, should, DSL{"term": DSL{"specializations.keyword": "SaaS"}})
	assert.Contains(t, should, DSL{"term": DSL{"industryTags.keyword": "B2B"}})
	assert.Contains(t, should, DSL{"term": DSL{"specializations.keyword": "B2B"}})
}

func TestBuildTermAndRangeFilters(t *testing.T) {
	bq := boolOf(t, NewBuilder(Options{}).Build(Request{
		Industry:     "software",
		Industries:   []string{"software", "retail"},
		TechStack:    []string{"go"},
		RevenueBands: []string{"1M-10M"},
		MinRevenue:   int64p(1000),
		MaxEmployees: int64p(50),
	}))
	filter := bq["filter"].([]any)

	assert.Contains(t, filter, DSL{"term": DSL{"industry": "software"}})
	assert.Contains(t, filter, DSL{"terms": DSL{"industry": []string{"software", "retail"}}})
	assert.Contains(t, filter, DSL{"terms": DSL{"techStack.keyword": []string{"go"}}})
	assert.Contains(t, filter, DSL{"terms": DSL{"revenueBand": []string{"1M-10M"}}})
	assert.Contains(t, filter, DSL{"range": DSL{"revenue": DSL{"gte": int64(1000)}}})
	assert.Contains(t, filter, DSL{"range": DSL{"employees": DSL{"lte": int64(50)}}})
	assert.Len(t, filter, 6)
}

func TestBuildPaginationClamped(t *testing.T) {
	b := NewBuilder(Options{})
	body := b.Build(Request{Skip: 40, Take: 500})
	assert.Equal(t, 40, body["from"])
	assert.Equal(t, 100, body["size"])

	body = b.Build(Request{Skip: -3})
	assert.Equal(t, 0, body["from"])
}

func TestBuildAggregations(t *testing.T) {
	body := NewBuilder(Options{}).BuildAggregations(Request{Query: "acme"})
	aggs := body["aggs"].(DSL)

	assert.Len(t, aggs, 8)
	assert.Equal(t, DSL{"terms": DSL{"field": "industry"}}, aggs[AggIndustries])
	assert.Equal(t, DSL{"terms": DSL{"field": "techStack.keyword", "size": 20}}, aggs[AggTechStack])
	assert.Equal(t, DSL{"terms": DSL{"field": "industryTags.keyword", "size": 20}}, aggs[AggIndustryTags])
	assert.Contains(t, body, "query")
}

func TestBuildAutocomplete(t *testing.T) {
	body := NewBuilder(Options{}).BuildAutocomplete("acm", 0)
	completion := body["suggest"].(DSL)[SuggestName].(DSL)

	assert.Equal(t, "acm", completion["prefix"])
	assert.Equal(t, DSL{"field": "name.suggest", "size": 10, "skip_duplicates": true}, completion["completion"])
}

func TestBuildSimilar(t *testing.T) {
	body := NewBuilder(Options{}).BuildSimilar("business_leads", "b-1", 5)
	mlt := body["query"].(DSL)["more_like_this"].(DSL)

	assert.Equal(t, 5, body["size"])
	assert.Equal(t, []any{DSL{"_index": "business_leads", "_id": "b-1"}}, mlt["like"])
	assert.Equal(t, 1, mlt["min_term_freq"])
	assert.Equal(t, 12, mlt["max_query_terms"])
	assert.NotContains(t, mlt["fields"], "canonicalName")
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, Request{}.Validate())

	err := Request{
		Location:   &Location{Lat: 91},
		SortBy:     "popularity",
		MinRevenue: int64p(10),
		MaxRevenue: int64p(5),
	}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "location.lat")
	assert.Contains(t, err.Error(), "popularity")
	assert.Contains(t, err.Error(), "revenue minimum")
}
