// Package query translates structured business search requests into the
// search engine's query, sort, aggregation and suggestion DSL.
package query

import (
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/schema"
)

// DSL is a JSON-serialisable engine request body.
type DSL = map[string]any

// Aggregation names attached by BuildAggregations.
const (
	AggIndustries    = "industries"
	AggBusinessTypes = "businessTypes"
	AggBusinessModes = "businessModes"
	AggOwnership     = "ownership"
	AggRevenueBands  = "revenueBands"
	AggEmployeeBands = "employeeBands"
	AggTechStack     = "techStack"
	AggIndustryTags  = "industryTags"

	// SuggestName is the suggester key used by BuildAutocomplete.
	SuggestName = "name_suggest"
)

const (
	defaultTake              = 20
	maxTake                  = 100
	defaultAutocompleteLimit = 10
	defaultSimilarLimit      = 10
	topTermsSize             = 20
)

// textFields are searched by free-text queries, name fields weighted
// highest.
var textFields = []string{
	schema.FieldName + "^3",
	schema.FieldCanonicalName + "^3",
	schema.FieldAlternateNames + "^2",
	schema.FieldDescription,
	schema.FieldTechStack + "^2",
	schema.FieldIndustryTags + "^2",
	schema.FieldSpecializations + "^2",
}

var similarFields = []string{
	schema.FieldName,
	schema.FieldDescription,
	schema.FieldTechStack,
	schema.FieldIndustryTags,
	schema.FieldSpecializations,
}

// Options tune pagination defaults.
type Options struct {
	DefaultTake int
	MaxTake     int
}

// QueryBuilder builds engine requests.
type QueryBuilder interface {
	Build(req Request) DSL
	BuildAggregations(req Request) DSL
	BuildAutocomplete(prefix string, limit int) DSL
	BuildSimilar(index, id string, limit int) DSL
}

// Builder is the default QueryBuilder.
type Builder struct {
	defaultTake int
	maxTake     int
}

var _ QueryBuilder = (*Builder)(nil)

// NewBuilder creates a Builder, filling zero options with defaults.
func NewBuilder(opts Options) *Builder {
	if opts.DefaultTake <= 0 {
		opts.DefaultTake = defaultTake
	}
	if opts.MaxTake <= 0 {
		opts.MaxTake = maxTake
	}
	if opts.DefaultTake > opts.MaxTake {
		opts.DefaultTake = opts.MaxTake
	}
	return &Builder{defaultTake: opts.DefaultTake, maxTake: opts.MaxTake}
}

// Normalize applies pagination and sort defaults.
func (b *Builder) Normalize(req Request) Request {
	if req.Take <= 0 {
		req.Take = b.defaultTake
	}
	if req.Take > b.maxTake {
		req.Take = b.maxTake
	}
	if req.Skip < 0 {
		req.Skip = 0
	}
	if req.SortBy == "" {
		req.SortBy = SortRelevance
	}
	if req.SortOrder == "" {
		req.SortOrder = OrderDesc
	}
	return req
}

// Build returns the bool query, sort and pagination for req.
func (b *Builder) Build(req Request) DSL {
	req = b.Normalize(req)
	return DSL{
		"query": DSL{"bool": boolQuery(req)},
		"sort":  sortClause(req),
		"from":  req.Skip,
		"size":  req.Take,
	}
}

// BuildAggregations is Build plus the facet aggregations.
func (b *Builder) BuildAggregations(req Request) DSL {
	body := b.Build(req)
	body["aggs"] = DSL{
		AggIndustries:    termsAgg(schema.FieldIndustry, 0),
		AggBusinessTypes: termsAgg(schema.FieldBusinessType, 0),
		AggBusinessModes: termsAgg(schema.FieldBusinessMode, 0),
		AggOwnership:     termsAgg(schema.FieldOwnership, 0),
		AggRevenueBands:  termsAgg(schema.FieldRevenueBand, 0),
		AggEmployeeBands: termsAgg(schema.FieldEmployeeBand, 0),
		AggTechStack:     termsAgg(schema.FieldTechStackKeyword, topTermsSize),
		AggIndustryTags:  termsAgg(schema.FieldIndustryTagsKeyword, topTermsSize),
	}
	return body
}

// BuildAutocomplete returns a completion-suggester request for names
// starting with prefix.
func (b *Builder) BuildAutocomplete(prefix string, limit int) DSL {
	if limit <= 0 {
		limit = defaultAutocompleteLimit
	}
	if limit > b.maxTake {
		limit = b.maxTake
	}
	return DSL{
		"_source": false,
		"suggest": DSL{
			SuggestName: DSL{
				"prefix": prefix,
				"completion": DSL{
					"field":           schema.FieldNameSuggest,
					"size":            limit,
					"skip_duplicates": true,
				},
			},
		},
	}
}

// BuildSimilar returns a more-like-this query seeded by the document id in
// index.
func (b *Builder) BuildSimilar(index, id string, limit int) DSL {
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	if limit > b.maxTake {
		limit = b.maxTake
	}
	return DSL{
		"size": limit,
		"query": DSL{
			"more_like_this": DSL{
				"fields":          similarFields,
				"like":            []any{DSL{"_index": index, "_id": id}},
				"min_term_freq":   1,
				"max_query_terms": 12,
				"min_doc_freq":    1,
			},
		},
	}
}

func boolQuery(req Request) DSL {
	var must []any
	if req.Query != "" {
		must = append(must, DSL{
			"multi_match": DSL{
				"query":     req.Query,
				"fields":    textFields,
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		})
	} else {
		must = append(must, DSL{"match_all": DSL{}})
	}

	bq := DSL{
		"must":   must,
		"filter": filterClauses(req),
	}
	if should := shouldClauses(req.Tags); len(should) > 0 {
		bq["should"] = should
		bq["minimum_should_match"] = 1
	}
	return bq
}

func filterClauses(req Request) []any {
	filter := []any{}
	if req.Location != nil && req.RadiusKm > 0 {
		filter = append(filter, DSL{
			"geo_distance": DSL{
				"distance":              formatKm(req.RadiusKm),
				schema.FieldCoordinates: DSL{"lat": req.Location.Lat, "lon": req.Location.Lon},
			},
		})
	}
	if req.Industry != "" {
		filter = append(filter, DSL{"term": DSL{schema.FieldIndustry: req.Industry}})
	}
	filter = appendTerms(filter, schema.FieldIndustry, req.Industries)
	filter = appendTerms(filter, schema.FieldBusinessType, req.BusinessTypes)
	filter = appendTerms(filter, schema.FieldBusinessMode, req.BusinessModes)
	filter = appendTerms(filter, schema.FieldOwnership, req.Ownership)
	filter = appendTerms(filter, schema.FieldRevenueBand, req.RevenueBands)
	filter = appendTerms(filter, schema.FieldEmployeeBand, req.EmployeeBands)
	filter = appendTerms(filter, schema.FieldTechStackKeyword, req.TechStack)
	filter = appendRange(filter, schema.FieldRevenue, req.MinRevenue, req.MaxRevenue)
	filter = appendRange(filter, schema.FieldEmployees, req.MinEmployees, req.MaxEmployees)
	filter = appendRange(filter, schema.FieldHiring, req.MinHiring, req.MaxHiring)
	return filter
}

// shouldClauses fans each tag out to both tag-bearing keyword fields.
func shouldClauses(tags []string) []any {
	if len(tags) == 0 {
		return nil
	}
	should := make([]any, 0, 2*len(tags))
	for _, tag := range tags {
		should = append(should, DSL{"term": DSL{schema.FieldIndustryTagsKeyword: tag}})
	}
	for _, tag := range tags {
		should = append(should, DSL{"term": DSL{schema.FieldSpecializationsKeyword: tag}})
	}
	return should
}

func sortClause(req Request) []any {
	order := string(req.SortOrder)
	switch req.SortBy {
	case SortDistance:
		if req.Location != nil {
			return []any{DSL{
				"_geo_distance": DSL{
					schema.FieldCoordinates: DSL{"lat": req.Location.Lat, "lon": req.Location.Lon},
					"order":                 order,
					"unit":                  "km",
				},
			}}
		}
	case SortRevenue:
		return []any{DSL{schema.FieldRevenue: DSL{"order": order, "missing": "_last"}}}
	case SortEmployees:
		return []any{DSL{schema.FieldEmployees: DSL{"order": order, "missing": "_last"}}}
	case SortHiring:
		return []any{DSL{schema.FieldHiring: DSL{"order": order, "missing": "_last"}}}
	case SortName:
		return []any{DSL{schema.FieldNameKeyword: DSL{"order": order}}}
	}
	return []any{DSL{"_score": DSL{"order": order}}}
}

func appendTerms(filter []any, field string, values []string) []any {
	if len(values) == 0 {
		return filter
	}
	return append(filter, DSL{"terms": DSL{field: values}})
}

func appendRange(filter []any, field string, min, max *int64) []any {
	if min == nil && max == nil {
		return filter
	}
	bounds := DSL{}
	if min != nil {
		bounds["gte"] = *min
	}
	if max != nil {
		bounds["lte"] = *max
	}
	return append(filter, DSL{"range": DSL{field: bounds}})
}

func termsAgg(field string, size int) DSL {
	terms := DSL{"field": field}
	if size > 0 {
		terms["size"] = size
	}
	return DSL{"terms": terms}
}

func formatKm(radius float64) string {
	return strconv.FormatFloat(radius, 'f', -1, 64) + "km"
}
