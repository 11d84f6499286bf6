// Package schema declares the business search index: its field names,
// analyzers, tokenizers, and the mapping written when the index is created.
//
// The mapping is strict. Adding or changing a field requires an explicit
// mapping update or a delete-and-recreate migration; documents carrying
// unknown fields are rejected by the engine.
package schema

// DefaultIndexName is the index used when configuration does not name one.
const DefaultIndexName = "business_leads"

// Document field names.
const (
	FieldID              = "id"
	FieldName            = "name"
	FieldCanonicalName   = "canonicalName"
	FieldAlternateNames  = "alternateNames"
	FieldDescription     = "description"
	FieldIndustry        = "industry"
	FieldLocation        = "location"
	FieldLatitude        = "latitude"
	FieldLongitude       = "longitude"
	FieldGeopoint        = "geopoint"
	FieldCoordinates     = "coordinates"
	FieldRevenue         = "revenue"
	FieldEmployees       = "employees"
	FieldHiring          = "hiring"
	FieldTechStack       = "techStack"
	FieldIndustryTags    = "industryTags"
	FieldSpecializations = "specializations"
	FieldBusinessType    = "businessType"
	FieldBusinessMode    = "businessMode"
	FieldOwnership       = "ownership"
	FieldRevenueBand     = "revenueBand"
	FieldEmployeeBand    = "employeeBand"
	FieldMetadata        = "metadata"
	FieldTenantID        = "tenantId"
	FieldOrganizationID  = "organizationId"
	FieldIndexedAt       = "indexedAt"
)

// Sub-field paths.
const (
	FieldNameKeyword            = FieldName + ".keyword"
	FieldNameSuggest            = FieldName + ".suggest"
	FieldNameAutocomplete       = FieldName + ".autocomplete"
	FieldTechStackKeyword       = FieldTechStack + ".keyword"
	FieldIndustryTagsKeyword    = FieldIndustryTags + ".keyword"
	FieldSpecializationsKeyword = FieldSpecializations + ".keyword"
)

// Analyzer and tokenizer names.
const (
	AnalyzerBusinessName = "business_name_analyzer"
	AnalyzerTag          = "tag_analyzer"
	AnalyzerTextSearch   = "text_search_analyzer"
	AnalyzerAutocomplete = "autocomplete_analyzer"
	TokenizerEdgeNGram   = "edge_ngram_tokenizer"

	filterBusinessSynonyms = "business_name_synonyms"
	filterStripPunctuation = "strip_punctuation"
)

// RequiredFields must be present in a live mapping for the index to be
// considered usable by the sync pipeline and the query builder.
var RequiredFields = []string{
	FieldID,
	FieldName,
	FieldDescription,
	FieldIndustry,
	FieldCoordinates,
	FieldGeopoint,
	FieldRevenue,
	FieldEmployees,
	FieldTechStack,
	FieldIndustryTags,
	FieldTenantID,
	FieldIndexedAt,
}

// legalSuffixSynonyms normalises legal-entity suffixes and common
// abbreviations in business names.
var legalSuffixSynonyms = []string{
	"corporation,corp,inc,llc,ltd,co => corporation",
	"company,companies => company",
	"international,intl => international",
	"technologies,tech => technology",
	"systems,sys => system",
	"services,svc => service",
	"associates,assoc => associate",
	"group,grp => group",
	"solutions => solution",
}

// Analysis returns the analysis settings block: named filters, analyzers and
// the edge n-gram tokenizer.
func Analysis() map[string]any {
	return map[string]any{
		"filter": map[string]any{
			filterBusinessSynonyms: map[string]any{
				"type":     "synonym",
				"synonyms": legalSuffixSynonyms,
			},
			filterStripPunctuation: map[string]any{
				"type":        "pattern_replace",
				"pattern":     `[^a-zA-Z0-9\s]`,
				"replacement": "",
			},
		},
		"analyzer": map[string]any{
			AnalyzerBusinessName: map[string]any{
				"type":      "custom",
				"tokenizer": "standard",
				"filter": []string{
					"lowercase",
					"stop",
					"stemmer",
					filterBusinessSynonyms,
					filterStripPunctuation,
				},
			},
			AnalyzerTag: map[string]any{
				"type":      "custom",
				"tokenizer": "keyword",
				"filter":    []string{"lowercase", "asciifolding"},
			},
			AnalyzerTextSearch: map[string]any{
				"type":      "custom",
				"tokenizer": "standard",
				"filter":    []string{"lowercase", "stop", "stemmer", "asciifolding"},
			},
			AnalyzerAutocomplete: map[string]any{
				"type":      "custom",
				"tokenizer": TokenizerEdgeNGram,
				"filter":    []string{"lowercase", "asciifolding"},
			},
		},
		"tokenizer": map[string]any{
			TokenizerEdgeNGram: map[string]any{
				"type":        "edge_ngram",
				"min_gram":    2,
				"max_gram":    20,
				"token_chars": []string{"letter", "digit"},
			},
		},
	}
}

// Settings returns the index settings for the given shard and replica
// counts.
func Settings(shards, replicas int) map[string]any {
	if shards <= 0 {
		shards = 1
	}
	if replicas < 0 {
		replicas = 0
	}
	return map[string]any{
		"number_of_shards":   shards,
		"number_of_replicas": replicas,
		"analysis":           Analysis(),
	}
}

func keyword() map[string]any { return map[string]any{"type": "keyword"} }

// nameField is a business-name text field with an exact keyword twin.
func nameField() map[string]any {
	return map[string]any{
		"type":     "text",
		"analyzer": AnalyzerBusinessName,
		"fields": map[string]any{
			"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
		},
	}
}

// tagField is tokenised by the tag analyzer with an exact keyword twin used
// for filters and facets.
func tagField() map[string]any {
	return map[string]any{
		"type":     "text",
		"analyzer": AnalyzerTag,
		"fields": map[string]any{
			"keyword": keyword(),
		},
	}
}

// Mappings returns the strict document mapping.
func Mappings() map[string]any {
	return map[string]any{
		"dynamic":    "strict",
		"properties": Properties(),
	}
}

// Properties returns the field definitions of the mapping.
func Properties() map[string]any {
	return map[string]any{
		FieldID: keyword(),
		FieldName: map[string]any{
			"type": "text",
			"fields": map[string]any{
				"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
				"suggest": map[string]any{"type": "completion", "analyzer": "simple"},
				"autocomplete": map[string]any{
					"type":            "text",
					"analyzer":        AnalyzerAutocomplete,
					"search_analyzer": "standard",
				},
			},
		},
		FieldCanonicalName:  nameField(),
		FieldAlternateNames: nameField(),
		FieldDescription: map[string]any{
			"type":     "text",
			"analyzer": AnalyzerTextSearch,
		},
		FieldIndustry: keyword(),
		FieldLocation: map[string]any{
			"type":   "text",
			"fields": map[string]any{"keyword": keyword()},
		},
		FieldLatitude:        map[string]any{"type": "double"},
		FieldLongitude:       map[string]any{"type": "double"},
		FieldGeopoint:        map[string]any{"type": "geo_point"},
		FieldCoordinates:     map[string]any{"type": "geo_point"},
		FieldRevenue:         map[string]any{"type": "long"},
		FieldEmployees:       map[string]any{"type": "integer"},
		FieldHiring:          map[string]any{"type": "integer"},
		FieldTechStack:       tagField(),
		FieldIndustryTags:    tagField(),
		FieldSpecializations: tagField(),
		FieldBusinessType:    keyword(),
		FieldBusinessMode:    keyword(),
		FieldOwnership:       keyword(),
		FieldRevenueBand:     keyword(),
		FieldEmployeeBand:    keyword(),
		FieldMetadata:        map[string]any{"type": "object", "enabled": false},
		FieldTenantID:        keyword(),
		FieldOrganizationID:  keyword(),
		FieldIndexedAt:       map[string]any{"type": "date"},
	}
}

// Definition is the full create-index body.
func Definition(shards, replicas int) map[string]any {
	return map[string]any{
		"settings": Settings(shards, replicas),
		"mappings": Mappings(),
	}
}

// MissingFields returns the RequiredFields absent from a live mapping's
// properties.
func MissingFields(properties map[string]any) []string {
	var missing []string
	for _, f := range RequiredFields {
		if _, ok := properties[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}
