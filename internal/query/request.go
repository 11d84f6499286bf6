package query

import (
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

// SortField selects the single sort rule applied to a search.
type SortField string

const (
	SortRelevance SortField = "relevance"
	SortRevenue   SortField = "revenue"
	SortEmployees SortField = "employees"
	SortDistance  SortField = "distance"
	SortName      SortField = "name"
	SortHiring    SortField = "hiring"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Location is a search origin.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Request is a structured, faceted business search.
type Request struct {
	Query         string    `json:"query,omitempty"`
	Location      *Location `json:"location,omitempty"`
	RadiusKm      float64   `json:"radiusKm,omitempty"`
	Industry      string    `json:"industry,omitempty"`
	Industries    []string  `json:"industries,omitempty"`
	BusinessTypes []string  `json:"businessTypes,omitempty"`
	BusinessModes []string  `json:"businessModes,omitempty"`
	Ownership     []string  `json:"ownership,omitempty"`
	RevenueBands  []string  `json:"revenueBands,omitempty"`
	EmployeeBands []string  `json:"employeeBands,omitempty"`
	TechStack     []string  `json:"techStack,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	MinRevenue    *int64    `json:"minRevenue,omitempty"`
	MaxRevenue    *int64    `json:"maxRevenue,omitempty"`
	MinEmployees  *int64    `json:"minEmployees,omitempty"`
	MaxEmployees  *int64    `json:"maxEmployees,omitempty"`
	MinHiring     *int64    `json:"minHiring,omitempty"`
	MaxHiring     *int64    `json:"maxHiring,omitempty"`
	SortBy        SortField `json:"sortBy,omitempty"`
	SortOrder     SortOrder `json:"sortOrder,omitempty"`
	Skip          int       `json:"skip,omitempty"`
	Take          int       `json:"take,omitempty"`
}

// Validate rejects requests the builder cannot express faithfully.
func (r Request) Validate() error {
	var problems []string
	if r.Location != nil {
		if r.Location.Lat < -90 || r.Location.Lat > 90 {
			problems = append(problems, "location.lat must be within [-90, 90]")
		}
		if r.Location.Lon < -180 || r.Location.Lon > 180 {
			problems = append(problems, "location.lon must be within [-180, 180]")
		}
	}
	if r.RadiusKm < 0 {
		problems = append(problems, "radiusKm must not be negative")
	}
	switch r.SortBy {
	case "", SortRelevance, SortRevenue, SortEmployees, SortDistance, SortName, SortHiring:
	default:
		problems = append(problems, fmt.Sprintf("unknown sortBy %q", r.SortBy))
	}
	switch r.SortOrder {
	case "", OrderAsc, OrderDesc:
	default:
		problems = append(problems, fmt.Sprintf("unknown sortOrder %q", r.SortOrder))
	}
	if r.Skip < 0 {
		problems = append(problems, "skip must not be negative")
	}
	problems = appendRangeProblem(problems, "revenue", r.MinRevenue, r.MaxRevenue)
	problems = appendRangeProblem(problems, "employees", r.MinEmployees, r.MaxEmployees)
	problems = appendRangeProblem(problems, "hiring", r.MinHiring, r.MaxHiring)
	if len(problems) > 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s", strings.Join(problems, "; "))
	}
	return nil
}

func appendRangeProblem(problems []string, field string, min, max *int64) []string {
	if min != nil && max != nil && *min > *max {
		return append(problems, fmt.Sprintf("%s minimum exceeds maximum", field))
	}
	return problems
}
