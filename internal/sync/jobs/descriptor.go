package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

const (
	maxBatchSize      = 10000
	maxEntityIDLength = 255
	// DefaultEntityType is recorded on incremental descriptors that omit it.
	DefaultEntityType = "business"
)

// Descriptor is the queued description of one sync job.
type Descriptor struct {
	Operation      Operation `json:"operation"`
	EntityID       string    `json:"entityId,omitempty"`
	EntityType     string    `json:"entityType,omitempty"`
	TenantID       string    `json:"tenantId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	BatchSize      int       `json:"batchSize,omitempty"`
}

// JobType is the queue job type that runs d.
func (d Descriptor) JobType() string {
	if d.Operation == OpRebuild {
		return TypeRebuild
	}
	return TypeIncremental
}

// RebuildParams converts a rebuild descriptor.
func (d Descriptor) RebuildParams() RebuildParams {
	return RebuildParams{TenantID: d.TenantID, OrganizationID: d.OrganizationID, BatchSize: d.BatchSize}
}

// IncrementalParams converts an incremental descriptor.
func (d Descriptor) IncrementalParams() IncrementalParams {
	entityType := d.EntityType
	if entityType == "" {
		entityType = DefaultEntityType
	}
	return IncrementalParams{
		Operation:      d.Operation,
		EntityID:       d.EntityID,
		EntityType:     entityType,
		TenantID:       d.TenantID,
		OrganizationID: d.OrganizationID,
	}
}

// ValidationError lists the problems of a descriptor per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid job descriptor: " + strings.Join(parts, "; ")
}

// Unwrap classifies descriptor problems as invalid input, which is never
// retried.
func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// Normalize trims surrounding whitespace from the identifiers, so the id
// that is validated is the id that is fetched and indexed.
func (d Descriptor) Normalize() Descriptor {
	d.EntityID = strings.TrimSpace(d.EntityID)
	d.TenantID = strings.TrimSpace(d.TenantID)
	d.OrganizationID = strings.TrimSpace(d.OrganizationID)
	return d
}

// Validate checks d before it is enqueued or dispatched.
func (d Descriptor) Validate() error {
	errs := make(map[string]string)
	if !d.Operation.Valid() {
		errs["operation"] = fmt.Sprintf("must be one of rebuild, index, update, delete; got %q", d.Operation)
	}
	if d.Operation.Incremental() {
		id := strings.TrimSpace(d.EntityID)
		switch {
		case id == "":
			errs["entityId"] = "entityId is required for " + string(d.Operation)
		case len(id) > maxEntityIDLength:
			errs["entityId"] = fmt.Sprintf("entityId must be at most %d characters", maxEntityIDLength)
		}
		if d.BatchSize != 0 {
			errs["batchSize"] = "batchSize applies to rebuild only"
		}
	}
	if d.BatchSize < 0 || d.BatchSize > maxBatchSize {
		errs["batchSize"] = fmt.Sprintf("batchSize must be between 1 and %d", maxBatchSize)
	}
	if d.TenantID != "" {
		if _, err := uuid.Parse(d.TenantID); err != nil {
			errs["tenantId"] = "tenantId must be a UUID"
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// DecodeDescriptor parses and validates a queued payload. A jobType that
// does not match the descriptor's operation is rejected.
func DecodeDescriptor(jobType string, payload []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return d, &ValidationError{Fields: map[string]string{"payload": err.Error()}}
	}
	if jobType == TypeRebuild && d.Operation == "" {
		d.Operation = OpRebuild
	}
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return d, err
	}
	if d.JobType() != jobType {
		return d, &ValidationError{Fields: map[string]string{
			"operation": fmt.Sprintf("operation %q cannot run as job type %q", d.Operation, jobType),
		}}
	}
	return d, nil
}
