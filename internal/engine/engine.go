// Package engine defines the contract between the sync pipeline and the
// external search engine, plus decorators that apply to any implementation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Engine is the search engine as seen by the sync jobs, the migration
// tooling and the search service.
type Engine interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	// CreateIndex treats an already existing index as success.
	CreateIndex(ctx context.Context, name string, definition map[string]any) error
	UpdateMapping(ctx context.Context, name string, mapping map[string]any) error
	GetMapping(ctx context.Context, name string) (map[string]any, error)
	// DeleteIndex treats a missing index as success.
	DeleteIndex(ctx context.Context, name string) error

	// IndexDocument upserts doc under id.
	IndexDocument(ctx context.Context, name, id string, doc any) error
	// BulkIndex upserts every item in one request. When any item fails the
	// returned error is non-nil and the result reports per-item outcomes.
	BulkIndex(ctx context.Context, name string, items []BulkItem) (*BulkResult, error)
	// DeleteDocument treats a missing document as success.
	DeleteDocument(ctx context.Context, name, id string) error

	Search(ctx context.Context, name string, body map[string]any) (*SearchResponse, error)
	Ping(ctx context.Context) error
	Health(ctx context.Context) (*ClusterHealth, error)
}

// BulkItem is one document of a bulk write.
type BulkItem struct {
	ID  string
	Doc any
}

// BulkItemResult is the engine's verdict on one bulk item.
type BulkItemResult struct {
	ID        string `json:"id"`
	Status    int    `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Failed reports whether the item was rejected.
func (r BulkItemResult) Failed() bool {
	return r.Status >= 300 || r.ErrorType != ""
}

// Retryable reports whether the item failed for a reason worth retrying.
func (r BulkItemResult) Retryable() bool {
	return r.Status == 429 || r.Status >= 500
}

// BulkResult summarises a bulk write.
type BulkResult struct {
	Items []BulkItemResult
}

// FailedItems returns the rejected items.
func (r *BulkResult) FailedItems() []BulkItemResult {
	var failed []BulkItemResult
	for _, it := range r.Items {
		if it.Failed() {
			failed = append(failed, it)
		}
	}
	return failed
}

// Succeeded counts accepted items.
func (r *BulkResult) Succeeded() int {
	return len(r.Items) - len(r.FailedItems())
}

// Summary describes the first failure for error messages.
func (r *BulkResult) Summary() string {
	failed := r.FailedItems()
	if len(failed) == 0 {
		return "no failed items"
	}
	first := failed[0]
	return fmt.Sprintf("%d of %d items failed, first %s: [%d] %s: %s",
		len(failed), len(r.Items), first.ID, first.Status, first.ErrorType, first.Reason)
}

// Hit is one search result.
type Hit struct {
	ID     string          `json:"id"`
	Score  *float64        `json:"score,omitempty"`
	Source json.RawMessage `json:"source"`
	Sort   []any           `json:"sort,omitempty"`
}

// Bucket is one terms-aggregation bucket.
type Bucket struct {
	Key      string `json:"key"`
	DocCount int64  `json:"docCount"`
}

// SuggestOption is one completion-suggester option.
type SuggestOption struct {
	Text   string          `json:"text"`
	Score  float64         `json:"score"`
	ID     string          `json:"id,omitempty"`
	Source json.RawMessage `json:"source,omitempty"`
}

// SearchResponse is the engine-neutral view of a search result.
type SearchResponse struct {
	Total        int64                      `json:"total"`
	Hits         []Hit                      `json:"hits"`
	Aggregations map[string][]Bucket        `json:"aggregations,omitempty"`
	Suggestions  map[string][]SuggestOption `json:"suggestions,omitempty"`
}

// ClusterHealth is the subset of cluster health the service reports.
type ClusterHealth struct {
	ClusterName   string `json:"cluster_name"`
	Status        string `json:"status"`
	NumberOfNodes int    `json:"number_of_nodes"`
	ActiveShards  int    `json:"active_shards"`
}
