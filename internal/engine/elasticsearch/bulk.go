package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// BulkIndex writes items as index actions in one NDJSON request. If any item
// is rejected the error is transient when at least one rejection is
// retryable (429 or 5xx), and a rejected request otherwise.
func (c *Client) BulkIndex(ctx context.Context, name string, items []engine.BulkItem) (*engine.BulkResult, error) {
	result := &engine.BulkResult{}
	if len(items) == 0 {
		return result, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		action := map[string]any{"index": map[string]any{"_index": name, "_id": it.ID}}
		if err := enc.Encode(action); err != nil {
			return result, fmt.Errorf("encoding bulk action for %s: %w", it.ID, err)
		}
		if err := enc.Encode(it.Doc); err != nil {
			return result, fmt.Errorf("encoding bulk document %s: %w", it.ID, err)
		}
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithIndex(name),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return result, transportError("bulk indexing", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return result, responseError("bulk indexing", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return result, fmt.Errorf("decoding bulk response: %w", err)
	}
	retryable := false
	for _, entry := range parsed.Items {
		for _, item := range entry {
			r := engine.BulkItemResult{ID: item.ID, Status: item.Status}
			if item.Error != nil {
				r.ErrorType = item.Error.Type
				r.Reason = item.Error.Reason
			}
			if r.Failed() && r.Retryable() {
				retryable = true
			}
			result.Items = append(result.Items, r)
		}
	}

	failed := result.FailedItems()
	if len(failed) == 0 {
		c.logger.Debug("bulk write complete", "index", name, "items", len(items))
		return result, nil
	}
	c.logger.Warn("bulk write had failures", "index", name, "failed", len(failed), "items", len(items))
	if retryable {
		return result, apperrors.Transientf("bulk indexing: %s", result.Summary())
	}
	return result, apperrors.Newf(apperrors.ErrEngineRequest, http.StatusBadGateway, "bulk indexing: %s", result.Summary())
}
