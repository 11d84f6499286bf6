package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
)

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  *float64        `json:"_score"`
			Source json.RawMessage `json:"_source"`
			Sort   []any           `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key         any    `json:"key"`
			KeyAsString string `json:"key_as_string"`
			DocCount    int64  `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations"`
	Suggest map[string][]struct {
		Options []struct {
			Text   string          `json:"text"`
			Score  float64         `json:"_score"`
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"options"`
	} `json:"suggest"`
}

// Search runs body against name and converts the response into the
// engine-neutral shape.
func (c *Client) Search(ctx context.Context, name string, body map[string]any) (*engine.SearchResponse, error) {
	reqBody, err := encode(body)
	if err != nil {
		return nil, err
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(name),
		c.es.Search.WithBody(reqBody),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, transportError("search", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	out := &engine.SearchResponse{
		Total: parsed.Hits.Total.Value,
		Hits:  make([]engine.Hit, 0, len(parsed.Hits.Hits)),
	}
	for _, h := range parsed.Hits.Hits {
		out.Hits = append(out.Hits, engine.Hit{ID: h.ID, Score: h.Score, Source: h.Source, Sort: h.Sort})
	}
	if len(parsed.Aggregations) > 0 {
		out.Aggregations = make(map[string][]engine.Bucket, len(parsed.Aggregations))
		for name, agg := range parsed.Aggregations {
			buckets := make([]engine.Bucket, 0, len(agg.Buckets))
			for _, b := range agg.Buckets {
				key := b.KeyAsString
				if key == "" {
					key = fmt.Sprint(b.Key)
				}
				buckets = append(buckets, engine.Bucket{Key: key, DocCount: b.DocCount})
			}
			out.Aggregations[name] = buckets
		}
	}
	if len(parsed.Suggest) > 0 {
		out.Suggestions = make(map[string][]engine.SuggestOption, len(parsed.Suggest))
		for name, entries := range parsed.Suggest {
			var options []engine.SuggestOption
			for _, e := range entries {
				for _, o := range e.Options {
					options = append(options, engine.SuggestOption{Text: o.Text, Score: o.Score, ID: o.ID, Source: o.Source})
				}
			}
			out.Suggestions[name] = options
		}
	}
	return out, nil
}
