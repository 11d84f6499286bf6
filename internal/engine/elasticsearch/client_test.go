package elasticsearch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// fakeCluster answers with canned responses keyed by "METHOD path".
type fakeCluster struct {
	mu        sync.Mutex
	responses map[string]func(body string) (int, string)
	requests  []recordedRequest
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(raw)})
	handler, ok := f.responses[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"not_configured","reason":"no canned response"},"status":404}`))
		return
	}
	status, body := handler(string(raw))
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func canned(status int, body string) func(string) (int, string) {
	return func(string) (int, string) { return status, body }
}

func newTestClient(t *testing.T, responses map[string]func(string) (int, string)) (*Client, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{responses: responses}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	c, err := New(config.ElasticsearchConfig{Addresses: []string{srv.URL}, MaxRetries: 0})
	require.NoError(t, err)
	return c, cluster
}

func TestCreateIndexAlreadyExistsIsSuccess(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(string) (int, string){
		"PUT /business_leads": canned(400, `{"error":{"type":"resource_already_exists_exception","reason":"index [business_leads] already exists"},"status":400}`),
	})
	assert.NoError(t, c.CreateIndex(context.Background(), "business_leads", map[string]any{"mappings": map[string]any{}}))
}

func TestCreateIndexOtherBadRequestIsRejected(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(string) (int, string){
		"PUT /business_leads": canned(400, `{"error":{"type":"mapper_parsing_exception","reason":"unknown type"},"status":400}`),
	})
	err := c.CreateIndex(context.Background(), "business_leads", map[string]any{})
	assert.ErrorIs(t, err, apperrors.ErrEngineRequest)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestIndexExists(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(string) (int, string){
		"HEAD /business_leads": canned(200, ``),
	})
	ok, err := c.IndexExists(context.Background(), "business_leads")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IndexExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(string) (int, string){})
	assert.NoError(t, c.DeleteDocument(context.Background(), "business_leads", "never-indexed"))
	assert.NoError(t, c.DeleteIndex(context.Background(), "missing"))
}

func TestIndexDocumentClassifiesStatus(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(string) (int, string){
		"PUT /business_leads/_doc/b-1": canned(503, `{"error":{"type":"unavailable_shards_exception","reason":"primary shard is not active"},"status":503}`),
		"PUT /business_leads/_doc/b-2": canned(400, `{"error":{"type":"strict_dynamic_mapping_exception","reason":"mapping set to strict"},"status":400}`),
		"PUT /business_leads/_doc/b-3": canned(201, `{"result":"created"}`),
	})
	ctx := context.Background()

	err := c.IndexDocument(ctx, "business_leads", "b-1", map[string]any{"id": "b-1"})
	assert.ErrorIs(t, err, apperrors.ErrTransient)

	err = c.IndexDocument(ctx, "business_leads", "b-2", map[string]any{"id": "b-2"})
	assert.ErrorIs(t, err, apperrors.ErrEngineRequest)

	assert.NoError(t, c.IndexDocument(ctx, "business_leads", "b-3", map[string]any{"id": "b-3"}))
}

func TestBulkIndexWritesNDJSONAndReportsItems(t *testing.T) {
	c, cluster := newTestClient(t, map[string]func(string) (int, string){
		"POST /business_leads/_bulk": canned(200, `{"errors":true,"items":[
			{"index":{"_id":"b-1","status":201}},
			{"index":{"_id":"b-2","status":429,"error":{"type":"es_rejected_execution_exception","reason":"queue full"}}}
		]}`),
	})

	res, err := c.BulkIndex(context.Background(), "business_leads", []engine.BulkItem{
		{ID: "b-1", Doc: map[string]any{"id": "b-1", "name": "Acme"}},
		{ID: "b-2", Doc: map[string]any{"id": "b-2", "name": "Globex"}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.Equal(t, 1, res.Succeeded())
	require.Len(t, res.FailedItems(), 1)
	assert.Equal(t, "b-2", res.FailedItems()[0].ID)

	require.Len(t, cluster.requests, 1)
	sc := bufio.NewScanner(strings.NewReader(cluster.requests[0].Body))
	var lines []map[string]any
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 4)
	assert.Equal(t, map[string]any{"index": map[string]any{"_index": "business_leads", "_id": "b-1"}}, lines[0])
	assert.Equal(t, "Acme", lines[1]["name"])
}

func TestBulkIndexMappingRejectionIsNotRetryable(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(string) (int, string){
		"POST /business_leads/_bulk": canned(200, `{"errors":true,"items":[
			{"index":{"_id":"b-1","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [revenue]"}}}
		]}`),
	})
	_, err := c.BulkIndex(context.Background(), "business_leads", []engine.BulkItem{{ID: "b-1", Doc: map[string]any{}}})
	assert.ErrorIs(t, err, apperrors.ErrEngineRequest)
}

func TestSearchParsesHitsAggregationsAndSuggestions(t *testing.T) {
	c, cluster := newTestClient(t, map[string]func(string) (int, string){
		"POST /business_leads/_search": canned(200, `{
			"hits":{"total":{"value":42,"relation":"eq"},"hits":[
				{"_id":"b-1","_score":3.5,"_source":{"id":"b-1","name":"Acme"}},
				{"_id":"b-2","_score":null,"_source":{"id":"b-2","name":"Globex"},"sort":[1200]}
			]},
			"aggregations":{"industries":{"buckets":[{"key":"software","doc_count":30},{"key":"retail","doc_count":12}]}},
			"suggest":{"name_suggest":[{"text":"ac","options":[{"text":"Acme","_score":1.0,"_id":"b-1"}]}]}
		}`),
	})

	res, err := c.Search(context.Background(), "business_leads", map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.Total)
	require.Len(t, res.Hits, 2)
	require.NotNil(t, res.Hits[0].Score)
	assert.Equal(t, 3.5, *res.Hits[0].Score)
	assert.Nil(t, res.Hits[1].Score)
	assert.Equal(t, []engine.Bucket{{Key: "software", DocCount: 30}, {Key: "retail", DocCount: 12}}, res.Aggregations["industries"])
	assert.Equal(t, "Acme", res.Suggestions["name_suggest"][0].Text)
	assert.Contains(t, cluster.requests[0].Body, "match_all")
}

func TestGetMappingUnwrapsIndexKey(t *testing.T) {
	c, _ := newTestClient(t, map[string]func(string) (int, string){
		"GET /business_leads/_mapping": canned(200, `{"business_leads_v2":{"mappings":{"dynamic":"strict","properties":{"id":{"type":"keyword"}}}}}`),
	})
	m, err := c.GetMapping(context.Background(), "business_leads")
	require.NoError(t, err)
	assert.Contains(t, m["properties"], "id")
}
