// Package elasticsearch implements engine.Engine on go-elasticsearch/v8. It
// works against Elasticsearch and OpenSearch clusters that speak the same
// REST API.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
)

// Client adapts an Elasticsearch client to engine.Engine.
type Client struct {
	es     *elasticsearch.Client
	logger *slog.Logger
}

var _ engine.Engine = (*Client)(nil)

// New builds a Client from configuration. It does not contact the cluster.
func New(cfg config.ElasticsearchConfig) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.RequestTimeout > 0 {
		esCfg.Transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.RequestTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   10,
		}
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{
		es:     es,
		logger: slog.Default().With("component", "elasticsearch"),
	}, nil
}

func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, transportError("checking index "+name, err)
	}
	defer closeBody(res)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("checking index "+name, res)
	}
}

func (c *Client) CreateIndex(ctx context.Context, name string, definition map[string]any) error {
	body, err := encode(definition)
	if err != nil {
		return err
	}
	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithBody(body),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return transportError("creating index "+name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if errType, _ := errorDetails(raw); errType == "resource_already_exists_exception" {
			c.logger.Info("index already exists", "index", name)
			return nil
		}
		return statusError("creating index "+name, res.StatusCode, raw)
	}
	c.logger.Info("index created", "index", name)
	return nil
}

func (c *Client) UpdateMapping(ctx context.Context, name string, mapping map[string]any) error {
	body, err := encode(mapping)
	if err != nil {
		return err
	}
	res, err := c.es.Indices.PutMapping([]string{name}, body,
		c.es.Indices.PutMapping.WithContext(ctx),
	)
	if err != nil {
		return transportError("updating mapping of "+name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("updating mapping of "+name, res)
	}
	return nil
}

// GetMapping returns the mapping of name, i.e. the object holding
// "properties".
func (c *Client) GetMapping(ctx context.Context, name string) (map[string]any, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithIndex(name),
		c.es.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return nil, transportError("reading mapping of "+name, err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFoundf("index %s", name)
	}
	if res.IsError() {
		return nil, responseError("reading mapping of "+name, res)
	}
	var byIndex map[string]struct {
		Mappings map[string]any `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&byIndex); err != nil {
		return nil, fmt.Errorf("decoding mapping of %s: %w", name, err)
	}
	// the response is keyed by the concrete index, which differs from name
	// when name is an alias
	for _, m := range byIndex {
		return m.Mappings, nil
	}
	return nil, apperrors.NotFoundf("index %s", name)
}

func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return transportError("deleting index "+name, err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("deleting index "+name, res)
	}
	c.logger.Info("index deleted", "index", name)
	return nil
}

func (c *Client) IndexDocument(ctx context.Context, name, id string, doc any) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	res, err := c.es.Index(name, body,
		c.es.Index.WithDocumentID(id),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return transportError("indexing document "+id, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("indexing document "+id, res)
	}
	return nil
}

func (c *Client) DeleteDocument(ctx context.Context, name, id string) error {
	res, err := c.es.Delete(name, id, c.es.Delete.WithContext(ctx))
	if err != nil {
		return transportError("deleting document "+id, err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		c.logger.Debug("document already absent", "index", name, "id", id)
		return nil
	}
	if res.IsError() {
		return responseError("deleting document "+id, res)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return transportError("ping", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (*engine.ClusterHealth, error) {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return nil, transportError("cluster health", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return nil, responseError("cluster health", res)
	}
	var h engine.ClusterHealth
	if err := json.NewDecoder(res.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding cluster health: %w", err)
	}
	return &h, nil
}

func encode(v any) (*bytes.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return bytes.NewReader(raw), nil
}

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}

// transportError classifies failures that never produced a response
// (connection refused, timeouts, DNS) as transient.
func transportError(op string, err error) error {
	return apperrors.Transientf("%s: %v", op, err)
}

func responseError(op string, res *esapi.Response) error {
	raw, _ := io.ReadAll(res.Body)
	return statusError(op, res.StatusCode, raw)
}

// statusError maps 429 and 5xx to transient errors and every other
// non-success status to a rejected request.
func statusError(op string, status int, raw []byte) error {
	errType, reason := errorDetails(raw)
	if status == http.StatusTooManyRequests || status >= 500 {
		return apperrors.Transientf("%s: [%d] %s: %s", op, status, errType, reason)
	}
	return apperrors.Newf(apperrors.ErrEngineRequest, http.StatusBadGateway, "%s: [%d] %s: %s", op, status, errType, reason)
}

func errorDetails(raw []byte) (string, string) {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Error) == 0 {
		return "unknown", string(raw)
	}
	var detailed struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body.Error, &detailed); err == nil && detailed.Type != "" {
		return detailed.Type, detailed.Reason
	}
	var plain string
	if err := json.Unmarshal(body.Error, &plain); err == nil {
		return "error", plain
	}
	return "unknown", string(body.Error)
}
