// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/engine"
)

// Fake records every call and stores documents in memory. The optional hook
// functions inject failures; they receive the 1-based call number.
type Fake struct {
	mu sync.Mutex

	Indices  map[string]map[string]any
	Mappings map[string]map[string]any
	Docs     map[string]map[string]any

	BulkBatches [][]engine.BulkItem
	IndexCalls  int
	DeleteCalls int
	SearchCalls int
	LastSearch  map[string]any

	CreateErr  error
	BulkErr    func(call int, items []engine.BulkItem) error
	IndexErr   func(call int, id string) error
	DeleteErr  func(call int, id string) error
	SearchFunc func(name string, body map[string]any) (*engine.SearchResponse, error)
	PingErr    error
}

var _ engine.Engine = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Indices:  make(map[string]map[string]any),
		Mappings: make(map[string]map[string]any),
		Docs:     make(map[string]map[string]any),
	}
}

func (f *Fake) IndexExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Indices[name]
	return ok, nil
}

func (f *Fake) CreateIndex(_ context.Context, name string, definition map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return f.CreateErr
	}
	if _, ok := f.Indices[name]; ok {
		return nil
	}
	f.Indices[name] = definition
	if m, ok := definition["mappings"].(map[string]any); ok {
		f.Mappings[name] = m
	}
	if _, ok := f.Docs[name]; !ok {
		f.Docs[name] = make(map[string]any)
	}
	return nil
}

func (f *Fake) UpdateMapping(_ context.Context, name string, mapping map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Mappings[name] = mapping
	return nil
}

func (f *Fake) GetMapping(_ context.Context, name string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Mappings[name], nil
}

func (f *Fake) DeleteIndex(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Indices, name)
	delete(f.Mappings, name)
	delete(f.Docs, name)
	return nil
}

func (f *Fake) IndexDocument(_ context.Context, name, id string, doc any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IndexCalls++
	if f.IndexErr != nil {
		if err := f.IndexErr(f.IndexCalls, id); err != nil {
			return err
		}
	}
	f.put(name, id, doc)
	return nil
}

func (f *Fake) BulkIndex(_ context.Context, name string, items []engine.BulkItem) (*engine.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BulkBatches = append(f.BulkBatches, append([]engine.BulkItem(nil), items...))
	res := &engine.BulkResult{}
	if f.BulkErr != nil {
		if err := f.BulkErr(len(f.BulkBatches), items); err != nil {
			return res, err
		}
	}
	for _, it := range items {
		f.put(name, it.ID, it.Doc)
		res.Items = append(res.Items, engine.BulkItemResult{ID: it.ID, Status: 200})
	}
	return res, nil
}

func (f *Fake) DeleteDocument(_ context.Context, name, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteErr != nil {
		if err := f.DeleteErr(f.DeleteCalls, id); err != nil {
			return err
		}
	}
	if docs, ok := f.Docs[name]; ok {
		delete(docs, id)
	}
	return nil
}

func (f *Fake) Search(_ context.Context, name string, body map[string]any) (*engine.SearchResponse, error) {
	f.mu.Lock()
	f.SearchCalls++
	f.LastSearch = body
	fn := f.SearchFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(name, body)
	}
	return &engine.SearchResponse{}, nil
}

func (f *Fake) Ping(context.Context) error {
	return f.PingErr
}

func (f *Fake) Health(context.Context) (*engine.ClusterHealth, error) {
	if f.PingErr != nil {
		return nil, f.PingErr
	}
	return &engine.ClusterHealth{ClusterName: "fake", Status: "green", NumberOfNodes: 1}, nil
}

// Doc returns a stored document.
func (f *Fake) Doc(index, id string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.Docs[index][id]
	return doc, ok
}

// DocCount returns the number of stored documents in index.
func (f *Fake) DocCount(index string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Docs[index])
}

// BulkSizes returns the item count of every bulk call so far.
func (f *Fake) BulkSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, 0, len(f.BulkBatches))
	for _, b := range f.BulkBatches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func (f *Fake) put(index, id string, doc any) {
	docs, ok := f.Docs[index]
	if !ok {
		docs = make(map[string]any)
		f.Docs[index] = docs
	}
	docs[id] = doc
}
