package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// CatalogNode is a storage node served by FakeCatalog.
type CatalogNode struct {
	Name string
	SE   string
	Kind string
}

// CatalogBlock is a block served by FakeCatalog with complete replicas at
// the listed nodes.
type CatalogBlock struct {
	Dataset string
	Name    string // full name, dataset#uuid
	Bytes   int64
	Files   int64
	Nodes   []string
	Group   string
	Updated int64
}

// CatalogCall is one mutating request received by FakeCatalog.
type CatalogCall struct {
	Endpoint string
	Form     url.Values
}

// FakeCatalog is an in-memory replica catalog speaking the JSON data
// service envelope. Mutations are recorded and answered with increasing
// request ids starting at 1000.
type FakeCatalog struct {
	Server *httptest.Server

	mu     sync.Mutex
	nodes  []CatalogNode
	blocks []CatalogBlock
	calls  []CatalogCall
	nextID int64
}

// NewFakeCatalog starts a catalog server that is closed with the test.
func NewFakeCatalog(t *testing.T, nodes []CatalogNode, blocks []CatalogBlock) *FakeCatalog {
	t.Helper()

	fc := &FakeCatalog{nodes: nodes, blocks: blocks, nextID: 1000}
	fc.Server = httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(fc.Server.Close)

	return fc
}

// URL is the catalog base URL.
func (fc *FakeCatalog) URL() string {
	return fc.Server.URL + "/phedex/datasvc/json/prod"
}

// Calls returns the mutating requests received so far.
func (fc *FakeCatalog) Calls() []CatalogCall {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	return append([]CatalogCall(nil), fc.calls...)
}

func (fc *FakeCatalog) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	switch endpoint {
	case "nodes":
		writeEnvelope(w, "node", fc.nodeList(r.Form.Get("node")))
	case "blockreplicas":
		writeEnvelope(w, "block", fc.blockList(r.Form))
	case "filereplicas":
		writeEnvelope(w, "block", []any{})
	case "subscriptions":
		writeEnvelope(w, "dataset", []any{})
	case "deletions":
		writeEnvelope(w, "dataset", []any{})
	case "subscribe", "delete":
		fc.calls = append(fc.calls, CatalogCall{Endpoint: endpoint, Form: r.PostForm})
		fc.nextID++
		writeEnvelope(w, "request_created", []map[string]int64{{"id": fc.nextID}})
	case "updaterequest":
		fc.calls = append(fc.calls, CatalogCall{Endpoint: endpoint, Form: r.PostForm})
		writeEnvelope(w, "request_updated", []any{})
	default:
		http.NotFound(w, r)
	}
}

func (fc *FakeCatalog) nodeList(name string) []map[string]string {
	out := []map[string]string{}

	for _, n := range fc.nodes {
		if name != "" && n.Name != name {
			continue
		}

		out = append(out, map[string]string{"name": n.Name, "se": n.SE, "kind": n.Kind, "technology": ""})
	}

	return out
}

func (fc *FakeCatalog) blockList(q url.Values) []map[string]any {
	out := []map[string]any{}

	for _, b := range fc.blocks {
		if ds := q.Get("dataset"); ds != "" && b.Dataset != ds {
			continue
		}

		if name := q.Get("block"); name != "" && b.Name != name {
			continue
		}

		var replicas []map[string]any

		for _, node := range b.Nodes {
			if n := q.Get("node"); n != "" && n != node {
				continue
			}

			replicas = append(replicas, map[string]any{
				"node":        node,
				"bytes":       b.Bytes,
				"files":       b.Files,
				"group":       b.Group,
				"custodial":   "n",
				"complete":    "y",
				"time_create": b.Updated,
				"time_update": b.Updated,
			})
		}

		if len(replicas) == 0 {
			continue
		}

		out = append(out, map[string]any{
			"name":    b.Name,
			"bytes":   b.Bytes,
			"files":   b.Files,
			"is_open": "n",
			"replica": replicas,
		})
	}

	return out
}

func writeEnvelope(w http.ResponseWriter, key string, list any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"phedex": map[string]any{key: list}})
}
