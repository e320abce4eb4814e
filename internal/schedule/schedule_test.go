package schedule

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/replicad/internal/blockid"
	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

const (
	dsD   = "/Primary/Processed-v1/AOD"
	dsE   = "/Second/Processed-v1/AOD"
	dsF   = "/Third/Processed-v1/AOD"
	siteA = "T2_AA_First"
	siteB = "T2_BB_Second"

	bigChunk = int64(1) << 50
)

var fixedNow = time.Unix(1700000000, 0)

var errBadRequest = &phedex.CatalogError{StatusCode: 400, Endpoint: "subscribe", Message: "bad data", Err: phedex.ErrBadRequest}

var errServer = &phedex.CatalogError{StatusCode: 503, Endpoint: "subscribe", Message: "down", Err: phedex.ErrServerError}

// stubCatalog records mutation calls and serves canned status listings.
type stubCatalog struct {
	mu sync.Mutex

	// subscribe and remove decide the fate of a request by its data.
	subscribe func(data string) error
	remove    func(data string) error
	approve   func(id int64, node string) error

	transferRequests []phedex.TransferRequest
	deleteRequests   []phedex.DeleteRequest
	subscriptions    func(q phedex.SubscriptionQuery) []phedex.SubscriptionDataset
	blockReplicas    func(q phedex.ReplicaQuery) []phedex.BlockReplicaRecord

	subscribeForms []phedex.SubscriptionForm
	deleteForms    []phedex.DeletionForm
	approvals      []int64
	subQueries     []phedex.SubscriptionQuery
	transferIDs    []int64
	nextID         int64
}

func (c *stubCatalog) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *stubCatalog) Subscribe(_ context.Context, f phedex.SubscriptionForm) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribeForms = append(c.subscribeForms, f)
	if c.subscribe != nil {
		if err := c.subscribe(f.Data); err != nil {
			return 0, err
		}
	}

	return c.id(), nil
}

func (c *stubCatalog) Delete(_ context.Context, f phedex.DeletionForm) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deleteForms = append(c.deleteForms, f)
	if c.remove != nil {
		if err := c.remove(f.Data); err != nil {
			return 0, err
		}
	}

	return c.id(), nil
}

func (c *stubCatalog) Approve(_ context.Context, id int64, node string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.approvals = append(c.approvals, id)
	if c.approve != nil {
		return c.approve(id, node)
	}

	return nil
}

func (c *stubCatalog) TransferRequests(_ context.Context, ids []int64) ([]phedex.TransferRequest, error) {
	c.transferIDs = append(c.transferIDs, ids...)
	return c.transferRequests, nil
}

func (c *stubCatalog) DeleteRequests(context.Context, int64) ([]phedex.DeleteRequest, error) {
	return c.deleteRequests, nil
}

func (c *stubCatalog) Subscriptions(_ context.Context, q phedex.SubscriptionQuery) ([]phedex.SubscriptionDataset, error) {
	c.subQueries = append(c.subQueries, q)
	if c.subscriptions == nil {
		return nil, nil
	}

	return c.subscriptions(q), nil
}

func (c *stubCatalog) BlockReplicas(_ context.Context, q phedex.ReplicaQuery) ([]phedex.BlockReplicaRecord, error) {
	if c.blockReplicas == nil {
		return nil, nil
	}

	return c.blockReplicas(q), nil
}

func (c *stubCatalog) mutations() int {
	return len(c.subscribeForms) + len(c.deleteForms) + len(c.approvals)
}

// rejectContaining fails any request whose data names one of bad.
func rejectContaining(bad ...string) func(data string) error {
	return func(data string) error {
		for _, b := range bad {
			if strings.Contains(data, b) {
				return errBadRequest
			}
		}

		return nil
	}
}

// memHistory is an in-memory History.
type memHistory struct {
	records []history.Record
	err     error
}

func (h *memHistory) Insert(_ context.Context, rec history.Record) error {
	if h.err != nil {
		return h.err
	}

	h.records = append(h.records, rec)

	return nil
}

func (h *memHistory) RequestIDs(_ context.Context, op history.Operation, operationID int64) ([]int64, error) {
	var ids []int64
	for _, r := range h.records {
		if r.Operation == op && r.OperationID == operationID {
			ids = append(ids, r.RequestID)
		}
	}

	return ids, nil
}

// fixture builds entities in one registry.
type fixture struct {
	t    *testing.T
	reg  *inventory.Registry
	site *inventory.Site
}

func newFixture(t *testing.T, storage inventory.StorageType) *fixture {
	t.Helper()

	reg := inventory.NewRegistry()
	site := reg.Site(siteA)
	site.Storage = storage

	return &fixture{t: t, reg: reg, site: site}
}

// dataset creates a dataset with one block per size, numbered from 1.
func (f *fixture) dataset(name string, sizes ...int64) *inventory.Dataset {
	f.t.Helper()

	ds, err := f.reg.Dataset(name)
	require.NoError(f.t, err)

	for i, size := range sizes {
		ds.AddBlock(blockid.New(0, uint64(i+1)), size)
	}

	return ds
}

func block(ds *inventory.Dataset, n uint64) *inventory.Block {
	return ds.FindBlock(blockid.New(0, n))
}

// blockReplicas returns a non-growing dataset replica holding the numbered
// blocks under group.
func (f *fixture) blockReplicas(ds *inventory.Dataset, group string, blocks ...uint64) *inventory.DatasetReplica {
	dr := inventory.NewDatasetReplica(ds, f.site, false)
	for _, n := range blocks {
		dr.AddBlockReplica(inventory.NewBlockReplica(block(ds, n), f.site, f.reg.Group(group)))
	}

	return dr
}

func (f *fixture) growing(ds *inventory.Dataset, group string) *inventory.DatasetReplica {
	dr := inventory.NewDatasetReplica(ds, f.site, true)
	dr.Group = f.reg.Group(group)

	return dr
}

func testOptions(t *testing.T) Options {
	return Options{Logger: testLogger(t), Now: func() time.Time { return fixedNow }}
}
