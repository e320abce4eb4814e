// Package schedule issues copy and deletion requests to the replica catalog
// on behalf of one site. Work is split into batches bounded by cumulative
// bytes; a batch the catalog rejects as malformed is bisected until the bad
// items are isolated and dropped. Every request the catalog creates is
// recorded in the history log, and only confirmed work is reported back.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/tonimelisma/replicad/internal/chunk"
	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/metrics"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// ErrScopeViolation is returned when one call mixes replicas of several
// sites. Nothing is submitted.
var ErrScopeViolation = errors.New("schedule: replicas must all be at one site")

// Catalog is the subset of the replica catalog the scheduler uses.
// *phedex.Client satisfies it.
type Catalog interface {
	Subscribe(ctx context.Context, f phedex.SubscriptionForm) (int64, error)
	Delete(ctx context.Context, f phedex.DeletionForm) (int64, error)
	Approve(ctx context.Context, requestID int64, node string) error
	TransferRequests(ctx context.Context, ids []int64) ([]phedex.TransferRequest, error)
	DeleteRequests(ctx context.Context, id int64) ([]phedex.DeleteRequest, error)
	Subscriptions(ctx context.Context, q phedex.SubscriptionQuery) ([]phedex.SubscriptionDataset, error)
	BlockReplicas(ctx context.Context, q phedex.ReplicaQuery) ([]phedex.BlockReplicaRecord, error)
}

// History records issued requests. *history.Store satisfies it.
type History interface {
	Insert(ctx context.Context, rec history.Record) error
	RequestIDs(ctx context.Context, op history.Operation, operationID int64) ([]int64, error)
}

// Sink receives confirmed successes. *inventory.Inventory satisfies it.
type Sink interface {
	MergeDatasetReplicas(replicas []*inventory.DatasetReplica) inventory.ApplyStats
	Remove(replicas []*inventory.BlockReplica) inventory.ApplyStats
	RemoveDatasetReplica(dataset, site string) int
}

// Options carries the optional collaborators of a Copier or Deleter.
type Options struct {
	// Sink, when set, is updated after each call with what the catalog
	// confirmed.
	Sink    Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Now stamps new replicas. Nil means time.Now.
	Now func() time.Time
}

// runner holds what copies and deletions share.
type runner struct {
	catalog Catalog
	history History
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func newRunner(catalog Catalog, hist History, opts Options) runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return runner{
		catalog: catalog,
		history: hist,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  logger,
		now:     now,
	}
}

// item is one entry of a request: a whole dataset (block nil) or one block.
type item struct {
	dataset *inventory.Dataset
	block   *inventory.Block
}

func (it item) size() int64 {
	if it.block != nil {
		return it.block.Size
	}

	return datasetSize(it.dataset)
}

func (it item) same(other item) bool {
	if it.dataset.Name != other.dataset.Name {
		return false
	}

	if it.block == nil || other.block == nil {
		return it.block == nil && other.block == nil
	}

	return it.block.Name == other.block.Name
}

func (it item) String() string {
	if it.block != nil {
		return it.block.FullName()
	}

	return it.dataset.Name
}

// datasetSize is the dataset's recorded size, or the sum of its blocks when
// none is recorded.
func datasetSize(d *inventory.Dataset) int64 {
	if d.Size > 0 {
		return d.Size
	}

	var total int64
	for _, b := range d.Blocks {
		total += b.Size
	}

	return total
}

// unitsByDataset groups items into one unit per dataset, in dataset name
// order. A unit is the smallest piece the chunker may place in a batch.
func unitsByDataset(items []item) [][]item {
	grouped := lo.GroupBy(items, func(it item) string { return it.dataset.Name })

	names := lo.Keys(grouped)
	slices.Sort(names)

	units := make([][]item, 0, len(names))
	for _, name := range names {
		units = append(units, grouped[name])
	}

	return units
}

func unitSize(unit []item) int64 {
	var total int64
	for _, it := range unit {
		total += it.size()
	}

	return total
}

// catalogXML renders items as the request's data payload.
func catalogXML(items []item, dbsInstance string) (string, error) {
	c := phedex.NewCatalog()

	for _, it := range items {
		c.AddDataset(it.dataset.Name, it.dataset.Status == inventory.DatasetProduction)

		if it.block != nil {
			c.AddBlock(it.dataset.Name, it.block.FullName(), it.block.IsOpen)
		}
	}

	return c.XML(dbsInstance)
}

// request describes one (site, level[, group]) run of batches.
type request struct {
	operation   history.Operation
	operationID int64
	site        *inventory.Site
	level       string
	chunkSize   int64
	dbsInstance string
	readOnly    bool
	// submit creates the catalog request for one rendered batch.
	submit func(ctx context.Context, data string) (int64, error)
	// approve decides the approval state of a created request.
	approve func(ctx context.Context, requestID int64) bool
	// needApproval drops unapproved batches from the accepted set.
	needApproval bool
}

// run submits items in size-bounded batches and returns the items the
// catalog confirmed. Validation rejections are bisected; any other error
// stops the run and is returned with the items confirmed so far.
func (r *runner) run(ctx context.Context, req request, items []item) ([]item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	op := string(req.operation)
	logger := r.logger.With(
		slog.String("operation", op),
		slog.Int64("operation_id", req.operationID),
		slog.String("site", req.site.Name),
		slog.String("level", req.level),
	)

	var accepted []item

	submit := func(ctx context.Context, batch []item) error {
		ok, err := r.issue(ctx, req, logger, batch)
		if err != nil {
			return err
		}

		if ok {
			accepted = append(accepted, batch...)
		}

		return nil
	}

	onDrop := func(it item, err error) {
		logger.Error("catalog rejected item, dropping it",
			slog.String("item", it.String()),
			slog.String("error", err.Error()),
		)
	}

	for _, units := range chunk.Split(unitsByDataset(items), unitSize, req.chunkSize) {
		report, err := chunk.Bisect(ctx, lo.Flatten(units), submit, phedex.IsValidation, onDrop)
		r.metrics.Bisected(op, report.MaxDepth, len(report.Dropped))

		if err != nil {
			return accepted, fmt.Errorf("schedule: %s at %s: %w", op, req.site.Name, err)
		}
	}

	return accepted, nil
}

// issue submits one batch, resolves its approval and records it. It reports
// whether the batch counts as done.
func (r *runner) issue(ctx context.Context, req request, logger *slog.Logger, batch []item) (bool, error) {
	op := string(req.operation)

	data, err := catalogXML(batch, req.dbsInstance)
	if err != nil {
		return false, err
	}

	if req.readOnly {
		logger.Info("read-only: request not submitted", slog.Int("items", len(batch)))
		return true, nil
	}

	requestID, err := req.submit(ctx, data)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if phedex.IsValidation(err) {
			outcome = metrics.OutcomeRejected
		}

		r.metrics.Request(op, outcome)
		logger.Error("catalog request failed",
			slog.Int("items", len(batch)),
			slog.String("error", err.Error()),
		)

		return false, err
	}

	approved := req.approve(ctx, requestID)

	r.metrics.Request(op, metrics.OutcomeAccepted)
	r.metrics.Accepted(op, unitSize(batch))
	logger.Info("catalog request created",
		slog.Int64("request_id", requestID),
		slog.Int("items", len(batch)),
		slog.Bool("approved", approved),
	)

	err = r.history.Insert(ctx, history.Record{
		RequestID:   requestID,
		Operation:   req.operation,
		OperationID: req.operationID,
		Approved:    approved,
	})
	if err != nil {
		return false, fmt.Errorf("schedule: recording request %d: %w", requestID, err)
	}

	return approved || !req.needApproval, nil
}

// singleSite returns the one site all names refer to.
func singleSite(sites []*inventory.Site) (*inventory.Site, error) {
	if len(sites) == 0 {
		return nil, nil
	}

	names := lo.Uniq(lo.Map(sites, func(s *inventory.Site, _ int) string {
		if s == nil {
			return ""
		}

		return s.Name
	}))

	if len(names) != 1 || names[0] == "" {
		slices.Sort(names)
		return nil, fmt.Errorf("%w: got %s", ErrScopeViolation, strings.Join(names, ", "))
	}

	return sites[0], nil
}

// validateDataset rejects caller-supplied datasets with malformed names.
func validateDataset(d *inventory.Dataset) error {
	if !inventory.ValidDatasetName(d.Name) {
		return fmt.Errorf("schedule: %w: %q", inventory.ErrInvalidDatasetName, d.Name)
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)

	return keys
}
