package schedule

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// DeletionConfig configures a Deleter.
type DeletionConfig struct {
	// ChunkSize bounds the cumulative bytes of one request.
	ChunkSize int64
	// AutoApproval approves each created request at a disk site.
	AutoApproval bool
	// AllowTapeDeletion lifts the tape safety gate.
	AllowTapeDeletion bool
	// TapeAutoApproval approves each created request at a tape site.
	TapeAutoApproval bool
	// ReadOnly makes every request succeed without contacting the catalog
	// or writing history.
	ReadOnly    bool
	DBSInstance string
}

// Deletion names what to remove from one dataset replica. Nil Blocks means
// the whole dataset replica (a dataset-level request).
type Deletion struct {
	Replica *inventory.DatasetReplica
	Blocks  []*inventory.BlockReplica
}

// Deleter schedules deletions at one site at a time.
type Deleter struct {
	runner
	cfg DeletionConfig
}

// NewDeleter returns a Deleter.
func NewDeleter(catalog Catalog, hist History, cfg DeletionConfig, opts Options) *Deleter {
	return &Deleter{runner: newRunner(catalog, hist, opts), cfg: cfg}
}

// ScheduleDeletions requests removal of every entry in deletions, all of
// which must be at the same site. Tape sites are refused unless tape
// deletion is enabled; the refusal returns an empty result and contacts
// nobody. Only approved requests count as deleted. Whole-dataset entries
// come back with nil Blocks; block entries come back with the deleted block
// replicas, or with an empty list when nothing of the dataset was deleted.
// On a fatal
// catalog error the confirmed part is returned together with the error.
func (d *Deleter) ScheduleDeletions(
	ctx context.Context,
	deletions []Deletion,
	operationID int64,
	comments string,
) ([]Deletion, error) {
	sites := make([]*inventory.Site, len(deletions))
	for i, del := range deletions {
		sites[i] = del.Replica.Site
	}

	site, err := singleSite(sites)
	if err != nil || site == nil {
		return nil, err
	}

	if site.Storage == inventory.StorageTape && !d.cfg.AllowTapeDeletion {
		d.logger.Warn("deletion from tape not allowed by configuration", slog.String("site", site.Name))
		return nil, nil
	}

	var (
		datasetItems []item
		blockItems   []item
	)

	// Block replicas by (dataset, block) so results can carry the caller's
	// records back.
	requested := make(map[inventory.BlockKey]*inventory.BlockReplica)
	replicas := make(map[string]*inventory.DatasetReplica)

	for _, del := range deletions {
		if err := validateDataset(del.Replica.Dataset); err != nil {
			return nil, err
		}

		if del.Blocks == nil {
			datasetItems = appendUnique(datasetItems, item{dataset: del.Replica.Dataset})
			continue
		}

		replicas[del.Replica.Dataset.Name] = del.Replica

		for _, br := range del.Blocks {
			blockItems = appendUnique(blockItems, item{dataset: del.Replica.Dataset, block: br.Block})
			requested[br.Block.Key()] = br
		}
	}

	d.logger.Info("scheduling deletions",
		slog.Int("datasets", len(datasetItems)),
		slog.Int("blocks", len(blockItems)),
		slog.String("site", site.Name),
		slog.Int64("operation_id", operationID),
	)

	var out []Deletion

	deletedDatasets, err := d.run(ctx, d.request(operationID, site, phedex.LevelDataset, comments), datasetItems)
	for _, it := range deletedDatasets {
		dr := inventory.NewDatasetReplica(it.dataset, site, false)
		dr.Group = inventory.NullGroup
		out = append(out, Deletion{Replica: dr})
	}

	if err != nil {
		d.commit(site, out)
		return out, err
	}

	deletedBlocks, err := d.run(ctx, d.request(operationID, site, phedex.LevelBlock, comments), blockItems)
	out = append(out, d.blockResults(site, replicas, requested, deletedBlocks)...)
	d.commit(site, out)

	return out, err
}

func (d *Deleter) request(operationID int64, site *inventory.Site, level, comments string) request {
	autoApprove := d.cfg.AutoApproval
	if site.Storage == inventory.StorageTape {
		autoApprove = d.cfg.TapeAutoApproval
	}

	return request{
		operation:    history.OpDeletion,
		operationID:  operationID,
		site:         site,
		level:        level,
		chunkSize:    d.cfg.ChunkSize,
		dbsInstance:  d.cfg.DBSInstance,
		readOnly:     d.cfg.ReadOnly,
		needApproval: true,
		submit: func(ctx context.Context, data string) (int64, error) {
			return d.catalog.Delete(ctx, phedex.DeletionForm{
				Node:                site.Name,
				Level:               level,
				Data:                data,
				RemoveSubscriptions: true,
				Comments:            comments,
			})
		},
		approve: func(ctx context.Context, requestID int64) bool {
			if !autoApprove {
				return false
			}

			if err := d.catalog.Approve(ctx, requestID, site.Name); err != nil {
				d.logger.Error("deletion approval failed",
					slog.Int64("request_id", requestID),
					slog.String("site", site.Name),
					slog.String("error", err.Error()),
				)

				return false
			}

			return true
		},
	}
}

// blockResults builds one Deletion per dataset that had blocks requested,
// in dataset name order. Blocks is never nil so the result stays
// block-level even when the catalog deleted none of them.
func (d *Deleter) blockResults(
	site *inventory.Site,
	replicas map[string]*inventory.DatasetReplica,
	requested map[inventory.BlockKey]*inventory.BlockReplica,
	deleted []item,
) []Deletion {
	now := d.now().Unix()
	byDataset := make(map[string][]*inventory.BlockReplica, len(replicas))
	for name := range replicas {
		byDataset[name] = []*inventory.BlockReplica{}
	}

	for _, it := range deleted {
		br := requested[it.block.Key()].Clone()
		br.LastUpdate = now
		byDataset[it.dataset.Name] = append(byDataset[it.dataset.Name], br)
	}

	var out []Deletion

	for _, name := range sortedKeys(byDataset) {
		src := replicas[name]
		dr := inventory.NewDatasetReplica(src.Dataset, site, src.Growing)
		dr.Group = src.Group

		out = append(out, Deletion{Replica: dr, Blocks: byDataset[name]})
	}

	return out
}

// commit removes confirmed deletions from the sink.
func (d *Deleter) commit(site *inventory.Site, done []Deletion) {
	if d.sink == nil {
		return
	}

	for _, del := range done {
		if del.Blocks == nil {
			d.sink.RemoveDatasetReplica(del.Replica.Dataset.Name, site.Name)
			continue
		}

		d.sink.Remove(del.Blocks)
	}
}
