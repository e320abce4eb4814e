package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/phedex"
)

func newTestDeleter(t *testing.T, catalog Catalog, hist History, cfg DeletionConfig) *Deleter {
	t.Helper()

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bigChunk
	}

	return NewDeleter(catalog, hist, cfg, testOptions(t))
}

// partial returns a block-level deletion of the numbered blocks.
func (f *fixture) partial(ds *inventory.Dataset, blocks ...uint64) Deletion {
	dr := f.blockReplicas(ds, "G", blocks...)
	return Deletion{Replica: dr, Blocks: dr.BlockReplicas}
}

func (f *fixture) whole(ds *inventory.Dataset) Deletion {
	return Deletion{Replica: inventory.NewDatasetReplica(ds, f.site, false)}
}

func TestScheduleDeletions_TapeGate(t *testing.T) {
	f := newFixture(t, inventory.StorageTape)
	ds := f.dataset(dsD, 10)
	catalog := &stubCatalog{}
	hist := &memHistory{}

	out, err := newTestDeleter(t, catalog, hist, DeletionConfig{AutoApproval: true, TapeAutoApproval: true}).
		ScheduleDeletions(context.Background(), []Deletion{f.whole(ds), f.partial(ds, 1)}, 1, "")
	require.NoError(t, err, "the tape gate is not an error")
	assert.Empty(t, out)
	assert.Zero(t, catalog.mutations(), "no external mutation calls")
	assert.Empty(t, hist.records)
}

func TestScheduleDeletions_TapeAllowedUsesTapeApproval(t *testing.T) {
	f := newFixture(t, inventory.StorageTape)
	ds := f.dataset(dsD, 10)
	catalog := &stubCatalog{}
	hist := &memHistory{}

	cfg := DeletionConfig{AllowTapeDeletion: true, AutoApproval: true, TapeAutoApproval: false}

	out, err := newTestDeleter(t, catalog, hist, cfg).
		ScheduleDeletions(context.Background(), []Deletion{f.whole(ds)}, 4, "")
	require.NoError(t, err)

	assert.Len(t, catalog.deleteForms, 1)
	assert.Empty(t, catalog.approvals, "tape requests wait for manual approval")
	require.Len(t, hist.records, 1)
	assert.False(t, hist.records[0].Approved)
	assert.Empty(t, out, "unapproved deletions are not reported as done")
}

func TestScheduleDeletions_ApprovesAndReports(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	d := f.dataset(dsD, 10, 10)
	e := f.dataset(dsE, 5, 5, 5)
	catalog := &stubCatalog{}
	hist := &memHistory{}

	out, err := newTestDeleter(t, catalog, hist, DeletionConfig{AutoApproval: true}).
		ScheduleDeletions(context.Background(), []Deletion{f.whole(d), f.partial(e, 1, 3)}, 9, "cleanup")
	require.NoError(t, err)

	require.Len(t, catalog.deleteForms, 2)
	assert.Equal(t, phedex.LevelDataset, catalog.deleteForms[0].Level)
	assert.Equal(t, phedex.LevelBlock, catalog.deleteForms[1].Level)

	for _, form := range catalog.deleteForms {
		assert.True(t, form.RemoveSubscriptions)
		assert.Equal(t, siteA, form.Node)
		assert.Equal(t, "cleanup", form.Comments)
	}

	assert.Equal(t, []int64{1, 2}, catalog.approvals)
	assert.Equal(t, []history.Record{
		{RequestID: 1, Operation: history.OpDeletion, OperationID: 9, Approved: true},
		{RequestID: 2, Operation: history.OpDeletion, OperationID: 9, Approved: true},
	}, hist.records)

	require.Len(t, out, 2)

	assert.Equal(t, dsD, out[0].Replica.Dataset.Name)
	assert.Nil(t, out[0].Blocks, "whole dataset")
	assert.True(t, out[0].Replica.Group.IsNull())

	assert.Equal(t, dsE, out[1].Replica.Dataset.Name)
	require.Len(t, out[1].Blocks, 2)

	for _, br := range out[1].Blocks {
		assert.Equal(t, fixedNow.Unix(), br.LastUpdate)
	}
}

func TestScheduleDeletions_ApprovalFailure(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 10)
	catalog := &stubCatalog{approve: func(int64, string) error { return errors.New("approval refused") }}
	hist := &memHistory{}

	out, err := newTestDeleter(t, catalog, hist, DeletionConfig{AutoApproval: true}).
		ScheduleDeletions(context.Background(), []Deletion{f.partial(ds, 1)}, 2, "")
	require.NoError(t, err)

	require.Len(t, hist.records, 1)
	assert.False(t, hist.records[0].Approved)
	require.Len(t, out, 1, "the dataset is reported with nothing deleted")
	assert.NotNil(t, out[0].Blocks)
	assert.Empty(t, out[0].Blocks)
}

func TestScheduleDeletions_BisectionKeepsDatasetWithNothingDeleted(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	d := f.dataset(dsD, 10)
	e := f.dataset(dsE, 10)
	bad := block(d, 1).FullName()
	catalog := &stubCatalog{remove: rejectContaining(bad)}

	out, err := newTestDeleter(t, catalog, &memHistory{}, DeletionConfig{AutoApproval: true}).
		ScheduleDeletions(context.Background(), []Deletion{f.partial(d, 1), f.partial(e, 1)}, 2, "")
	require.NoError(t, err)

	// [d1 e1] rejected, [d1] rejected and dropped, [e1] accepted.
	assert.Len(t, catalog.deleteForms, 3)
	require.Len(t, out, 2)

	assert.Equal(t, dsD, out[0].Replica.Dataset.Name)
	assert.NotNil(t, out[0].Blocks, "still a block-level result")
	assert.Empty(t, out[0].Blocks)

	assert.Equal(t, dsE, out[1].Replica.Dataset.Name)
	require.Len(t, out[1].Blocks, 1)
	assert.Equal(t, block(e, 1).Key(), out[1].Blocks[0].Block.Key())
}

func TestScheduleDeletions_FatalError(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	d := f.dataset(dsD, 10)
	e := f.dataset(dsE, 10)

	calls := 0
	catalog := &stubCatalog{remove: func(string) error {
		calls++
		if calls > 1 {
			return errServer
		}

		return nil
	}}

	out, err := newTestDeleter(t, catalog, &memHistory{}, DeletionConfig{AutoApproval: true}).
		ScheduleDeletions(context.Background(), []Deletion{f.whole(d), f.partial(e, 1)}, 2, "")
	require.ErrorIs(t, err, phedex.ErrServerError)

	require.Len(t, out, 2, "confirmed dataset-level work is still returned")
	assert.Equal(t, dsD, out[0].Replica.Dataset.Name)
	assert.Nil(t, out[0].Blocks)
	assert.Equal(t, dsE, out[1].Replica.Dataset.Name)
	assert.Empty(t, out[1].Blocks, "no block request was confirmed")
}

func TestScheduleDeletions_ScopeViolation(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 10)
	other := Deletion{Replica: inventory.NewDatasetReplica(ds, f.reg.Site(siteB), false)}
	catalog := &stubCatalog{}

	_, err := newTestDeleter(t, catalog, &memHistory{}, DeletionConfig{}).
		ScheduleDeletions(context.Background(), []Deletion{f.whole(ds), other}, 1, "")
	require.ErrorIs(t, err, ErrScopeViolation)
	assert.Zero(t, catalog.mutations())
}

func TestScheduleDeletions_ReadOnly(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 10)
	catalog := &stubCatalog{}
	hist := &memHistory{}

	out, err := newTestDeleter(t, catalog, hist, DeletionConfig{ReadOnly: true}).
		ScheduleDeletions(context.Background(), []Deletion{f.whole(ds)}, 1, "")
	require.NoError(t, err)

	assert.Zero(t, catalog.mutations())
	assert.Empty(t, hist.records)
	assert.Len(t, out, 1, "read-only deletions count as approved")
}

func TestScheduleDeletions_CommitsToSink(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	d := f.dataset(dsD, 1, 1)
	e := f.dataset(dsE, 1, 1)

	inv := inventory.New(testLogger(t))
	inv.Apply(f.blockReplicas(d, "G", 1, 2).BlockReplicas)
	inv.Apply(f.blockReplicas(e, "G", 1, 2).BlockReplicas)
	require.Equal(t, 4, inv.BlockReplicaCount())

	opts := testOptions(t)
	opts.Sink = inv
	deleter := NewDeleter(&stubCatalog{}, &memHistory{}, DeletionConfig{ChunkSize: bigChunk, AutoApproval: true}, opts)

	_, err := deleter.ScheduleDeletions(context.Background(), []Deletion{f.whole(d), f.partial(e, 2)}, 1, "")
	require.NoError(t, err)

	assert.Equal(t, 1, inv.BlockReplicaCount())
	replicas := inv.DatasetReplicas()
	require.Len(t, replicas, 1)
	assert.Equal(t, dsE, replicas[0].Dataset.Name)
}
