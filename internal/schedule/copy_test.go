package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/replicad/internal/history"
	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/phedex"
)

func newTestCopier(t *testing.T, catalog Catalog, hist History, cfg CopyConfig) *Copier {
	t.Helper()

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bigChunk
	}

	cfg.DBSInstance = "prod/global"

	return NewCopier(catalog, hist, cfg, testOptions(t))
}

func TestScheduleCopies_BlockLevelRequest(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 10, 20)
	catalog := &stubCatalog{}
	hist := &memHistory{}

	out, err := newTestCopier(t, catalog, hist, CopyConfig{AutoApproval: true}).
		ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.blockReplicas(ds, "AnalysisOps", 1, 2)}, 7, "balancing")
	require.NoError(t, err)

	require.Len(t, catalog.subscribeForms, 1)
	form := catalog.subscribeForms[0]
	assert.Equal(t, siteA, form.Node)
	assert.Equal(t, "AnalysisOps", form.Group)
	assert.Equal(t, phedex.LevelBlock, form.Level)
	assert.Equal(t, "low", form.Priority)
	assert.False(t, form.Move)
	assert.False(t, form.Static)
	assert.False(t, form.Custodial)
	assert.False(t, form.RequestOnly)
	assert.False(t, form.NoMail)
	assert.Equal(t, "balancing", form.Comments)
	assert.Contains(t, form.Data, `<dbs name="prod/global">`)
	assert.Contains(t, form.Data, block(ds, 1).FullName())
	assert.Contains(t, form.Data, block(ds, 2).FullName())

	assert.Equal(t, []history.Record{{RequestID: 1, Operation: history.OpCopy, OperationID: 7, Approved: true}}, hist.records)

	require.Len(t, out, 1)
	dr := out[0]
	assert.False(t, dr.Growing)
	require.Len(t, dr.BlockReplicas, 2)

	for _, br := range dr.BlockReplicas {
		assert.Zero(t, br.Size)
		assert.Equal(t, fixedNow.Unix(), br.LastUpdate)
		assert.Equal(t, "AnalysisOps", br.Group.Name)
	}
}

func TestScheduleCopies_ChunksBySize(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	d := f.dataset(dsD, 40)
	e := f.dataset(dsE, 40)
	g := f.dataset(dsF, 40)
	catalog := &stubCatalog{}

	replicas := []*inventory.DatasetReplica{
		f.blockReplicas(g, "G", 1),
		f.blockReplicas(d, "G", 1),
		f.blockReplicas(e, "G", 1),
	}

	out, err := newTestCopier(t, catalog, &memHistory{}, CopyConfig{ChunkSize: 50}).
		ScheduleCopies(context.Background(), replicas, 1, "")
	require.NoError(t, err)
	assert.Len(t, out, 3)

	require.Len(t, catalog.subscribeForms, 2)

	for _, name := range []string{dsD, dsE, dsF} {
		n := 0
		for _, form := range catalog.subscribeForms {
			n += strings.Count(form.Data, `name="`+name+`"`)
		}

		assert.Equal(t, 1, n, "%s appears in exactly one request", name)
	}

	assert.True(t, catalog.subscribeForms[0].RequestOnly, "request-only without auto approval")
}

func TestScheduleCopies_BisectsRejectedBatch(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 1, 1, 1, 1)
	bad := block(ds, 2).FullName()
	catalog := &stubCatalog{subscribe: rejectContaining(bad)}
	hist := &memHistory{}

	out, err := newTestCopier(t, catalog, hist, CopyConfig{AutoApproval: true}).
		ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.blockReplicas(ds, "G", 1, 2, 3, 4)}, 3, "")
	require.NoError(t, err, "a single bad item never fails the whole call")

	assert.Len(t, catalog.subscribeForms, 5)
	assert.Len(t, hist.records, 2, "one history row per created request")

	require.Len(t, out, 1)
	require.Len(t, out[0].BlockReplicas, 3)
	assert.Nil(t, out[0].FindBlockReplica(block(ds, 2).Name))
}

func TestScheduleCopies_FatalErrorStops(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 1, 1)
	catalog := &stubCatalog{subscribe: func(string) error { return errServer }}
	hist := &memHistory{}

	out, err := newTestCopier(t, catalog, hist, CopyConfig{}).
		ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.blockReplicas(ds, "G", 1, 2)}, 3, "")
	require.ErrorIs(t, err, phedex.ErrServerError)
	assert.False(t, phedex.IsValidation(err))

	assert.Len(t, catalog.subscribeForms, 1, "unavailability is never bisected")
	assert.Empty(t, out)
	assert.Empty(t, hist.records)
}

func TestScheduleCopies_ScopeViolation(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 1)
	other := inventory.NewDatasetReplica(ds, f.reg.Site(siteB), false)
	catalog := &stubCatalog{}

	_, err := newTestCopier(t, catalog, &memHistory{}, CopyConfig{}).
		ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.blockReplicas(ds, "G", 1), other}, 1, "")
	require.ErrorIs(t, err, ErrScopeViolation)
	assert.Zero(t, catalog.mutations())
}

func TestScheduleCopies_InvalidDatasetName(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	bad := &inventory.Dataset{Name: "not-a-dataset"}
	catalog := &stubCatalog{}

	_, err := newTestCopier(t, catalog, &memHistory{}, CopyConfig{}).
		ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.growing(bad, "G")}, 1, "")
	require.ErrorIs(t, err, inventory.ErrInvalidDatasetName)
	assert.Zero(t, catalog.mutations())
}

func TestScheduleCopies_MergesLevelsWithoutDuplicates(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	d := f.dataset(dsD, 5, 5)
	e := f.dataset(dsE, 7)
	catalog := &stubCatalog{}

	replicas := []*inventory.DatasetReplica{
		f.growing(d, "G1"),
		f.blockReplicas(d, "G2", 1),
		f.blockReplicas(e, "G2", 1),
	}

	out, err := newTestCopier(t, catalog, &memHistory{}, CopyConfig{AutoApproval: true}).
		ScheduleCopies(context.Background(), replicas, 1, "")
	require.NoError(t, err)

	require.Len(t, catalog.subscribeForms, 2)
	assert.Equal(t, phedex.LevelDataset, catalog.subscribeForms[0].Level)
	assert.Equal(t, "G1", catalog.subscribeForms[0].Group)
	assert.Equal(t, phedex.LevelBlock, catalog.subscribeForms[1].Level)
	assert.Equal(t, "G2", catalog.subscribeForms[1].Group)

	require.Len(t, out, 2)
	assert.Equal(t, dsD, out[0].Dataset.Name)
	assert.True(t, out[0].Growing)
	assert.Equal(t, "G1", out[0].Group.Name)
	assert.Len(t, out[0].BlockReplicas, 2, "block already covered by the dataset-level request is not duplicated")

	assert.Equal(t, dsE, out[1].Dataset.Name)
	assert.False(t, out[1].Growing)
	assert.Len(t, out[1].BlockReplicas, 1)
}

func TestScheduleCopies_ReadOnly(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 1)
	catalog := &stubCatalog{}
	hist := &memHistory{}

	out, err := newTestCopier(t, catalog, hist, CopyConfig{ReadOnly: true}).
		ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.growing(ds, "G")}, 1, "")
	require.NoError(t, err)

	assert.Zero(t, catalog.mutations())
	assert.Empty(t, hist.records)
	require.Len(t, out, 1)
	assert.True(t, out[0].Growing)
}

func TestScheduleCopies_HistoryFailureIsFatal(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 1, 1)
	errDisk := errors.New("disk full")
	catalog := &stubCatalog{}

	_, err := newTestCopier(t, catalog, &memHistory{err: errDisk}, CopyConfig{}).
		ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.blockReplicas(ds, "G", 1, 2)}, 1, "")
	require.ErrorIs(t, err, errDisk)
	assert.Len(t, catalog.subscribeForms, 1)
}

func TestScheduleCopies_CommitsToSink(t *testing.T) {
	f := newFixture(t, inventory.StorageDisk)
	ds := f.dataset(dsD, 3, 4)
	inv := inventory.New(testLogger(t))

	opts := testOptions(t)
	opts.Sink = inv
	copier := NewCopier(&stubCatalog{}, &memHistory{}, CopyConfig{ChunkSize: bigChunk, AutoApproval: true}, opts)

	_, err := copier.ScheduleCopies(context.Background(), []*inventory.DatasetReplica{f.growing(ds, "G")}, 1, "")
	require.NoError(t, err)

	assert.Equal(t, 2, inv.BlockReplicaCount())

	replicas := inv.DatasetReplicas()
	require.Len(t, replicas, 1)
	assert.True(t, replicas[0].Growing)
}

func TestScheduleCopies_EmptyInput(t *testing.T) {
	catalog := &stubCatalog{}

	out, err := newTestCopier(t, catalog, &memHistory{}, CopyConfig{}).ScheduleCopies(context.Background(), nil, 1, "")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, catalog.mutations())
}
