package inventory

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tonimelisma/replicad/internal/blockid"
)

// ApplyStats counts the outcome of merging replicas into an Inventory.
type ApplyStats struct {
	Added   int
	Updated int
	Removed int
}

// Inventory is the long-lived, shared replica inventory. It is written by
// the reconciliation engine (completed sync results) and the mutation
// scheduler (confirmed successes). A replica already present is always
// merged in place, never inserted twice.
//
// Lock order: a per-(block, site) key lock first, then mu. mu guards the
// maps and slices; the key lock guards a block replica's fields. Writers to
// different keys never wait on each other beyond the brief map update.
type Inventory struct {
	mu       sync.RWMutex
	sites    map[string]*Site
	groups   map[string]*Group
	datasets map[string]*Dataset
	replicas map[DatasetSiteKey]*DatasetReplica

	keys   *keyLock
	logger *slog.Logger
}

// New returns an empty inventory.
func New(logger *slog.Logger) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Inventory{
		sites:    make(map[string]*Site),
		groups:   make(map[string]*Group),
		datasets: make(map[string]*Dataset),
		replicas: make(map[DatasetSiteKey]*DatasetReplica),
		keys:     newKeyLock(),
		logger:   logger,
	}
}

// Apply merges block replicas produced by a sync (or a copy) into the
// inventory. Entities are adopted by name; the inventory never keeps
// pointers into the caller's registry.
func (inv *Inventory) Apply(replicas []*BlockReplica) ApplyStats {
	var stats ApplyStats

	for _, br := range replicas {
		if inv.applyOne(br) {
			stats.Added++
		} else {
			stats.Updated++
		}
	}

	inv.logger.Debug("inventory: applied replicas",
		slog.Int("added", stats.Added),
		slog.Int("updated", stats.Updated),
	)

	return stats
}

func (inv *Inventory) applyOne(br *BlockReplica) bool {
	unlock := inv.keys.Lock(br.Key())
	defer unlock()

	inv.mu.Lock()
	site := inv.adoptSiteLocked(br.Site)
	group := inv.adoptGroupLocked(br.Group)
	block := inv.adoptBlockLocked(br.Block)
	dr := inv.datasetReplicaLocked(block.Dataset, site)

	// The block is shared with every other site's replica; its size is
	// only read under mu.
	blockSize := block.Size

	existing := dr.FindBlockReplica(block.Name)
	added := existing == nil

	if added {
		existing = NewBlockReplica(block, site, group)
		dr.BlockReplicas = append(dr.BlockReplicas, existing)
	}
	inv.mu.Unlock()

	existing.CopyFrom(br)
	existing.Group = group

	if existing.complete {
		existing.Size = blockSize
	}

	return added
}

// MergeDatasetReplicas applies the block replicas of each dataset replica
// and carries over the growing flag and its group.
func (inv *Inventory) MergeDatasetReplicas(replicas []*DatasetReplica) ApplyStats {
	var stats ApplyStats

	for _, dr := range replicas {
		s := inv.Apply(dr.BlockReplicas)
		stats.Added += s.Added
		stats.Updated += s.Updated

		if !dr.Growing {
			continue
		}

		inv.mu.Lock()
		site := inv.adoptSiteLocked(dr.Site)
		dataset := inv.adoptDatasetLocked(dr.Dataset)
		own := inv.datasetReplicaLocked(dataset, site)
		own.Growing = true
		own.Group = inv.adoptGroupLocked(dr.Group)
		inv.mu.Unlock()
	}

	return stats
}

// Remove drops the given block replicas. Dataset replicas left without
// block replicas are dropped too unless they are growing.
func (inv *Inventory) Remove(replicas []*BlockReplica) ApplyStats {
	var stats ApplyStats

	for _, br := range replicas {
		if inv.removeOne(br.Key()) {
			stats.Removed++
		}
	}

	inv.logger.Debug("inventory: removed replicas", slog.Int("removed", stats.Removed))

	return stats
}

func (inv *Inventory) removeOne(key ReplicaKey) bool {
	unlock := inv.keys.Lock(key)
	defer unlock()

	inv.mu.Lock()
	defer inv.mu.Unlock()

	dsKey := DatasetSiteKey{Dataset: key.Block.Dataset, Site: key.Site}

	dr, ok := inv.replicas[dsKey]
	if !ok {
		return false
	}

	removed := dr.RemoveBlockReplica(key.Block.Name)
	if len(dr.BlockReplicas) == 0 && !dr.Growing {
		delete(inv.replicas, dsKey)
	}

	return removed
}

// RemoveDatasetReplica drops a whole dataset replica with every block
// replica it holds.
func (inv *Inventory) RemoveDatasetReplica(dataset, site string) int {
	inv.mu.RLock()
	dr, ok := inv.replicas[DatasetSiteKey{Dataset: dataset, Site: site}]

	var keys []ReplicaKey
	if ok {
		for _, br := range dr.BlockReplicas {
			keys = append(keys, br.Key())
		}
	}
	inv.mu.RUnlock()

	removed := 0

	for _, key := range keys {
		if inv.removeOne(key) {
			removed++
		}
	}

	inv.mu.Lock()
	delete(inv.replicas, DatasetSiteKey{Dataset: dataset, Site: site})
	inv.mu.Unlock()

	return removed
}

// Lookup returns a copy of the block replica under key.
func (inv *Inventory) Lookup(key ReplicaKey) (*BlockReplica, bool) {
	unlock := inv.keys.Lock(key)
	defer unlock()

	inv.mu.RLock()
	defer inv.mu.RUnlock()

	dr, ok := inv.replicas[DatasetSiteKey{Dataset: key.Block.Dataset, Site: key.Site}]
	if !ok {
		return nil, false
	}

	br := dr.FindBlockReplica(key.Block.Name)
	if br == nil {
		return nil, false
	}

	return br.Clone(), true
}

// DatasetReplicas returns a snapshot of every dataset replica, ordered by
// dataset then site. Block replicas in the snapshot are copies.
func (inv *Inventory) DatasetReplicas() []*DatasetReplica {
	inv.mu.RLock()
	keys := make([]DatasetSiteKey, 0, len(inv.replicas))
	for k := range inv.replicas {
		keys = append(keys, k)
	}
	inv.mu.RUnlock()

	slices.SortFunc(keys, func(a, b DatasetSiteKey) int {
		if c := strings.Compare(a.Dataset, b.Dataset); c != 0 {
			return c
		}

		return strings.Compare(a.Site, b.Site)
	})

	out := make([]*DatasetReplica, 0, len(keys))

	for _, k := range keys {
		if snap := inv.snapshotDatasetReplica(k); snap != nil {
			out = append(out, snap)
		}
	}

	return out
}

func (inv *Inventory) snapshotDatasetReplica(key DatasetSiteKey) *DatasetReplica {
	inv.mu.RLock()
	dr, ok := inv.replicas[key]
	if !ok {
		inv.mu.RUnlock()
		return nil
	}

	snap := &DatasetReplica{Dataset: dr.Dataset, Site: dr.Site, Growing: dr.Growing, Group: dr.Group}
	keys := make([]ReplicaKey, 0, len(dr.BlockReplicas))
	for _, br := range dr.BlockReplicas {
		keys = append(keys, br.Key())
	}
	inv.mu.RUnlock()

	for _, k := range keys {
		if br, ok := inv.Lookup(k); ok {
			snap.BlockReplicas = append(snap.BlockReplicas, br)
		}
	}

	return snap
}

// BlockReplicaCount returns the number of block replicas held.
func (inv *Inventory) BlockReplicaCount() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	n := 0
	for _, dr := range inv.replicas {
		n += len(dr.BlockReplicas)
	}

	return n
}

// Site returns the inventory's site of that name, or nil.
func (inv *Inventory) Site(name string) *Site {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	return inv.sites[name]
}

// Dataset returns the inventory's dataset of that name, or nil.
func (inv *Inventory) Dataset(name string) *Dataset {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	return inv.datasets[name]
}

func (inv *Inventory) adoptSiteLocked(s *Site) *Site {
	own, ok := inv.sites[s.Name]
	if !ok {
		own = &Site{}
		*own = *s
		inv.sites[s.Name] = own

		return own
	}

	// Lazily created sites carry no host or storage class; keep what we know.
	if s.Host != "" {
		own.Host = s.Host
	}

	if s.Storage != "" && s.Storage != StorageUnknown {
		own.Storage = s.Storage
	}

	return own
}

func (inv *Inventory) adoptGroupLocked(g *Group) *Group {
	if g.IsNull() {
		return NullGroup
	}

	own, ok := inv.groups[g.Name]
	if !ok {
		own = &Group{Name: g.Name}
		inv.groups[g.Name] = own
	}

	return own
}

func (inv *Inventory) adoptDatasetLocked(d *Dataset) *Dataset {
	own, ok := inv.datasets[d.Name]
	if !ok {
		own = &Dataset{
			Name:   d.Name,
			Status: d.Status,
			Blocks: make(map[blockid.ID]*Block),
		}
		inv.datasets[d.Name] = own
	}

	if d.Size != 0 {
		own.Size = d.Size
	}

	if d.LastUpdate > own.LastUpdate {
		own.LastUpdate = d.LastUpdate
	}

	if d.Status != "" && d.Status != DatasetUnknown {
		own.Status = d.Status
	}

	if d.Software != (SoftwareVersion{}) {
		own.Software = d.Software
	}

	return own
}

func (inv *Inventory) adoptBlockLocked(b *Block) *Block {
	dataset := inv.adoptDatasetLocked(b.Dataset)

	own := dataset.AddBlock(b.Name, b.Size)
	if b.Size != 0 {
		own.Size = b.Size
	}

	for _, f := range b.Files {
		own.AddFile(f.Name, f.Size)
	}

	return own
}

func (inv *Inventory) datasetReplicaLocked(d *Dataset, s *Site) *DatasetReplica {
	key := DatasetSiteKey{Dataset: d.Name, Site: s.Name}

	dr, ok := inv.replicas[key]
	if !ok {
		dr = NewDatasetReplica(d, s, false)
		inv.replicas[key] = dr
	}

	return dr
}
