package inventory

import (
	"slices"

	"github.com/tonimelisma/replicad/internal/blockid"
)

// Completeness describes how much of a block a block replica holds.
type Completeness int

const (
	// FullyPresent: the replica mirrors the block exactly. Size equals the
	// block size and no file list is kept.
	FullyPresent Completeness = iota
	// KnownEmpty: an explicit but empty file list. Size comes only from
	// aggregate byte counts (zero when nothing is known).
	KnownEmpty
	// Partial: an explicit non-empty list of file names; size is their sum.
	Partial
)

func (c Completeness) String() string {
	switch c {
	case FullyPresent:
		return "complete"
	case KnownEmpty:
		return "known-empty"
	case Partial:
		return "partial"
	default:
		return "unknown"
	}
}

// ReplicaKey uniquely identifies a block replica.
type ReplicaKey struct {
	Block BlockKey
	Site  string
}

func (k ReplicaKey) String() string {
	return k.Block.String() + "@" + k.Site
}

// BlockReplica is a claim that a block is stored at a site under a group.
// (Block, Site) is the unique key.
type BlockReplica struct {
	Block      *Block
	Site       *Site
	Group      *Group
	Custodial  bool
	LastUpdate int64 // unix seconds, 0 = unknown
	Size       int64

	complete bool
	fileIDs  []string
}

// NewBlockReplica returns a known-empty replica of size zero.
func NewBlockReplica(block *Block, site *Site, group *Group) *BlockReplica {
	if group == nil {
		group = NullGroup
	}

	return &BlockReplica{Block: block, Site: site, Group: group}
}

// Key returns the replica's unique key.
func (r *BlockReplica) Key() ReplicaKey {
	return ReplicaKey{Block: r.Block.Key(), Site: r.Site.Name}
}

// Completeness returns the replica's completeness state.
func (r *BlockReplica) Completeness() Completeness {
	switch {
	case r.complete:
		return FullyPresent
	case len(r.fileIDs) == 0:
		return KnownEmpty
	default:
		return Partial
	}
}

// IsComplete reports whether the replica is fully present.
func (r *BlockReplica) IsComplete() bool { return r.complete }

// FileIDs returns a copy of the explicit file list. Nil when fully present.
func (r *BlockReplica) FileIDs() []string {
	if r.complete {
		return nil
	}

	return slices.Clone(r.fileIDs)
}

// FileCount returns the number of files the replica holds.
func (r *BlockReplica) FileCount() int {
	if r.complete {
		return len(r.Block.Files)
	}

	return len(r.fileIDs)
}

// MarkComplete makes the replica fully present; size becomes the block size.
func (r *BlockReplica) MarkComplete() {
	r.complete = true
	r.fileIDs = nil
	r.Size = r.Block.Size
}

// MarkEmpty sets the explicit-empty file state with the given aggregate size.
func (r *BlockReplica) MarkEmpty(size int64) {
	r.complete = false
	r.fileIDs = nil
	r.Size = size
}

// SetFiles sets an explicit file list and the summed size of those files.
// An empty list is the known-empty state.
func (r *BlockReplica) SetFiles(ids []string, size int64) {
	r.complete = false
	r.fileIDs = slices.Clone(ids)
	r.Size = size
}

// Clone returns a shallow copy that shares Block, Site and Group but owns
// its file list.
func (r *BlockReplica) Clone() *BlockReplica {
	c := *r
	c.fileIDs = slices.Clone(r.fileIDs)

	return &c
}

// CopyFrom overwrites r's mutable fields with other's.
func (r *BlockReplica) CopyFrom(other *BlockReplica) {
	r.Group = other.Group
	r.Custodial = other.Custodial
	r.LastUpdate = other.LastUpdate
	r.Size = other.Size
	r.complete = other.complete
	r.fileIDs = slices.Clone(other.fileIDs)
}

// DatasetReplica groups the block replicas of one dataset at one site.
// (Dataset, Site) is the unique key.
type DatasetReplica struct {
	Dataset *Dataset
	Site    *Site
	// Growing marks an open-ended subscription that covers future blocks.
	Growing bool
	// Group is the owner of a growing subscription; nil otherwise.
	Group *Group

	BlockReplicas []*BlockReplica
}

// NewDatasetReplica returns an empty replica.
func NewDatasetReplica(dataset *Dataset, site *Site, growing bool) *DatasetReplica {
	return &DatasetReplica{Dataset: dataset, Site: site, Growing: growing}
}

// DatasetSiteKey uniquely identifies a dataset replica.
type DatasetSiteKey struct {
	Dataset string
	Site    string
}

// Key returns the replica's unique key.
func (r *DatasetReplica) Key() DatasetSiteKey {
	return DatasetSiteKey{Dataset: r.Dataset.Name, Site: r.Site.Name}
}

// FindBlockReplica returns the block replica for the named block, or nil.
func (r *DatasetReplica) FindBlockReplica(name blockid.ID) *BlockReplica {
	for _, br := range r.BlockReplicas {
		if br.Block.Name == name {
			return br
		}
	}

	return nil
}

// AddBlockReplica appends br unless a replica of the same block is already
// present. Reports whether br was added. Blocks of other datasets are refused.
func (r *DatasetReplica) AddBlockReplica(br *BlockReplica) bool {
	if br.Block.Dataset.Name != r.Dataset.Name {
		return false
	}

	if r.FindBlockReplica(br.Block.Name) != nil {
		return false
	}

	r.BlockReplicas = append(r.BlockReplicas, br)

	return true
}

// RemoveBlockReplica drops the replica of the named block. Reports whether
// one was removed.
func (r *DatasetReplica) RemoveBlockReplica(name blockid.ID) bool {
	for i, br := range r.BlockReplicas {
		if br.Block.Name == name {
			r.BlockReplicas = slices.Delete(r.BlockReplicas, i, i+1)
			return true
		}
	}

	return false
}

// Size returns the summed size of the block replicas.
func (r *DatasetReplica) Size() int64 {
	var total int64
	for _, br := range r.BlockReplicas {
		total += br.Size
	}

	return total
}

// Merge folds other's block replicas into r without duplicating a block
// already present. Reports the number of block replicas added.
func (r *DatasetReplica) Merge(other *DatasetReplica) int {
	added := 0

	for _, br := range other.BlockReplicas {
		if r.AddBlockReplica(br) {
			added++
		}
	}

	if other.Growing {
		r.Growing = true
		r.Group = other.Group
	}

	return added
}

// GroupByDataset collects block replicas into one DatasetReplica per
// (dataset, site), in first-seen order. Duplicate blocks are dropped.
func GroupByDataset(replicas []*BlockReplica) []*DatasetReplica {
	index := make(map[DatasetSiteKey]*DatasetReplica)

	var out []*DatasetReplica

	for _, br := range replicas {
		key := DatasetSiteKey{Dataset: br.Block.Dataset.Name, Site: br.Site.Name}

		dr, ok := index[key]
		if !ok {
			dr = NewDatasetReplica(br.Block.Dataset, br.Site, false)
			index[key] = dr
			out = append(out, dr)
		}

		dr.AddBlockReplica(br)
	}

	return out
}
