// Package inventory holds the site-local replica inventory: datasets, blocks
// and files, the sites and groups that replicas reference, and the dataset
// and block replicas that tie them together.
//
// Ownership follows the data: a Dataset owns its Blocks, a Block owns its
// Files. Sites and Groups are referenced, never owned. Replicas built by a
// sync live in that sync's Registry until merged into an Inventory.
package inventory

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/tonimelisma/replicad/internal/blockid"
)

// ErrInvalidDatasetName is returned for dataset names that do not match the
// three-component /primary/processed/tier pattern.
var ErrInvalidDatasetName = errors.New("inventory: invalid dataset name")

var datasetNamePattern = regexp.MustCompile(`^/[^/]+/[^/]+/[^/]+$`)

// ValidDatasetName reports whether name matches the dataset name pattern.
func ValidDatasetName(name string) bool {
	return datasetNamePattern.MatchString(name)
}

// StorageType is the storage class of a site.
type StorageType string

// Storage classes.
const (
	StorageUnknown StorageType = "unknown"
	StorageDisk    StorageType = "disk"
	StorageTape    StorageType = "tape"
	StorageBuffer  StorageType = "buffer"
)

// ParseStorageType maps a catalog node kind to a storage class.
func ParseStorageType(kind string) StorageType {
	switch kind {
	case "MSS", "mss", "Tape", "tape":
		return StorageTape
	case "Buffer", "buffer":
		return StorageBuffer
	case "Disk", "disk":
		return StorageDisk
	default:
		return StorageUnknown
	}
}

// SiteStatus is the operational status of a site.
type SiteStatus string

// Site statuses.
const (
	SiteReady    SiteStatus = "ready"
	SiteDraining SiteStatus = "draining"
	SiteDown     SiteStatus = "down"
)

// Site is a storage endpoint. Name is the unique key.
type Site struct {
	Name    string
	Host    string
	Storage StorageType
	Status  SiteStatus
}

// NewSite returns a ready site of unknown storage class.
func NewSite(name string) *Site {
	return &Site{Name: name, Storage: StorageUnknown, Status: SiteReady}
}

func (s *Site) String() string { return s.Name }

// Group is a replica owner. Name is the unique key.
type Group struct {
	Name string
}

// NullGroup stands for ownership-less or deleted state. Compare by pointer
// or with IsNull.
var NullGroup = &Group{}

// IsNull reports whether g is the null group (or nil).
func (g *Group) IsNull() bool {
	return g == nil || g == NullGroup || g.Name == ""
}

func (g *Group) String() string {
	if g.IsNull() {
		return "(null)"
	}

	return g.Name
}

// DatasetStatus is the lifecycle status of a dataset.
type DatasetStatus string

// Dataset statuses.
const (
	DatasetUnknown    DatasetStatus = "unknown"
	DatasetProduction DatasetStatus = "production"
	DatasetValid      DatasetStatus = "valid"
	DatasetInvalid    DatasetStatus = "invalid"
	DatasetDeprecated DatasetStatus = "deprecated"
	DatasetDeleted    DatasetStatus = "deleted"
)

// SoftwareVersion is the (cycle, major, minor, suffix) release tuple a
// dataset was produced with.
type SoftwareVersion struct {
	Cycle  int
	Major  int
	Minor  int
	Suffix string
}

// Dataset is a named collection of blocks. Name is the unique key.
type Dataset struct {
	Name       string
	Size       int64
	LastUpdate int64 // unix seconds
	Status     DatasetStatus
	Software   SoftwareVersion
	Blocks     map[blockid.ID]*Block
}

// NewDataset validates name and returns an empty dataset.
func NewDataset(name string) (*Dataset, error) {
	if !ValidDatasetName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDatasetName, name)
	}

	return &Dataset{
		Name:   name,
		Status: DatasetUnknown,
		Blocks: make(map[blockid.ID]*Block),
	}, nil
}

func (d *Dataset) String() string { return d.Name }

// FindBlock returns the block with the given name, or nil.
func (d *Dataset) FindBlock(name blockid.ID) *Block {
	return d.Blocks[name]
}

// AddBlock returns the existing block of that name or creates one with the
// given size.
func (d *Dataset) AddBlock(name blockid.ID, size int64) *Block {
	if b, ok := d.Blocks[name]; ok {
		return b
	}

	b := &Block{
		Name:    name,
		Dataset: d,
		Size:    size,
		Files:   make(map[string]*File),
	}
	d.Blocks[name] = b

	return b
}

// SortedBlocks returns the dataset's blocks ordered by name.
func (d *Dataset) SortedBlocks() []*Block {
	blocks := make([]*Block, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		blocks = append(blocks, b)
	}

	slices.SortFunc(blocks, func(a, b *Block) int {
		return compareIDs(a.Name, b.Name)
	})

	return blocks
}

// BlockKey uniquely identifies a block.
type BlockKey struct {
	Dataset string
	Name    blockid.ID
}

func (k BlockKey) String() string {
	return blockid.FullName(k.Dataset, k.Name)
}

// Block is a unit of a dataset. (Name, Dataset) is the unique key.
type Block struct {
	Name    blockid.ID
	Dataset *Dataset
	Size    int64
	Files   map[string]*File

	// IsOpen marks a block that may still receive files.
	IsOpen bool
}

// Key returns the block's unique key.
func (b *Block) Key() BlockKey {
	return BlockKey{Dataset: b.Dataset.Name, Name: b.Name}
}

// FullName returns the catalog form "dataset#name".
func (b *Block) FullName() string {
	return blockid.FullName(b.Dataset.Name, b.Name)
}

func (b *Block) String() string { return b.FullName() }

// AddFile returns the existing file of that name or creates one.
func (b *Block) AddFile(name string, size int64) *File {
	if f, ok := b.Files[name]; ok {
		return f
	}

	f := &File{Name: name, Block: b, Size: size}
	b.Files[name] = f

	return f
}

// File is a logical file inside a block. (Name, Block) is the unique key.
type File struct {
	Name  string
	Block *Block
	Size  int64
}

func compareIDs(a, b blockid.ID) int {
	switch {
	case a.Hi() < b.Hi():
		return -1
	case a.Hi() > b.Hi():
		return 1
	case a.Lo() < b.Lo():
		return -1
	case a.Lo() > b.Lo():
		return 1
	default:
		return 0
	}
}
