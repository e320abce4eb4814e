package phedex

import (
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
)

// catalogVersion is the data format version the service expects.
const catalogVersion = "2.0"

// Catalog is the item list of a subscribe or delete request: datasets, each
// with the blocks to act on. A dataset with no blocks means the whole
// dataset (dataset-level request).
type Catalog struct {
	entries map[string]*catalogEntry
}

type catalogEntry struct {
	open   bool
	blocks map[string]bool // full block name -> open
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*catalogEntry)}
}

// AddDataset adds a dataset entry.
func (c *Catalog) AddDataset(name string, open bool) {
	c.entry(name).open = open
}

// AddBlock adds a block (full name) under its dataset.
func (c *Catalog) AddBlock(dataset, fullName string, open bool) {
	c.entry(dataset).blocks[fullName] = open
}

// Len returns the number of datasets in the catalog.
func (c *Catalog) Len() int { return len(c.entries) }

func (c *Catalog) entry(dataset string) *catalogEntry {
	e, ok := c.entries[dataset]
	if !ok {
		e = &catalogEntry{blocks: make(map[string]bool)}
		c.entries[dataset] = e
	}

	return e
}

type xmlData struct {
	XMLName xml.Name `xml:"data"`
	Version string   `xml:"version,attr"`
	DBS     xmlDBS   `xml:"dbs"`
}

type xmlDBS struct {
	Name     string       `xml:"name,attr"`
	Datasets []xmlDataset `xml:"dataset"`
}

type xmlDataset struct {
	Name   string     `xml:"name,attr"`
	IsOpen string     `xml:"is-open,attr"`
	Blocks []xmlBlock `xml:"block"`
}

type xmlBlock struct {
	Name   string `xml:"name,attr"`
	IsOpen string `xml:"is-open,attr"`
}

// XML renders the catalog for the given DBS instance. Datasets and blocks
// are sorted by name so identical catalogs render identically.
func (c *Catalog) XML(dbsInstance string) (string, error) {
	data := xmlData{Version: catalogVersion, DBS: xmlDBS{Name: dbsInstance}}

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		e := c.entries[name]
		ds := xmlDataset{Name: name, IsOpen: string(YesNo(e.open))}

		blocks := make([]string, 0, len(e.blocks))
		for b := range e.blocks {
			blocks = append(blocks, b)
		}

		slices.Sort(blocks)

		for _, b := range blocks {
			ds.Blocks = append(ds.Blocks, xmlBlock{Name: b, IsOpen: string(YesNo(e.blocks[b]))})
		}

		data.DBS.Datasets = append(data.DBS.Datasets, ds)
	}

	var sb strings.Builder
	if err := xml.NewEncoder(&sb).Encode(data); err != nil {
		return "", fmt.Errorf("phedex: encoding catalog: %w", err)
	}

	return sb.String(), nil
}
