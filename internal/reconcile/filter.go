package reconcile

import (
	"fmt"
	"path"
)

// Filter is the admission predicate for sites and datasets. The engine never
// returns an entity either method rejects.
type Filter interface {
	AllowSite(name string) bool
	AllowDataset(name string) bool
}

// AllowAll admits every site and dataset.
type AllowAll struct{}

// AllowSite implements Filter.
func (AllowAll) AllowSite(string) bool { return true }

// AllowDataset implements Filter.
func (AllowAll) AllowDataset(string) bool { return true }

// PatternFilter admits names by shell patterns (path.Match syntax). An
// exclude match always rejects. With no include patterns everything not
// excluded is admitted. Dataset patterns match per path segment, so
// "/*/*/RAW" selects every RAW dataset.
type PatternFilter struct {
	sites            []string
	excludedSites    []string
	datasets         []string
	excludedDatasets []string
}

// PatternSet lists the include and exclude patterns of a PatternFilter.
type PatternSet struct {
	Sites            []string
	ExcludedSites    []string
	Datasets         []string
	ExcludedDatasets []string
}

// NewPatternFilter validates every pattern and returns the filter.
func NewPatternFilter(set PatternSet) (*PatternFilter, error) {
	for _, group := range [][]string{set.Sites, set.ExcludedSites, set.Datasets, set.ExcludedDatasets} {
		for _, p := range group {
			if _, err := path.Match(p, ""); err != nil {
				return nil, fmt.Errorf("reconcile: bad pattern %q: %w", p, err)
			}
		}
	}

	return &PatternFilter{
		sites:            set.Sites,
		excludedSites:    set.ExcludedSites,
		datasets:         set.Datasets,
		excludedDatasets: set.ExcludedDatasets,
	}, nil
}

// AllowSite implements Filter.
func (f *PatternFilter) AllowSite(name string) bool {
	return admit(name, f.sites, f.excludedSites)
}

// AllowDataset implements Filter.
func (f *PatternFilter) AllowDataset(name string) bool {
	return admit(name, f.datasets, f.excludedDatasets)
}

func admit(name string, include, exclude []string) bool {
	if matchAny(name, exclude) {
		return false
	}

	return len(include) == 0 || matchAny(name, include)
}

// matchAny ignores match errors: patterns are validated on construction.
func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}

	return false
}
