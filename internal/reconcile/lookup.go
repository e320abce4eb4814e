package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tonimelisma/replicad/internal/inventory"
	"github.com/tonimelisma/replicad/internal/phedex"
)

// ReplicaExists reports whether the catalog knows a replica of the dataset,
// or of the block when block is set, at site. The block listing is asked
// first; because it lags behind new subscriptions by up to about twenty
// minutes, the subscription listing is asked when it has nothing.
func (e *Engine) ReplicaExists(ctx context.Context, site, dataset, block string) (bool, error) {
	if site == "" || (dataset == "" && block == "") {
		return false, ErrEmptyScope
	}

	q := phedex.ReplicaQuery{Node: site}
	sq := phedex.SubscriptionQuery{Node: site}

	if block != "" {
		q.Block = block
		sq.Blocks = []string{block}
	} else {
		q.Dataset = dataset
		// Both dataset-level and block-level subscriptions count.
		sq.Datasets = []string{dataset}
		sq.Blocks = []string{dataset + "#*"}
	}

	records, err := e.catalog.BlockReplicas(ctx, q)
	if err != nil {
		return false, fmt.Errorf("reconcile: replica exists: %w", err)
	}

	if len(records) > 0 {
		return true, nil
	}

	subs, err := e.catalog.Subscriptions(ctx, sq)
	if err != nil {
		return false, fmt.Errorf("reconcile: replica exists: subscriptions: %w", err)
	}

	return len(subs) > 0, nil
}

// Sites lists the catalog's storage nodes that pass the site filter, sorted
// by name.
func (e *Engine) Sites(ctx context.Context) ([]*inventory.Site, error) {
	nodes, err := e.catalog.Nodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("reconcile: sites: %w", err)
	}

	filter := e.currentFilter()

	var sites []*inventory.Site
	for _, n := range nodes {
		if !filter.AllowSite(n.Name) {
			continue
		}

		s := inventory.NewSite(n.Name)
		s.Host = n.SE
		s.Storage = inventory.ParseStorageType(n.Kind)
		sites = append(sites, s)
	}

	slices.SortFunc(sites, func(a, b *inventory.Site) int {
		return strings.Compare(a.Name, b.Name)
	})

	e.sites.Store(&sites)

	return sites, nil
}
