package phedex

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
)

// Request levels.
const (
	LevelDataset = "dataset"
	LevelBlock   = "block"
)

// ReplicaQuery filters the blockreplicas and filereplicas listings. Block
// may end in "#*" to select every block of a dataset.
type ReplicaQuery struct {
	Node        string
	Dataset     string
	Block       string
	UpdateSince int64
}

// IsEmpty reports whether no filter is set. The service would answer an
// unfiltered listing with the entire catalog.
func (q ReplicaQuery) IsEmpty() bool {
	return q.Node == "" && q.Dataset == "" && q.Block == "" && q.UpdateSince == 0
}

func (q ReplicaQuery) values() url.Values {
	v := url.Values{}
	if q.Node != "" {
		v.Set("node", q.Node)
	}

	if q.Dataset != "" {
		v.Set("dataset", q.Dataset)
	}

	if q.Block != "" {
		v.Set("block", q.Block)
	}

	if q.UpdateSince != 0 {
		v.Set("update_since", strconv.FormatInt(q.UpdateSince, 10))
	}

	return v
}

// BlockReplicas fetches the block-level replica listing.
func (c *Client) BlockReplicas(ctx context.Context, q ReplicaQuery) ([]BlockReplicaRecord, error) {
	if q.IsEmpty() {
		return nil, fmt.Errorf("phedex: blockreplicas: %w", ErrUnfilteredQuery)
	}

	c.logger.Info("fetching block replicas", queryAttrs(q)...)

	body, err := c.get(ctx, "blockreplicas", q.values())
	if err != nil {
		return nil, err
	}

	return decodeList[BlockReplicaRecord]("blockreplicas", body, "block")
}

// FileReplicas fetches the file-level replica listing.
func (c *Client) FileReplicas(ctx context.Context, q ReplicaQuery) ([]FileBlockRecord, error) {
	if q.IsEmpty() {
		return nil, fmt.Errorf("phedex: filereplicas: %w", ErrUnfilteredQuery)
	}

	c.logger.Debug("fetching file replicas", queryAttrs(q)...)

	body, err := c.get(ctx, "filereplicas", q.values())
	if err != nil {
		return nil, err
	}

	return decodeList[FileBlockRecord]("filereplicas", body, "block")
}

// SubscriptionQuery filters the subscriptions listing. Datasets and Blocks
// are repeated parameters; Blocks may use the "#*" wildcard.
type SubscriptionQuery struct {
	Node     string
	Datasets []string
	Blocks   []string
}

func (q SubscriptionQuery) values() url.Values {
	v := url.Values{}
	if q.Node != "" {
		v.Set("node", q.Node)
	}

	for _, d := range q.Datasets {
		v.Add("dataset", d)
	}

	for _, b := range q.Blocks {
		v.Add("block", b)
	}

	return v
}

// Subscriptions fetches the subscription listing. It has much lower latency
// than blockreplicas for group changes but carries no file detail.
func (c *Client) Subscriptions(ctx context.Context, q SubscriptionQuery) ([]SubscriptionDataset, error) {
	c.logger.Info("fetching subscriptions",
		slog.String("node", q.Node),
		slog.Int("datasets", len(q.Datasets)),
		slog.Int("blocks", len(q.Blocks)),
	)

	body, err := c.get(ctx, "subscriptions", q.values())
	if err != nil {
		return nil, err
	}

	return decodeList[SubscriptionDataset]("subscriptions", body, "dataset")
}

type deletionDataset struct {
	Name   string          `json:"name"`
	Blocks []DeletionBlock `json:"block"`
}

// Deletions fetches block removals completed since the given unix time,
// flattened to one record per block.
func (c *Client) Deletions(ctx context.Context, completeSince int64) ([]DeletionBlock, error) {
	c.logger.Info("fetching deletions", slog.Int64("complete_since", completeSince))

	v := url.Values{}
	v.Set("complete_since", strconv.FormatInt(completeSince, 10))

	body, err := c.get(ctx, "deletions", v)
	if err != nil {
		return nil, err
	}

	datasets, err := decodeList[deletionDataset]("deletions", body, "dataset")
	if err != nil {
		return nil, err
	}

	var out []DeletionBlock
	for _, ds := range datasets {
		out = append(out, ds.Blocks...)
	}

	return out, nil
}

// Nodes lists storage nodes. An empty name lists all of them.
func (c *Client) Nodes(ctx context.Context, name string) ([]Node, error) {
	v := url.Values{}
	if name != "" {
		v.Set("node", name)
	}

	body, err := c.get(ctx, "nodes", v)
	if err != nil {
		return nil, err
	}

	return decodeList[Node]("nodes", body, "node")
}

// SubscriptionForm is a subscribe (copy) request. Data is the rendered
// Catalog XML.
type SubscriptionForm struct {
	Node        string
	Group       string
	Level       string
	Data        string
	Priority    string
	Move        bool
	Static      bool
	Custodial   bool
	RequestOnly bool
	NoMail      bool
	Comments    string
}

// Subscribe creates a subscription request and returns its id.
func (c *Client) Subscribe(ctx context.Context, f SubscriptionForm) (int64, error) {
	v := url.Values{}
	v.Set("node", f.Node)
	v.Set("data", f.Data)
	v.Set("level", f.Level)
	v.Set("priority", f.Priority)
	v.Set("move", string(YesNo(f.Move)))
	v.Set("static", string(YesNo(f.Static)))
	v.Set("custodial", string(YesNo(f.Custodial)))
	v.Set("group", f.Group)
	v.Set("request_only", string(YesNo(f.RequestOnly)))
	v.Set("no_mail", string(YesNo(f.NoMail)))
	v.Set("comments", f.Comments)

	return c.createRequest(ctx, "subscribe", v)
}

// DeletionForm is a delete request. Data is the rendered Catalog XML.
type DeletionForm struct {
	Node                string
	Level               string
	Data                string
	RemoveSubscriptions bool
	Comments            string
}

// Delete creates a deletion request and returns its id.
func (c *Client) Delete(ctx context.Context, f DeletionForm) (int64, error) {
	v := url.Values{}
	v.Set("node", f.Node)
	v.Set("data", f.Data)
	v.Set("level", f.Level)
	v.Set("rm_subscriptions", string(YesNo(f.RemoveSubscriptions)))
	v.Set("comments", f.Comments)

	return c.createRequest(ctx, "delete", v)
}

func (c *Client) createRequest(ctx context.Context, endpoint string, v url.Values) (int64, error) {
	body, err := c.post(ctx, endpoint, v, false)
	if err != nil {
		return 0, err
	}

	created, err := decodeList[requestCreated](endpoint, body, "request_created")
	if err != nil {
		return 0, err
	}

	if len(created) == 0 {
		return 0, fmt.Errorf("phedex: %s: %w: no request_created entry", endpoint, ErrUnexpected)
	}

	return created[0].ID.Int64(), nil
}

// Approve approves a pending request at node.
func (c *Client) Approve(ctx context.Context, requestID int64, node string) error {
	v := url.Values{}
	v.Set("decision", "approve")
	v.Set("request", strconv.FormatInt(requestID, 10))
	v.Set("node", node)

	_, err := c.post(ctx, "updaterequest", v, false)

	return err
}

// TransferRequests fetches stored subscription requests by id.
func (c *Client) TransferRequests(ctx context.Context, ids []int64) ([]TransferRequest, error) {
	v := url.Values{}
	for _, id := range ids {
		v.Add("request", strconv.FormatInt(id, 10))
	}

	// Read-only, so safe to retry despite the POST.
	body, err := c.post(ctx, "transferrequests", v, true)
	if err != nil {
		return nil, err
	}

	return decodeList[TransferRequest]("transferrequests", body, "request")
}

// DeleteRequests fetches a stored deletion request by id.
func (c *Client) DeleteRequests(ctx context.Context, id int64) ([]DeleteRequest, error) {
	v := url.Values{}
	v.Set("request", strconv.FormatInt(id, 10))

	body, err := c.get(ctx, "deleterequests", v)
	if err != nil {
		return nil, err
	}

	return decodeList[DeleteRequest]("deleterequests", body, "request")
}

func queryAttrs(q ReplicaQuery) []any {
	return []any{
		slog.String("node", q.Node),
		slog.String("dataset", q.Dataset),
		slog.String("block", q.Block),
		slog.Int64("update_since", q.UpdateSince),
	}
}
