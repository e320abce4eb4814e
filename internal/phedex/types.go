package phedex

import (
	"bytes"
	"fmt"
	"strconv"
)

// Int is an integer the service may encode as a JSON number, a quoted
// number, or a float (timestamps). Floats are truncated.
type Int int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Int) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}

	if v, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		*n = Int(v)
		return nil
	}

	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("phedex: invalid number %q", b)
	}

	*n = Int(f)

	return nil
}

// Int64 returns n as an int64.
func (n Int) Int64() int64 { return int64(n) }

// OptInt returns the value of an optional field and whether it was present.
func OptInt(n *Int) (int64, bool) {
	if n == nil {
		return 0, false
	}

	return int64(*n), true
}

// Flag is a "y"/"n" field.
type Flag string

// Bool reports whether the flag is set.
func (f Flag) Bool() bool { return f == "y" || f == "Y" }

// YesNo renders a bool as a Flag.
func YesNo(b bool) Flag {
	if b {
		return "y"
	}

	return "n"
}

// BlockReplicaRecord is one block of a blockreplicas listing: block-level
// aggregates per site, no file detail.
type BlockReplicaRecord struct {
	Name     string              `json:"name"`
	Bytes    Int                 `json:"bytes"`
	Files    Int                 `json:"files"`
	IsOpen   Flag                `json:"is_open"`
	Replicas []BlockReplicaEntry `json:"replica"`
}

// BlockReplicaEntry is the per-site part of a BlockReplicaRecord.
type BlockReplicaEntry struct {
	Node       string  `json:"node"`
	Bytes      Int     `json:"bytes"`
	Files      Int     `json:"files"`
	Group      *string `json:"group"`
	Custodial  Flag    `json:"custodial"`
	Complete   Flag    `json:"complete"`
	TimeCreate *Int    `json:"time_create"`
	TimeUpdate *Int    `json:"time_update"`
}

// FileBlockRecord is one block of a filereplicas listing.
type FileBlockRecord struct {
	Name  string       `json:"name"`
	Bytes Int          `json:"bytes"`
	Files []FileRecord `json:"file"`
}

// FileRecord is a file and the sites holding it.
type FileRecord struct {
	Name     string             `json:"name"`
	Bytes    Int                `json:"bytes"`
	Replicas []FileReplicaEntry `json:"replica"`
}

// FileReplicaEntry is the per-site part of a FileRecord.
type FileReplicaEntry struct {
	Node       string  `json:"node"`
	Group      *string `json:"group"`
	Custodial  Flag    `json:"custodial"`
	TimeCreate *Int    `json:"time_create"`
}

// SubscriptionDataset is one dataset of a subscriptions listing. It carries
// dataset-level subscriptions, block-level subscriptions, or both.
type SubscriptionDataset struct {
	Name          string              `json:"name"`
	Bytes         Int                 `json:"bytes"`
	Subscriptions []Subscription      `json:"subscription"`
	Blocks        []SubscriptionBlock `json:"block"`
}

// SubscriptionBlock is a block with block-level subscriptions.
type SubscriptionBlock struct {
	Name          string         `json:"name"`
	Bytes         Int            `json:"bytes"`
	Subscriptions []Subscription `json:"subscription"`
}

// Subscription is a group's claim on a dataset or block at a node.
type Subscription struct {
	Node       string  `json:"node"`
	Group      *string `json:"group"`
	Custodial  Flag    `json:"custodial"`
	NodeBytes  *Int    `json:"node_bytes"`
	TimeUpdate *Int    `json:"time_update"`
	Request    Int     `json:"request"`
}

// DeletionBlock is one block of a deletions listing.
type DeletionBlock struct {
	Name      string          `json:"name"`
	Bytes     Int             `json:"bytes"`
	Deletions []DeletionEntry `json:"deletion"`
}

// DeletionEntry is a completed removal of the block at a node.
type DeletionEntry struct {
	Node         string `json:"node"`
	Request      Int    `json:"request"`
	TimeComplete *Int   `json:"time_complete"`
}

// Node is a storage site as listed by the nodes endpoint.
type Node struct {
	Name       string `json:"name"`
	SE         string `json:"se"`
	Kind       string `json:"kind"`
	Technology string `json:"technology"`
}

// RequestData is the dataset and block payload of a stored request.
type RequestData struct {
	DBS struct {
		Datasets []NamedBytes `json:"dataset"`
		Blocks   []NamedBytes `json:"block"`
	} `json:"dbs"`
}

// NamedBytes is a name and a byte count.
type NamedBytes struct {
	Name  string `json:"name"`
	Bytes Int    `json:"bytes"`
}

// TransferRequest is a stored subscription request.
type TransferRequest struct {
	ID           Int `json:"id"`
	Destinations struct {
		Nodes []Node `json:"node"`
	} `json:"destinations"`
	Data RequestData `json:"data"`
}

// DeleteRequest is a stored deletion request.
type DeleteRequest struct {
	ID    Int `json:"id"`
	Nodes struct {
		Nodes []DeleteRequestNode `json:"node"`
	} `json:"nodes"`
	Data RequestData `json:"data"`
}

// DeleteRequestNode is a node of a deletion request and its decision.
type DeleteRequestNode struct {
	Name      string `json:"name"`
	DecidedBy struct {
		TimeDecided *Int `json:"time_decided"`
	} `json:"decided_by"`
}

// requestCreated is the response item of subscribe and delete.
type requestCreated struct {
	ID Int `json:"id"`
}
