package repo

import "time"

// SchemaVersion is the on-disk revision file format version.
const SchemaVersion = 1

// RevisionFile is the JSON document stored at revs/<n>.json.
// It holds the complete tree of the revision.
type RevisionFile struct {
	// SchemaVersion is the version of this schema
	SchemaVersion int `json:"schemaVersion"`

	// Revision is the revision number
	Revision int64 `json:"revision"`

	// Author is who committed the revision
	Author string `json:"author,omitempty"`

	// Date is when the revision was committed
	Date time.Time `json:"date"`

	// Log is the commit message
	Log string `json:"log,omitempty"`

	// Nodes maps every path in the tree to its record ("" is the root)
	Nodes map[string]NodeRecord `json:"nodes"`
}

// NodeRecord is the stored form of a Node.
type NodeRecord struct {
	Kind         Kind              `json:"kind"`
	ContentID    string            `json:"contentId"`
	Checksum     string            `json:"checksum,omitempty"`
	Props        map[string]string `json:"props,omitempty"`
	CopyFrom     *CopySource       `json:"copyFrom,omitempty"`
	NodeID       string            `json:"nodeId"`
	Predecessors []string          `json:"predecessors,omitempty"`
	CreatedRev   int64             `json:"createdRev"`
}

// RevisionInfo is the metadata of a committed revision.
type RevisionInfo struct {
	Revision int64     `json:"revision"`
	Author   string    `json:"author,omitempty"`
	Date     time.Time `json:"date"`
	Log      string    `json:"log,omitempty"`
	Paths    int       `json:"paths"`
}

func (r NodeRecord) toNode(path string) *Node {
	return &Node{
		Path:         path,
		Kind:         r.Kind,
		ContentID:    r.ContentID,
		Checksum:     r.Checksum,
		Props:        copyProps(r.Props),
		CopyFrom:     r.CopyFrom,
		NodeID:       r.NodeID,
		Predecessors: append([]string(nil), r.Predecessors...),
		CreatedRev:   r.CreatedRev,
	}
}

func copyProps(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
