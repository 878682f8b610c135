// Package models defines the core domain models for graph-based automations.
package models

// Node is a single step of an automation graph.
type Node struct {
	ID     string         `json:"id"     validate:"required"`
	Type   string         `json:"type"   validate:"required"`
	Name   string         `json:"name,omitempty"`
	Config map[string]any `json:"config"`
}

// Edge connects two nodes. Branch is only set on edges leaving a branching node
// and must match the branch label the node produces.
type Edge struct {
	From   string `json:"from"             validate:"required"`
	To     string `json:"to"               validate:"required"`
	Branch string `json:"branch,omitempty"`
}

// Definition is the immutable graph executed by a run.
type Definition struct {
	// Entry optionally names the node a run starts from.
	Entry string  `json:"entry,omitempty"`
	Nodes []*Node `json:"nodes"           validate:"dive"`
	Edges []Edge  `json:"edges"           validate:"dive"`
}

// NodeByID returns the node with the given id, if present.
func (d *Definition) NodeByID(id string) (*Node, bool) {
	if d == nil {
		return nil, false
	}

	for _, node := range d.Nodes {
		if node != nil && node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// EntryNodeID resolves the node a new run starts from: the explicit entry when
// set, otherwise the first node without incoming edges.
func (d *Definition) EntryNodeID() (string, bool) {
	if d == nil || len(d.Nodes) == 0 {
		return "", false
	}

	if d.Entry != "" {
		_, ok := d.NodeByID(d.Entry)

		return d.Entry, ok
	}

	incoming := make(map[string]bool, len(d.Edges))
	for _, edge := range d.Edges {
		incoming[edge.To] = true
	}

	for _, node := range d.Nodes {
		if node != nil && !incoming[node.ID] {
			return node.ID, true
		}
	}

	return "", false
}
