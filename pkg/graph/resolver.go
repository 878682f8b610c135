// Package graph resolves the successors of a finished node.
package graph

import "github.com/tallybook/automation/pkg/models"

// NextNodeIDs returns the ids of the nodes to schedule after fromNodeID finished.
//
// With a nil branch every outgoing edge is followed, labelled or not. With a
// non-nil branch only edges whose label equals it are followed; unlabelled
// edges are skipped. Targets are deduplicated in order of first occurrence.
func NextNodeIDs(edges []models.Edge, fromNodeID string, branch *string) []string {
	next := make([]string, 0)
	seen := make(map[string]struct{})

	for _, edge := range edges {
		if edge.From != fromNodeID || edge.To == "" {
			continue
		}

		if branch != nil && (edge.Branch == "" || edge.Branch != *branch) {
			continue
		}

		if _, ok := seen[edge.To]; ok {
			continue
		}

		seen[edge.To] = struct{}{}
		next = append(next, edge.To)
	}

	return next
}
