package engine

import (
	"errors"
	"fmt"
)

// ErrRunnerPanic wraps a panic raised by a node runner.
var ErrRunnerPanic = errors.New("node runner panicked")

func unsupportedNodeType(nodeType string) string {
	return fmt.Sprintf("Unsupported node type [%s].", nodeType)
}

func nodeNotFound(nodeID string) string {
	return fmt.Sprintf("Node [%s] not found in automation definition.", nodeID)
}

func nodeFailed(nodeID string) string {
	return fmt.Sprintf("Node [%s] failed.", nodeID)
}

func successorNotDispatched(nodeID string) string {
	return fmt.Sprintf("Failed to enqueue successor node [%s].", nodeID)
}
