package generation

import "fmt"

const stageFinalizing = "Finalizing..."

// StageLabel maps the executing node to a label. A nil node is the
// end-of-job signal.
func StageLabel(labels map[string]string, node *string) string {
	if node == nil {
		return stageFinalizing
	}
	if label, ok := labels[*node]; ok && label != "" {
		return label
	}
	return fmt.Sprintf("Processing Node %s...", *node)
}
