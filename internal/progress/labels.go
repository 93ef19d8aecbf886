package progress

import (
	"fmt"
	"math"
)

const (
	labelStarted     = "Started"
	labelFinalizing  = "Finalizing..."
	labelInterrupted = "Interrupted"
)

func nodeLabel(node *string, count int) string {
	if node == nil || *node == "" {
		return fmt.Sprintf("Processing (#%d)", count)
	}
	return fmt.Sprintf("Node %s (#%d)", *node, count)
}

func samplingLabel(value, max, count int) string {
	return fmt.Sprintf("Sampling (%d/%d) - Node #%d", value, max, count)
}

func errorReason(d errorData) string {
	msg := d.ExceptionMessage
	if msg == "" {
		msg = d.ExceptionType
	}
	if msg == "" {
		msg = "execution error"
	}
	if d.NodeID != "" {
		return fmt.Sprintf("%s (node %s)", msg, d.NodeID)
	}
	return msg
}

// percent is floor(value*100/max). Integral steps use integer arithmetic so
// ratios like 29/100 are exact. It is not clamped.
func percent(value, max float64) int {
	if value == math.Trunc(value) && max == math.Trunc(max) {
		return int(int64(value) * 100 / int64(max))
	}
	return int(math.Floor(value * 100 / max))
}
