package client

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Multiplexer metrics (exposed through metrics.WritePrometheus)
// --------------------------------------------------------------------------

var (
	responsesTotal       = metrics.NewCounter("sfdash_responses_total")
	lateResponsesTotal   = metrics.NewCounter("sfdash_late_responses_total")
	pushMessagesTotal    = metrics.NewCounter("sfdash_push_messages_total")
	controlActionsTotal  = metrics.NewCounter("sfdash_control_actions_total")
	malformedFramesTotal = metrics.NewCounter("sfdash_malformed_frames_total")
)

func requestsTotal(endpoint string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`sfdash_requests_total{endpoint=%q}`, endpoint))
}

func timeoutsTotal(endpoint string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`sfdash_timeouts_total{endpoint=%q}`, endpoint))
}

func requestDuration(endpoint string) *metrics.Histogram {
	return metrics.GetOrCreateHistogram(fmt.Sprintf(`sfdash_request_duration_seconds{endpoint=%q}`, endpoint))
}
