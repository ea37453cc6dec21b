package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Engine metrics
	EvaluationCompleted(outcome string, duration time.Duration)

	// Lifetime resolver metrics
	LifetimeCacheHit()
	LifetimeCacheMiss()
	LifetimeCacheSize(entries int)

	// Monitor metrics
	MonitorEvaluation(outcome string)
	MonitorRetryAttempt(statusClass string)

	// Event bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// Monitor outcome labels for MonitorEvaluation. Bounded cardinality.
const (
	MonitorOutcomeApplied   = "applied"
	MonitorOutcomeRemoved   = "removed"
	MonitorOutcomeUnchanged = "unchanged"
	MonitorOutcomeProgress  = "progress"
	MonitorOutcomeCached    = "cached"
	MonitorOutcomeFailed    = "failed"
	MonitorOutcomeSkipped   = "skipped"
)

// StatusClass constants for MonitorRetryAttempt.
const (
	StatusClassRateLimited     = "429"
	StatusClass5xx             = "5xx"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps an HTTP status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		return StatusClassConnectionError
	}
	switch {
	case statusCode == 429:
		return StatusClassRateLimited
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
