package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EvaluationCompleted(outcome string, duration time.Duration) {}
func (n *NoopSink) LifetimeCacheHit()                                          {}
func (n *NoopSink) LifetimeCacheMiss()                                         {}
func (n *NoopSink) LifetimeCacheSize(entries int)                              {}
func (n *NoopSink) MonitorEvaluation(outcome string)                           {}
func (n *NoopSink) MonitorRetryAttempt(statusClass string)                     {}
func (n *NoopSink) BufferSizeUpdate(size int)                                  {}
func (n *NoopSink) BufferCapacitySet(capacity int)                             {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                  {}
func (n *NoopSink) EmitError()                                                 {}
