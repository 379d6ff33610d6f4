package metrics

import "time"

// Collector wraps the package metrics with the pipeline label pre-filled.
type Collector struct {
	pipeline string
}

// NewCollector creates a Collector for the given pipeline name.
func NewCollector(pipeline string) *Collector {
	return &Collector{pipeline: pipeline}
}

// IncStagesSucceeded increments the succeeded-stages counter.
func (c *Collector) IncStagesSucceeded() {
	StagesSucceededTotal.WithLabelValues(c.pipeline).Inc()
}

// IncStagesFailed increments the failed-attempts counter.
func (c *Collector) IncStagesFailed() {
	StagesFailedTotal.WithLabelValues(c.pipeline).Inc()
}

// IncStageRetries increments the requeue counter.
func (c *Collector) IncStageRetries() {
	StageRetriesTotal.WithLabelValues(c.pipeline).Inc()
}

// IncStagesPermanentlyFailed increments the permanent-failure counter.
func (c *Collector) IncStagesPermanentlyFailed() {
	StagesPermanentlyFailedTotal.WithLabelValues(c.pipeline).Inc()
}

// AddStagesSkipped adds to the ledger-skip counter.
func (c *Collector) AddStagesSkipped(n int) {
	StagesSkippedTotal.WithLabelValues(c.pipeline).Add(float64(n))
}

// IncWorkersRegistered increments the registration counter.
func (c *Collector) IncWorkersRegistered() {
	WorkersRegisteredTotal.WithLabelValues(c.pipeline).Inc()
}

// IncWorkersLost increments the dead-worker counter.
func (c *Collector) IncWorkersLost() {
	WorkersLostTotal.WithLabelValues(c.pipeline).Inc()
}

// SetActiveWorkers sets the live-worker gauge.
func (c *Collector) SetActiveWorkers(count int) {
	ActiveWorkers.WithLabelValues(c.pipeline).Set(float64(count))
}

// SetRunnableStages sets the runnable-set gauge.
func (c *Collector) SetRunnableStages(count int) {
	RunnableStages.WithLabelValues(c.pipeline).Set(float64(count))
}

// ObserveStageDuration records the wall time of one stage attempt.
func (c *Collector) ObserveStageDuration(d time.Duration) {
	StageDuration.WithLabelValues(c.pipeline).Observe(d.Seconds())
}
