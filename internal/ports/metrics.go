package ports

// Metrics is the narrow observability surface the polling and ingestion
// paths report into.
type Metrics interface {
	IncPolls()
	IncMissedSamples()
	AddFramesFlushed(n int)
	IncFlushFailures()
	AddFramesDropped(n int)
	AddFramesIngested(n int)
	ObserveExchangeSeconds(s float64)
	SetActivePollers(n int)
}

// NopMetrics discards every observation. Used in tests and as a default.
type NopMetrics struct{}

func (NopMetrics) IncPolls()                      {}
func (NopMetrics) IncMissedSamples()              {}
func (NopMetrics) AddFramesFlushed(int)           {}
func (NopMetrics) IncFlushFailures()              {}
func (NopMetrics) AddFramesDropped(int)           {}
func (NopMetrics) AddFramesIngested(int)          {}
func (NopMetrics) ObserveExchangeSeconds(float64) {}
func (NopMetrics) SetActivePollers(int)           {}

var _ Metrics = NopMetrics{}
