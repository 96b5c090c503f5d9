package gen

import "log"

// MetricSink receives scalar training metrics. Implementations must be
// cheap; GetLoss calls them inline.
type MetricSink interface {
	Scalar(name string, value float64, step int)
}

// NopSink discards all metrics.
type NopSink struct{}

// Scalar implements MetricSink.
func (NopSink) Scalar(string, float64, int) {}

// LogSink writes metrics through the standard logger, at most once per
// Every steps per metric name.
type LogSink struct {
	Every int
	last  map[string]int
}

// NewLogSink returns a LogSink logging each metric every n steps.
func NewLogSink(n int) *LogSink {
	if n < 1 {
		n = 1
	}
	return &LogSink{Every: n, last: make(map[string]int)}
}

// Scalar implements MetricSink.
func (s *LogSink) Scalar(name string, value float64, step int) {
	if prev, ok := s.last[name]; ok && step-prev < s.Every {
		return
	}
	s.last[name] = step
	log.Printf("metric %s=%.6f step=%d", name, value, step)
}

// MultiSink fans metrics out to several sinks.
type MultiSink []MetricSink

// Scalar implements MetricSink.
func (ms MultiSink) Scalar(name string, value float64, step int) {
	for _, s := range ms {
		s.Scalar(name, value, step)
	}
}
