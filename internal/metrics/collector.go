package metrics

import (
	"sync"
	"time"
)

// EngineCollector accumulates in-process rollups alongside the Prometheus
// vectors, for callers that want a cheap point-in-time
// summary without scraping /metrics.
type EngineCollector struct {
	mu sync.RWMutex

	// Counters
	PrepareCount       int64
	IngestCount        int64
	SuccessfulPrepare  int64
	FailedPrepare      int64
	SuccessfulIngest   int64
	FailedIngest       int64
	SealOperations     int64
	OpenOperations     int64
	SealErrors         int64
	OpenErrors         int64
	IllegalTransitions int64

	// Timing samples, in microseconds
	PrepareTimes []int64
	IngestTimes  []int64
	SealTimes    []int64
	OpenTimes    []int64

	startTime time.Time

	maxTimingSamples int
}

// NewEngineCollector creates a new in-process metrics collector
func NewEngineCollector() *EngineCollector {
	return &EngineCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000,
	}
}

// RecordPrepare records a Prepare call
func (c *EngineCollector) RecordPrepare(success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.PrepareCount++
	if success {
		c.SuccessfulPrepare++
	} else {
		c.FailedPrepare++
	}
	c.recordTiming(&c.PrepareTimes, duration)
}

// RecordIngest records an Ingest call
func (c *EngineCollector) RecordIngest(success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.IngestCount++
	if success {
		c.SuccessfulIngest++
	} else {
		c.FailedIngest++
	}
	c.recordTiming(&c.IngestTimes, duration)
}

// RecordSeal records an envelope seal operation
func (c *EngineCollector) RecordSeal(success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SealOperations++
	if !success {
		c.SealErrors++
	}
	c.recordTiming(&c.SealTimes, duration)
}

// RecordOpen records an envelope open operation
func (c *EngineCollector) RecordOpen(success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.OpenOperations++
	if !success {
		c.OpenErrors++
	}
	c.recordTiming(&c.OpenTimes, duration)
}

// RecordIllegalTransition records a transition the legal-transition table
// rejected
func (c *EngineCollector) RecordIllegalTransition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.IllegalTransitions++
}

func (c *EngineCollector) recordTiming(timings *[]int64, duration time.Duration) {
	microseconds := duration.Microseconds()
	*timings = append(*timings, microseconds)

	if len(*timings) > c.maxTimingSamples {
		*timings = (*timings)[len(*timings)-c.maxTimingSamples:]
	}
}

// GetSnapshot returns a snapshot of current metrics
func (c *EngineCollector) GetSnapshot() *EngineSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &EngineSnapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(c.startTime),
		PrepareCount:       c.PrepareCount,
		IngestCount:        c.IngestCount,
		SuccessfulPrepare:  c.SuccessfulPrepare,
		FailedPrepare:      c.FailedPrepare,
		SuccessfulIngest:   c.SuccessfulIngest,
		FailedIngest:       c.FailedIngest,
		SealOperations:     c.SealOperations,
		OpenOperations:     c.OpenOperations,
		SealErrors:         c.SealErrors,
		OpenErrors:         c.OpenErrors,
		IllegalTransitions: c.IllegalTransitions,
		AvgPrepareTime:     calculateAverage(c.PrepareTimes),
		AvgIngestTime:      calculateAverage(c.IngestTimes),
		AvgSealTime:        calculateAverage(c.SealTimes),
		AvgOpenTime:        calculateAverage(c.OpenTimes),
		P95PrepareTime:     calculatePercentile(c.PrepareTimes, 95),
		P95IngestTime:      calculatePercentile(c.IngestTimes, 95),
		P95SealTime:        calculatePercentile(c.SealTimes, 95),
		P95OpenTime:        calculatePercentile(c.OpenTimes, 95),
	}
}

// Reset resets all metrics
func (c *EngineCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.PrepareCount = 0
	c.IngestCount = 0
	c.SuccessfulPrepare = 0
	c.FailedPrepare = 0
	c.SuccessfulIngest = 0
	c.FailedIngest = 0
	c.SealOperations = 0
	c.OpenOperations = 0
	c.SealErrors = 0
	c.OpenErrors = 0
	c.IllegalTransitions = 0

	c.PrepareTimes = nil
	c.IngestTimes = nil
	c.SealTimes = nil
	c.OpenTimes = nil

	c.startTime = time.Now()
}

// EngineSnapshot is a point-in-time snapshot of EngineCollector's counters
type EngineSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	PrepareCount       int64
	IngestCount        int64
	SuccessfulPrepare  int64
	FailedPrepare      int64
	SuccessfulIngest   int64
	FailedIngest       int64
	SealOperations     int64
	OpenOperations     int64
	SealErrors         int64
	OpenErrors         int64
	IllegalTransitions int64

	AvgPrepareTime float64
	AvgIngestTime  float64
	AvgSealTime    float64
	AvgOpenTime    float64

	P95PrepareTime int64
	P95IngestTime  int64
	P95SealTime    int64
	P95OpenTime    int64
}

// GetPrepareSuccessRate returns the Prepare success rate as a percentage
func (s *EngineSnapshot) GetPrepareSuccessRate() float64 {
	if s.PrepareCount == 0 {
		return 0
	}
	return float64(s.SuccessfulPrepare) / float64(s.PrepareCount) * 100
}

// GetIngestSuccessRate returns the Ingest success rate as a percentage
func (s *EngineSnapshot) GetIngestSuccessRate() float64 {
	if s.IngestCount == 0 {
		return 0
	}
	return float64(s.SuccessfulIngest) / float64(s.IngestCount) * 100
}

// GetSealErrorRate returns the seal error rate as a percentage
func (s *EngineSnapshot) GetSealErrorRate() float64 {
	if s.SealOperations == 0 {
		return 0
	}
	return float64(s.SealErrors) / float64(s.SealOperations) * 100
}

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)

	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	return sorted[index]
}

// Global collector instance
var globalCollector = NewEngineCollector()

// GetGlobalCollector returns the global metrics collector
func GetGlobalCollector() *EngineCollector {
	return globalCollector
}
