package service

import (
	"sync"
	"time"
)

// MetricsCollector tracks operation counts and cumulative processing
// time for the matching core.
type MetricsCollector struct {
	mu sync.RWMutex

	submitCount     int
	submitTotalTime time.Duration

	compareCount     int
	compareTotalTime time.Duration

	decryptRequestCount     int
	decryptRequestTotalTime time.Duration

	finalizeCount     int
	finalizeTotalTime time.Duration
	notReadyCount     int

	matchesFound int
}

// OperationMetrics contains aggregate timing information for one
// operation kind.
type OperationMetrics struct {
	Count           int   `json:"count"`
	TotalTimeMillis int64 `json:"total_time_ms"`
	MeanTimeMicros  int64 `json:"mean_time_us"`
}

// MetricsResponse provides metrics for all operations.
type MetricsResponse struct {
	Submissions      OperationMetrics `json:"submissions"`
	Comparisons      OperationMetrics `json:"comparisons"`
	DecryptRequests  OperationMetrics `json:"decrypt_requests"`
	Finalizations    OperationMetrics `json:"finalizations"`
	NotReadyOutcomes int              `json:"not_ready_outcomes"`
	MatchesFound     int              `json:"matches_found"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

func (mc *MetricsCollector) RecordSubmit(elapsed time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.submitCount++
	mc.submitTotalTime += elapsed
}

func (mc *MetricsCollector) RecordCompare(elapsed time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.compareCount++
	mc.compareTotalTime += elapsed
}

func (mc *MetricsCollector) RecordDecryptRequest(elapsed time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.decryptRequestCount++
	mc.decryptRequestTotalTime += elapsed
}

// RecordFinalize accounts one finalize call; notReady outcomes are
// tracked separately since they are expected retries rather than
// completed reveals.
func (mc *MetricsCollector) RecordFinalize(elapsed time.Duration, notReady bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if notReady {
		mc.notReadyCount++
		return
	}
	mc.finalizeCount++
	mc.finalizeTotalTime += elapsed
}

func (mc *MetricsCollector) RecordMatchFound() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.matchesFound++
}

func operationMetrics(count int, total time.Duration) OperationMetrics {
	m := OperationMetrics{
		Count:           count,
		TotalTimeMillis: total.Milliseconds(),
	}
	if count > 0 {
		m.MeanTimeMicros = total.Microseconds() / int64(count)
	}
	return m
}

// Snapshot returns the current aggregates.
func (mc *MetricsCollector) Snapshot() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsResponse{
		Submissions:      operationMetrics(mc.submitCount, mc.submitTotalTime),
		Comparisons:      operationMetrics(mc.compareCount, mc.compareTotalTime),
		DecryptRequests:  operationMetrics(mc.decryptRequestCount, mc.decryptRequestTotalTime),
		Finalizations:    operationMetrics(mc.finalizeCount, mc.finalizeTotalTime),
		NotReadyOutcomes: mc.notReadyCount,
		MatchesFound:     mc.matchesFound,
	}
}
