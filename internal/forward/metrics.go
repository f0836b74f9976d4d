package forward

import "sync/atomic"

type clientMetrics struct {
	requestsTotal   uint64
	requestsSuccess uint64
	requestsFailed  uint64
	retriesTotal    uint64
	circuitOpens    uint64
}

type MetricsSnapshot struct {
	RequestsTotal       uint64 `json:"requests_total"`
	RequestsSuccess     uint64 `json:"requests_success"`
	RequestsFailed      uint64 `json:"requests_failed"`
	RetriesTotal        uint64 `json:"retries_total"`
	CircuitBreakerOpens uint64 `json:"circuit_breaker_opens"`
	CircuitBreakerState string `json:"circuit_breaker_state"`
	BreakerFailures     int    `json:"circuit_breaker_failure_count"`
	RateLimit           int    `json:"rate_limit"`
	RequestsInWindow    int    `json:"current_requests_in_window"`
}

func (m *clientMetrics) addRequest() { atomic.AddUint64(&m.requestsTotal, 1) }

func (m *clientMetrics) addSuccess() { atomic.AddUint64(&m.requestsSuccess, 1) }

func (m *clientMetrics) addFailure() { atomic.AddUint64(&m.requestsFailed, 1) }

func (m *clientMetrics) addRetries(n int) { atomic.AddUint64(&m.retriesTotal, uint64(n)) }

func (m *clientMetrics) addCircuitRejected() { atomic.AddUint64(&m.circuitOpens, 1) }

func (m *clientMetrics) counters() (total, success, failed, retries, opens uint64) {
	return atomic.LoadUint64(&m.requestsTotal),
		atomic.LoadUint64(&m.requestsSuccess),
		atomic.LoadUint64(&m.requestsFailed),
		atomic.LoadUint64(&m.retriesTotal),
		atomic.LoadUint64(&m.circuitOpens)
}
