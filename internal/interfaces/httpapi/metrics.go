package httpapi

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"fsvault/internal/domain"
)

// Metrics counts host calls, event publication and the archive consumer.
// It satisfies application.HostObserver.
type Metrics struct {
	mu              sync.RWMutex
	startTime       time.Time
	callsOK         map[string]uint64
	callsReverted   map[string]uint64
	revertCodes     map[string]uint64
	eventsPublished uint64
	publishErrs     uint64
	kafkaMessages   uint64
	kafkaDecodeErrs uint64
	kafkaFetchErrs  uint64
	kafkaFlushErrs  uint64
	eventsArchived  uint64
	kafkaLastOffset int64
	kafkaLastLag    time.Duration
	kafkaMaxLag     time.Duration
	lastFlushCount  int
	lastFlushAt     time.Time
	kafkaPartitions map[int]uint64
}

type MetricsSnapshot struct {
	StartTime       time.Time
	CallsOK         map[string]uint64
	CallsReverted   map[string]uint64
	RevertCodes     map[string]uint64
	EventsPublished uint64
	PublishErrs     uint64
	KafkaMessages   uint64
	KafkaDecodeErrs uint64
	KafkaFetchErrs  uint64
	KafkaFlushErrs  uint64
	EventsArchived  uint64
	KafkaLastOffset int64
	KafkaLastLag    time.Duration
	KafkaMaxLag     time.Duration
	LastFlushCount  int
	LastFlushAt     time.Time
	KafkaPartitions map[int]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime:       time.Now(),
		callsOK:         make(map[string]uint64),
		callsReverted:   make(map[string]uint64),
		revertCodes:     make(map[string]uint64),
		kafkaPartitions: make(map[int]uint64),
	}
}

func (m *Metrics) OnCall(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.callsOK[method]++
		return
	}
	m.callsReverted[method]++
	code := "internal"
	if described, ok := domain.DescribeError(err); ok {
		code = described.Code
	}
	m.revertCodes[code]++
}

func (m *Metrics) OnPublish(events int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.publishErrs++
		return
	}
	m.eventsPublished += uint64(events)
}

func (m *Metrics) ObserveKafkaMessage(partition int, offset int64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaMessages++
	m.kafkaLastOffset = offset
	m.kafkaPartitions[partition]++
	if !ts.IsZero() {
		lag := time.Since(ts)
		m.kafkaLastLag = lag
		if lag > m.kafkaMaxLag {
			m.kafkaMaxLag = lag
		}
	}
}

func (m *Metrics) IncKafkaDecodeErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaDecodeErrs++
}

func (m *Metrics) IncKafkaFetchErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaFetchErrs++
}

func (m *Metrics) IncKafkaFlushErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaFlushErrs++
}

func (m *Metrics) OnFlush(events int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsArchived += uint64(events)
	m.lastFlushCount = events
	m.lastFlushAt = time.Now()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		StartTime:       m.startTime,
		CallsOK:         copyCounts(m.callsOK),
		CallsReverted:   copyCounts(m.callsReverted),
		RevertCodes:     copyCounts(m.revertCodes),
		EventsPublished: m.eventsPublished,
		PublishErrs:     m.publishErrs,
		KafkaMessages:   m.kafkaMessages,
		KafkaDecodeErrs: m.kafkaDecodeErrs,
		KafkaFetchErrs:  m.kafkaFetchErrs,
		KafkaFlushErrs:  m.kafkaFlushErrs,
		EventsArchived:  m.eventsArchived,
		KafkaLastOffset: m.kafkaLastOffset,
		KafkaLastLag:    m.kafkaLastLag,
		KafkaMaxLag:     m.kafkaMaxLag,
		LastFlushCount:  m.lastFlushCount,
		LastFlushAt:     m.lastFlushAt,
		KafkaPartitions: copyPartitions(m.kafkaPartitions),
	}
}

// WritePrometheus renders the snapshot in the Prometheus text format.
func (s MetricsSnapshot) WritePrometheus(w io.Writer) {
	fmt.Fprintf(w, "fsvault_uptime_seconds %.0f\n", time.Since(s.StartTime).Seconds())
	for _, method := range sortedKeys(s.CallsOK) {
		fmt.Fprintf(w, "fsvault_calls_total{method=%q,status=\"ok\"} %d\n", method, s.CallsOK[method])
	}
	for _, method := range sortedKeys(s.CallsReverted) {
		fmt.Fprintf(w, "fsvault_calls_total{method=%q,status=\"reverted\"} %d\n", method, s.CallsReverted[method])
	}
	for _, code := range sortedKeys(s.RevertCodes) {
		fmt.Fprintf(w, "fsvault_reverts_total{code=%q} %d\n", code, s.RevertCodes[code])
	}
	fmt.Fprintf(w, "fsvault_events_published_total %d\n", s.EventsPublished)
	fmt.Fprintf(w, "fsvault_publish_errors_total %d\n", s.PublishErrs)
	fmt.Fprintf(w, "fsvault_kafka_messages_total %d\n", s.KafkaMessages)
	fmt.Fprintf(w, "fsvault_kafka_decode_errors_total %d\n", s.KafkaDecodeErrs)
	fmt.Fprintf(w, "fsvault_kafka_fetch_errors_total %d\n", s.KafkaFetchErrs)
	fmt.Fprintf(w, "fsvault_kafka_flush_errors_total %d\n", s.KafkaFlushErrs)
	fmt.Fprintf(w, "fsvault_kafka_last_offset %d\n", s.KafkaLastOffset)
	fmt.Fprintf(w, "fsvault_kafka_lag_seconds %.3f\n", s.KafkaLastLag.Seconds())
	fmt.Fprintf(w, "fsvault_kafka_max_lag_seconds %.3f\n", s.KafkaMaxLag.Seconds())
	partitions := make([]int, 0, len(s.KafkaPartitions))
	for partition := range s.KafkaPartitions {
		partitions = append(partitions, partition)
	}
	sort.Ints(partitions)
	for _, partition := range partitions {
		fmt.Fprintf(w, "fsvault_kafka_partition_messages_total{partition=\"%d\"} %d\n", partition, s.KafkaPartitions[partition])
	}
	fmt.Fprintf(w, "fsvault_events_archived_total %d\n", s.EventsArchived)
	fmt.Fprintf(w, "fsvault_last_flush_count %d\n", s.LastFlushCount)
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyPartitions(src map[int]uint64) map[int]uint64 {
	dst := make(map[int]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
