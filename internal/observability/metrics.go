package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	transitions  map[string]int64
	deliveries   map[string]int64
	syncFetches  map[string]int64
	dropped      map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		transitions:  make(map[string]int64),
		deliveries:   make(map[string]int64),
		syncFetches:  make(map[string]int64),
		dropped:      make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	m.incr(func() map[string]int64 { return m.errorCount }, path+"|"+method+"|"+code)
}

// RecordTransition counts committed lifecycle changes by kind.
func (m *Metrics) RecordTransition(kind string) {
	m.incr(func() map[string]int64 { return m.transitions }, kind)
}

// RecordDelivery counts delivery attempts per channel and outcome.
func (m *Metrics) RecordDelivery(channel, outcome string) {
	m.incr(func() map[string]int64 { return m.deliveries }, channel+"|"+outcome)
}

// RecordSyncFetch counts conversation pulls by result.
func (m *Metrics) RecordSyncFetch(ok bool) {
	key := "ok"
	if !ok {
		key = "failed"
	}
	m.incr(func() map[string]int64 { return m.syncFetches }, key)
}

// RecordDropped counts work dropped because a queue was full.
func (m *Metrics) RecordDropped(queue string) {
	m.incr(func() map[string]int64 { return m.dropped }, queue)
}

// Snapshot copies every counter family.
func (m *Metrics) Snapshot() map[string]map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]map[string]int64{
		"requests":     copyCounters(m.requestCount),
		"errors":       copyCounters(m.errorCount),
		"transitions":  copyCounters(m.transitions),
		"deliveries":   copyCounters(m.deliveries),
		"sync_fetches": copyCounters(m.syncFetches),
		"dropped":      copyCounters(m.dropped),
	}
}

// Keys returns the sorted keys of one counter family, mostly for tests.
func (m *Metrics) Keys(family string) []string {
	counters := m.Snapshot()[family]
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Metrics) incr(family func() map[string]int64, key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	family()[key]++
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
