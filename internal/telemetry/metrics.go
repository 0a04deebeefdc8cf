// Package telemetry keeps in-process counters for the pipeline and
// renders them in Prometheus text format for /metricsz.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultRegistry = newRegistry()

type registry struct {
	mu                 sync.Mutex
	boxes              map[string]map[string]int64
	stageDurations     map[string][]int64
	camperCalls        map[string]map[string]int64
	securityRejections map[string]int64
	gateRejections     int64
	cacheHits          int64
	cacheMisses        int64
	breakerTransitions map[string]int64
	deliveryLogErrors  int64
}

func newRegistry() *registry {
	return &registry{
		boxes:              make(map[string]map[string]int64),
		stageDurations:     make(map[string][]int64),
		camperCalls:        make(map[string]map[string]int64),
		securityRejections: make(map[string]int64),
		breakerTransitions: make(map[string]int64),
	}
}

// IncBox counts one processed Party Box per claim and terminal state.
func IncBox(claim, state string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.boxes[claim]; !ok {
		defaultRegistry.boxes[claim] = make(map[string]int64)
	}
	defaultRegistry.boxes[claim][state]++
}

// ObserveStageDuration buckets a pipeline stage's wall time.
func ObserveStageDuration(stage string, d time.Duration) {
	buckets := []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120}
	sec := d.Seconds()

	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.stageDurations[stage]; !ok {
		defaultRegistry.stageDurations[stage] = make([]int64, len(buckets)+1)
	}
	idx := len(buckets)
	for i, b := range buckets {
		if sec <= b {
			idx = i
			break
		}
	}
	defaultRegistry.stageDurations[stage][idx]++
}

func IncCamperCall(role, status string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.camperCalls[role]; !ok {
		defaultRegistry.camperCalls[role] = make(map[string]int64)
	}
	defaultRegistry.camperCalls[role][status]++
}

func IncSecurityRejection(check string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.securityRejections[check]++
	defaultRegistry.mu.Unlock()
}

func IncGateRejection() {
	defaultRegistry.mu.Lock()
	defaultRegistry.gateRejections++
	defaultRegistry.mu.Unlock()
}

func IncCacheHit() {
	defaultRegistry.mu.Lock()
	defaultRegistry.cacheHits++
	defaultRegistry.mu.Unlock()
}

func IncCacheMiss() {
	defaultRegistry.mu.Lock()
	defaultRegistry.cacheMisses++
	defaultRegistry.mu.Unlock()
}

// IncBreakerTransition records a circuit breaker state change as
// "from->to".
func IncBreakerTransition(from, to string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.breakerTransitions[from+"->"+to]++
	defaultRegistry.mu.Unlock()
}

func IncDeliveryLogError() {
	defaultRegistry.mu.Lock()
	defaultRegistry.deliveryLogErrors++
	defaultRegistry.mu.Unlock()
}

func RenderPrometheus() string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# TYPE riverboat_boxes_total counter\n")
	for _, claim := range sortedKeys(defaultRegistry.boxes) {
		for _, state := range sortedKeys(defaultRegistry.boxes[claim]) {
			sb.WriteString(fmt.Sprintf("riverboat_boxes_total{claim=\"%s\",state=\"%s\"} %d\n", claim, state, defaultRegistry.boxes[claim][state]))
		}
	}

	sb.WriteString("# TYPE riverboat_stage_duration_seconds_bucket counter\n")
	bucketLabels := []string{"0.01", "0.05", "0.1", "0.5", "1", "5", "30", "120", "+Inf"}
	for _, stage := range sortedKeys(defaultRegistry.stageDurations) {
		counts := defaultRegistry.stageDurations[stage]
		for i, v := range counts {
			sb.WriteString(fmt.Sprintf("riverboat_stage_duration_seconds_bucket{stage=\"%s\",le=\"%s\"} %d\n", stage, bucketLabels[i], v))
		}
	}

	sb.WriteString("# TYPE riverboat_camper_calls_total counter\n")
	for _, role := range sortedKeys(defaultRegistry.camperCalls) {
		for _, status := range sortedKeys(defaultRegistry.camperCalls[role]) {
			sb.WriteString(fmt.Sprintf("riverboat_camper_calls_total{role=\"%s\",status=\"%s\"} %d\n", role, status, defaultRegistry.camperCalls[role][status]))
		}
	}

	sb.WriteString("# TYPE riverboat_security_rejections_total counter\n")
	for _, check := range sortedKeys(defaultRegistry.securityRejections) {
		sb.WriteString(fmt.Sprintf("riverboat_security_rejections_total{check=\"%s\"} %d\n", check, defaultRegistry.securityRejections[check]))
	}

	sb.WriteString("# TYPE riverboat_gate_rejections_total counter\n")
	sb.WriteString(fmt.Sprintf("riverboat_gate_rejections_total %d\n", defaultRegistry.gateRejections))

	sb.WriteString("# TYPE riverboat_cache_hits_total counter\n")
	sb.WriteString(fmt.Sprintf("riverboat_cache_hits_total %d\n", defaultRegistry.cacheHits))

	sb.WriteString("# TYPE riverboat_cache_misses_total counter\n")
	sb.WriteString(fmt.Sprintf("riverboat_cache_misses_total %d\n", defaultRegistry.cacheMisses))

	sb.WriteString("# TYPE riverboat_breaker_transitions_total counter\n")
	for _, t := range sortedKeys(defaultRegistry.breakerTransitions) {
		sb.WriteString(fmt.Sprintf("riverboat_breaker_transitions_total{transition=\"%s\"} %d\n", t, defaultRegistry.breakerTransitions[t]))
	}

	sb.WriteString("# TYPE riverboat_delivery_log_errors_total counter\n")
	sb.WriteString(fmt.Sprintf("riverboat_delivery_log_errors_total %d\n", defaultRegistry.deliveryLogErrors))

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
