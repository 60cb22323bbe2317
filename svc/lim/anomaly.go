package lim

import (
	"bettergist/metrics"
	"bettergist/svc/util"
	"sync"
	"time"
)

const (
	anomalyBuckets     = 5
	anomalyMinRequests = 10
	anomalyErrorRate   = 5.0
)

// AnomalyDetector keeps per-minute request and 5xx counts and calls
// onAnomaly when the rolling error rate crosses anomalyErrorRate.
type AnomalyDetector struct {
	mu           sync.Mutex
	window       [anomalyBuckets]bucket
	currentIndex int
	onAnomaly    func()
	done         chan struct{}
	stopOnce     sync.Once
}
type bucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}
func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				return
			}
		}
	}()
}
func (d *AnomalyDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	d.window[d.currentIndex].requests++
	d.mu.Unlock()
}
func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	d.window[d.currentIndex].errors++
	d.mu.Unlock()
}

// AdvanceWindow evaluates the rolling window and starts a fresh bucket.
// It returns the error rate that was evaluated.
func (d *AnomalyDetector) AdvanceWindow() float64 {
	d.mu.Lock()
	var totalReqs, totalErrs int64
	for _, b := range d.window {
		totalReqs += b.requests
		totalErrs += b.errors
	}
	d.currentIndex = (d.currentIndex + 1) % anomalyBuckets
	d.window[d.currentIndex] = bucket{}
	d.mu.Unlock()
	var errorRate float64
	if totalReqs > 0 {
		errorRate = float64(totalErrs) / float64(totalReqs) * 100.0
	}
	metrics.RecentErrorRatePercent.Set(errorRate)
	if totalReqs > anomalyMinRequests && errorRate > anomalyErrorRate {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("total_reqs", totalReqs).
			Int64("total_errs", totalErrs).
			Msg("high error rate, tightening read limits")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
	return errorRate
}
