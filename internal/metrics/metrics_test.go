package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.jobsSubmitted)
	assert.NotNil(t, collector.jobsDispatched)
	assert.NotNil(t, collector.jobsCompleted)
	assert.NotNil(t, collector.jobsExited)
	assert.NotNil(t, collector.jobLatency)
	assert.NotNil(t, collector.recoveryTime)
	assert.NotNil(t, collector.jobsByState)
	assert.NotNil(t, collector.queueBacklog)
	assert.NotNil(t, collector.resourceInUse)
	assert.NotNil(t, collector.agentsConnected)
}

func TestRecordSubmitAndDispatch(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordSubmit()
		}
		for i := 0; i < 3; i++ {
			collector.RecordDispatch()
		}
	})
}

func TestRecordFinished(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	for _, latency := range []float64{0.001, 0.01, 0.1, 1.0, 5.0} {
		assert.NotPanics(t, func() {
			collector.RecordFinished(true, latency)
			collector.RecordFinished(false, latency)
		})
	}
}

func TestSetGauges(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetJobsByState("Pending", 3)
		collector.SetQueueBacklog("batch", 12)
		collector.SetResourceInUse("gpu", 4)
		collector.SetAgentsConnected(2)
		collector.SetRecoveryTime(0.75)
	})
}

func TestJournalAndSnapshotObservations(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.ObserveJournalBatch(8)
		collector.ObserveSnapshotDuration(0.05)
	})
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A second collector in the same process panics on duplicate
	// registration; a controller only ever constructs one.
	assert.Panics(t, func() {
		NewCollector()
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordSubmit()
			collector.RecordDispatch()
			collector.RecordFinished(true, 0.1)
			collector.SetQueueBacklog("batch", 10)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}
