package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveArchive(true, 1, 1)
		m.IncUpstreamRetry()
		m.ObserveUpstream("listing", nil)
		m.ObserveStage("extract", "success", time.Second)
		m.ObserveRequest("/api/operadoras", 200, time.Millisecond)
		m.SetSnapshot(3, time.Now())
	})
}

func TestObserveArchive(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveArchive(true, 10, 2)
	m.ObserveArchive(false, 0, 0)
	m.ObserveUpstream("archive", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchivesFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchivesFailed))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RowsExtracted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("archive", "error")))
}
