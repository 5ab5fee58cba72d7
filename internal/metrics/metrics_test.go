package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.RowProcessed()
	m.RowProcessed()
	m.CellError(KindDownload)
	m.CellError(KindTitle)
	m.CellError(KindDownload)
	m.BatchFinished("completed", 3*time.Second)
	m.TitleFallback()
	m.ImageCropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rowsProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cellErrors.WithLabelValues(KindDownload)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cellErrors.WithLabelValues(KindTitle)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.titleFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.imagesCropped))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cutimage_cell_errors_total{kind="download"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RowProcessed()
		m.CellError(KindOther)
		m.BatchFinished("failed", time.Second)
		m.TitleFallback()
		m.ImageCropped()
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
