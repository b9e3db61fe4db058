package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/series"
)

// TestMetricsHandlerReportsSeriesCount checks the exposition output
// carries the flashts_series_total gauge matching the number of series
// actually registered in the database.
func TestMetricsHandlerReportsSeriesCount(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	_, err := db.Create("s1", mustLabels(t, "__name__", "s1"), series.DefaultConfig())
	require.NoError(t, err)
	_, err = db.Create("s2", mustLabels(t, "__name__", "s2", "city", "NYC"), series.DefaultConfig())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	MetricsHandler(db)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "flashts_series_total 2")
	require.Contains(t, rec.Body.String(), "flashts_label_names_total")
}
