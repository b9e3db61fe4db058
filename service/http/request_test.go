package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/series"
)

func mustLabels(t *testing.T, pairs ...string) labelset.LabelSet {
	t.Helper()
	ls, err := labelset.FromPairs(pairs...)
	require.NoError(t, err)
	return ls
}

// TestQueryHandlerReturnsVector checks a bare-selector instant query
// round-trips through the HTTP handler to a JSON vector response,
// mirroring QUERY_RANGE(expr,t,t) == QUERY(expr,t) law at
// the transport boundary.
func TestQueryHandlerReturnsVector(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	labels := mustLabels(t, "__name__", "temperature", "city", "NYC")
	s, err := db.Create("temp:nyc", labels, series.DefaultConfig())
	require.NoError(t, err)
	_, err = s.Add(1000, 42, 1000)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/query?query=temperature&time=1.0", nil)
	rec := httptest.NewRecorder()

	QueryHandler(db)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"resultType":"vector"`)
	require.Contains(t, rec.Body.String(), `"42"`)
}

// TestQueryHandlerMissingQueryParam checks the handler rejects a request
// with no query expression rather than evaluating an empty string.
func TestQueryHandlerMissingQueryParam(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/query", nil)
	rec := httptest.NewRecorder()

	QueryHandler(db)(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestQueryRangeHandlerReturnsMatrix checks the range endpoint shapes its
// response as a matrix with one series' worth of [ts, value] pairs.
func TestQueryRangeHandlerReturnsMatrix(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	labels := mustLabels(t, "__name__", "temperature")
	s, err := db.Create("temp", labels, series.DefaultConfig())
	require.NoError(t, err)
	for ts := int64(0); ts <= 3000; ts += 1000 {
		_, err = s.Add(ts, float64(ts), ts)
		require.NoError(t, err)
	}

	form := url.Values{
		"query": {"temperature"},
		"start": {"0"},
		"end":   {"3"},
		"step":  {"1s"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query_range", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	QueryRangeHandler(db)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"resultType":"matrix"`)
}

// TestDefaultHandlerRespondsOK checks the catch-all route never errors.
func TestDefaultHandlerRespondsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/unrouted", nil)
	rec := httptest.NewRecorder()

	DefaultHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
