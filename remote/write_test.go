package remote_test

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/require"

	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/remote"
)

func seriesKey(t *testing.T, pairs ...string) string {
	t.Helper()
	ls, err := labelset.FromPairs(pairs...)
	require.NoError(t, err)
	return fmt.Sprintf("%s#%x", ls.MetricName(), ls.Fingerprint())
}

// TestWriteHandlerCreatesSeriesOnFirstSample checks that a WriteRequest
// carrying two distinct label sets creates two series, each reachable
// afterward by the fingerprint-derived key WriteHandler assigns them.
func TestWriteHandlerCreatesSeriesOnFirstSample(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	now := time.Now().UnixMilli()

	req := &prompb.WriteRequest{
		Timeseries: []*prompb.TimeSeries{{
			Labels: []*prompb.Label{
				{Name: "__name__", Value: "api_http_requests_total"},
				{Name: "method", Value: "GET"},
			},
			Samples: []prompb.Sample{
				{Timestamp: now, Value: 100.0},
				{Timestamp: now + 15, Value: 200.0},
			},
		}, {
			Labels: []*prompb.Label{
				{Name: "__name__", Value: "api_http_requests_total"},
				{Name: "method", Value: "POST"},
			},
			Samples: []prompb.Sample{
				{Timestamp: now, Value: 77.0},
			},
		}},
	}
	pt, err := req.Marshal()
	require.NoError(t, err)

	body := bytes.NewBuffer(snappy.Encode(nil, pt))
	httpReq, err := http.NewRequest(http.MethodPost, "/write", body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	remote.WriteHandler(db)(rec, httpReq)

	require.True(t, rec.Code >= 200 && rec.Code < 300)
	require.Equal(t, "ok", rec.Body.String())

	getKey := seriesKey(t, "__name__", "api_http_requests_total", "method", "GET")
	s, ok := db.Lookup(getKey)
	require.True(t, ok)
	points := s.Range(now, now+15)
	require.Equal(t, []float64{100.0, 200.0}, []float64{points[0].V, points[1].V})

	postKey := seriesKey(t, "__name__", "api_http_requests_total", "method", "POST")
	s, ok = db.Lookup(postKey)
	require.True(t, ok)
	points = s.Range(now, now)
	require.Equal(t, 77.0, points[0].V)
}

// TestWriteHandlerSkipsNaNSamples checks a NaN sample is silently dropped
// rather than stored.
func TestWriteHandlerSkipsNaNSamples(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	now := time.Now().UnixMilli()

	req := &prompb.WriteRequest{
		Timeseries: []*prompb.TimeSeries{{
			Labels: []*prompb.Label{{Name: "__name__", Value: "nan_metric"}},
			Samples: []prompb.Sample{
				{Timestamp: now, Value: math.NaN()},
			},
		}},
	}
	pt, err := req.Marshal()
	require.NoError(t, err)

	body := bytes.NewBuffer(snappy.Encode(nil, pt))
	httpReq, err := http.NewRequest(http.MethodPost, "/write", body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	remote.WriteHandler(db)(rec, httpReq)

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := db.Lookup(seriesKey(t, "__name__", "nan_metric"))
	require.False(t, ok)
}
