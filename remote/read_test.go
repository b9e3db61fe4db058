package remote_test

import (
	"bytes"
	"io/ioutil"
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
	"github.com/flashts/flashts/series"
)

// TestReadHandlerReturnsMatchingSeries grounds the remote-read path on
// write_test.go's fixture shape: a series created directly through
// metricsdb.Database is fetched back by ReadHandler via an __name__
// equality matcher.
func TestReadHandlerReturnsMatchingSeries(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})
	now := time.Now().UnixMilli()

	labels, err := labelset.FromPairs("__name__", "cpu_seconds", "host", "a")
	require.NoError(t, err)
	s, err := db.Create("cpu_seconds#a", labels, series.DefaultConfig())
	require.NoError(t, err)
	_, err = s.Add(now, 1.5, now)
	require.NoError(t, err)
	_, err = s.Add(now+15, 2.5, now+15)
	require.NoError(t, err)

	req := &prompb.ReadRequest{
		Queries: []*prompb.Query{{
			StartTimestampMs: now,
			EndTimestampMs:   now + 15,
			Matchers: []*prompb.LabelMatcher{
				{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "cpu_seconds"},
			},
		}},
	}
	pt, err := req.Marshal()
	require.NoError(t, err)

	body := bytes.NewBuffer(snappy.Encode(nil, pt))
	httpReq, err := http.NewRequest(http.MethodPost, "/read", body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	remote.ReadHandler(db)(rec, httpReq)
	require.Equal(t, http.StatusOK, rec.Code)

	respBuf, err := ioutil.ReadAll(rec.Body)
	require.NoError(t, err)
	decompressed, err := snappy.Decode(nil, respBuf)
	require.NoError(t, err)

	var resp prompb.ReadResponse
	require.NoError(t, resp.Unmarshal(decompressed))
	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Results[0].Timeseries, 1)

	ts := resp.Results[0].Timeseries[0]
	require.Equal(t, []prompb.Sample{
		{Timestamp: now, Value: 1.5},
		{Timestamp: now + 15, Value: 2.5},
	}, ts.Samples)
}

// TestReadHandlerReturnsEmptyResultForNoMatches checks a query matching
// no series comes back as an empty (not error) result.
func TestReadHandlerReturnsEmptyResultForNoMatches(t *testing.T) {
	db := metricsdb.New(metricsdb.Options{})

	req := &prompb.ReadRequest{
		Queries: []*prompb.Query{{
			Matchers: []*prompb.LabelMatcher{
				{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "missing"},
			},
		}},
	}
	pt, err := req.Marshal()
	require.NoError(t, err)

	body := bytes.NewBuffer(snappy.Encode(nil, pt))
	httpReq, err := http.NewRequest(http.MethodPost, "/read", body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	remote.ReadHandler(db)(rec, httpReq)
	require.Equal(t, http.StatusOK, rec.Code)
}
