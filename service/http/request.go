// Package http is the Prometheus HTTP-API-compatible query surface:
// /api/v1/query and /api/v1/query_range, JSON-shaped the way
// prometheus/common/model's API types are, adapting requests onto
// command.Query/command.QueryRange.
package http

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pingcap/log"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/flashts/flashts/command"
	"github.com/flashts/flashts/engine"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsdb"
)

// QueryData mirrors prometheus/web/api/v1's QueryData envelope, trimmed to
// the vector/matrix result types this engine actually produces.
type QueryData struct {
	ResultType string      `json:"resultType"`
	Result     interface{} `json:"result"`
}

// Response is the standard Prometheus API response envelope.
type Response struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	ErrorType string      `json:"errorType,omitempty"`
	Error     string      `json:"error,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
}

// instantSample is one series' point in a /query vector response, the
// Prometheus wire shape: `{"metric": {...}, "value": [ts, "v"]}`.
type instantSample struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value"`
}

// rangeSeries is one series' points in a /query_range matrix response.
type rangeSeries struct {
	Metric map[string]string `json:"metric"`
	Values [][2]interface{}  `json:"values"`
}

func parseTime(s string) (time.Time, error) {
	if t, err := strconv.ParseFloat(s, 64); err == nil {
		secs, frac := math.Modf(t)
		frac = math.Round(frac*1000) / 1000
		return time.Unix(int64(secs), int64(frac*float64(time.Second))), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q to a valid timestamp", s)
}

func parseDuration(s string) (time.Duration, error) {
	if d, err := strconv.ParseFloat(s, 64); err == nil {
		ts := d * float64(time.Second)
		if ts > float64(math.MaxInt64) || ts < float64(math.MinInt64) {
			return 0, fmt.Errorf("cannot parse %q to a valid duration. It overflows int64", s)
		}
		return time.Duration(ts), nil
	}
	if d, err := model.ParseDuration(s); err == nil {
		return time.Duration(d), nil
	}
	return 0, fmt.Errorf("cannot parse %q to a valid duration", s)
}

// QueryHandler implements the instant-query endpoint over command.Query.
func QueryHandler(db *metricsdb.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, ok := parseQueryParams(w, r)
		if !ok {
			return
		}

		expr := first(values, "query")
		if expr == "" {
			respondError(w, http.StatusBadRequest, "missing 'query' parameter")
			return
		}

		t := time.Now()
		if s := first(values, "time"); s != "" {
			parsed, err := parseTime(s)
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			t = parsed
		}

		timeout := 30 * time.Second
		if s := first(values, "timeout"); s != "" {
			d, err := parseDuration(s)
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			timeout = d
		}

		vec, err := command.Query(r.Context(), db, expr, t.UnixMilli(), timeout)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		respond(w, QueryData{ResultType: "vector", Result: toInstantSamples(vec)})
	}
}

// QueryRangeHandler implements the range-query endpoint over
// command.QueryRange.
func QueryRangeHandler(db *metricsdb.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, ok := parseQueryParams(w, r)
		if !ok {
			return
		}

		expr := first(values, "query")
		start, err := parseTime(first(values, "start"))
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		end, err := parseTime(first(values, "end"))
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		step, err := parseDuration(first(values, "step"))
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		timeout := 30 * time.Second
		if s := first(values, "timeout"); s != "" {
			if d, err := parseDuration(s); err == nil {
				timeout = d
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		m, err := command.QueryRange(ctx, db, expr, start.UnixMilli(), end.UnixMilli(), step.Milliseconds(), timeout)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		respond(w, QueryData{ResultType: "matrix", Result: toRangeSeries(m)})
	}
}

func toInstantSamples(vec engine.Vector) []instantSample {
	out := make([]instantSample, 0, len(vec))
	for _, s := range vec {
		out = append(out, instantSample{
			Metric: labelsToMap(s.Labels),
			Value:  [2]interface{}{float64(s.TS) / 1000, strconv.FormatFloat(s.V, 'f', -1, 64)},
		})
	}
	return out
}

func toRangeSeries(m engine.Matrix) []rangeSeries {
	out := make([]rangeSeries, 0, len(m))
	for _, sr := range m {
		values := make([][2]interface{}, 0, len(sr.Points))
		for _, p := range sr.Points {
			values = append(values, [2]interface{}{float64(p.TS) / 1000, strconv.FormatFloat(p.V, 'f', -1, 64)})
		}
		out = append(out, rangeSeries{Metric: labelsToMap(sr.Labels), Values: values})
	}
	return out
}

func labelsToMap(ls labelset.LabelSet) map[string]string {
	m := make(map[string]string)
	for _, l := range ls.All() {
		m[l.Name] = l.Value
	}
	return m
}

func parseQueryParams(w http.ResponseWriter, r *http.Request) (url.Values, bool) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), true
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	log.Debug("received http request", zap.ByteString("request", body))

	values, err := url.ParseQuery(string(body))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return values, true
}

func first(values url.Values, key string) string {
	if vs, ok := values[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// DefaultHandler responds 200 to any request the mux doesn't otherwise
// route.
func DefaultHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func respond(w http.ResponseWriter, data interface{}) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(&Response{
		Status: "success",
		Data:   data,
	})
	if err != nil {
		log.Warn("error marshaling json response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if n, err := w.Write(b); err != nil {
		log.Warn("error writing response", zap.Int("bytesWritten", n), zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(&Response{
		Status:    "error",
		ErrorType: "bad_data",
		Error:     msg,
	})
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
