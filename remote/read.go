package remote

import (
	"io/ioutil"
	"net/http"

	"github.com/golang/snappy"
	"github.com/pingcap/log"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"

	"github.com/flashts/flashts/index"
	"github.com/flashts/flashts/metricsdb"
)

// ReadHandler answers a prompb.ReadRequest by selecting series through the
// label index and scanning each one's chunk range, the read-side
// counterpart to WriteHandler.
func ReadHandler(db *metricsdb.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		compressed, err := ioutil.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		reqBuf, err := snappy.Decode(nil, compressed)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req prompb.ReadRequest
		if err = req.Unmarshal(reqBuf); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := &prompb.ReadResponse{Results: make([]*prompb.QueryResult, len(req.Queries))}
		for i, q := range req.Queries {
			resp.Results[i] = runQuery(db, q)
		}

		data, err := resp.Marshal()
		if err != nil {
			log.Warn("failed to marshal read response", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Header().Set("Content-Encoding", "snappy")
		compressed = snappy.Encode(nil, data)
		if _, err = w.Write(compressed); err != nil {
			log.Warn("failed to write read response", zap.Error(err))
		}
	}
}

func runQuery(db *metricsdb.Database, q *prompb.Query) *prompb.QueryResult {
	matchers, err := toMatchers(q.Matchers)
	if err != nil {
		log.Warn("skipping query with unsupported matchers", zap.Error(err))
		return &prompb.QueryResult{}
	}

	ids := db.SelectIDs([][]*index.Matcher{matchers})
	result := &prompb.QueryResult{Timeseries: make([]*prompb.TimeSeries, 0, len(ids))}
	for _, id := range ids {
		s, ok := db.SeriesByID(id)
		if !ok {
			continue
		}
		samples := s.Range(q.StartTimestampMs, q.EndTimestampMs)
		pbSamples := make([]prompb.Sample, 0, len(samples))
		for _, smp := range samples {
			pbSamples = append(pbSamples, prompb.Sample{Timestamp: smp.TS, Value: smp.V})
		}

		labels := s.Labels.All()
		pbLabels := make([]*prompb.Label, 0, len(labels))
		for _, l := range labels {
			pbLabels = append(pbLabels, &prompb.Label{Name: l.Name, Value: l.Value})
		}

		result.Timeseries = append(result.Timeseries, &prompb.TimeSeries{
			Labels:  pbLabels,
			Samples: pbSamples,
		})
	}
	return result
}

func toMatchers(pbm []*prompb.LabelMatcher) ([]*index.Matcher, error) {
	out := make([]*index.Matcher, 0, len(pbm))
	for _, m := range pbm {
		var t index.MatchType
		switch m.Type {
		case prompb.LabelMatcher_EQ:
			t = index.MatchEqual
		case prompb.LabelMatcher_NEQ:
			t = index.MatchNotEqual
		case prompb.LabelMatcher_RE:
			t = index.MatchRegexp
		case prompb.LabelMatcher_NRE:
			t = index.MatchNotRegexp
		default:
			continue
		}
		matcher, err := index.NewMatcher(t, m.Name, m.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, matcher)
	}
	return out, nil
}
