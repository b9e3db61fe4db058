// Package remote implements the Prometheus remote_write/remote_read
// wire-compatible HTTP handlers: decode -> validate -> store, backed by
// metricsdb.Database and its TS.* command-adapter functions.
package remote

import (
	"io"
	"io/ioutil"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/pingcap/log"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"

	"github.com/flashts/flashts/command"
	"github.com/flashts/flashts/labelset"
	"github.com/flashts/flashts/metricsdb"
)

// WriteHandler decodes a snappy-compressed prompb.WriteRequest body and
// appends each series' samples via command.Add, creating series on first
// write.
func WriteHandler(db *metricsdb.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeWriteRequest(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		start := time.Now()
		defer func() {
			log.Debug("write timeseries done", zap.Int("count", len(req.Timeseries)), zap.Duration("duration", time.Since(start)))
		}()

		nowMs := db.Now()
		for _, ts := range req.Timeseries {
			labels, key, err := toLabelSetAndKey(ts.Labels)
			if err != nil {
				log.Warn("skipping timeseries with invalid labels", zap.Error(err))
				continue
			}
			if key == "" {
				log.Warn("metric name not found, ignored", zap.Any("labels", ts.Labels))
				continue
			}

			for _, sample := range ts.Samples {
				if math.IsNaN(sample.Value) {
					continue
				}
				_, err := command.Add(db, key, sample.Timestamp, sample.Value, command.AddOptions{
					DefaultLabels: labels,
				}, nowMs)
				if err != nil {
					// Ingestion failures are per-sample, not fatal for
					// the whole write request.
					log.Warn("failed to store sample", zap.Error(err), zap.String("key", key))
				}
			}
		}

		_, _ = w.Write([]byte("ok"))
	}
}

// toLabelSetAndKey builds a labelset.LabelSet from prompb labels and
// derives a stable datastore key from the set's fingerprint: remote-write
// has no client-chosen key, unlike the explicit TS.* command surface.
func toLabelSetAndKey(pbLabels []*prompb.Label) (labelset.LabelSet, string, error) {
	b := labelset.NewBuilder()
	for _, l := range pbLabels {
		b.Add(l.Name, l.Value)
	}
	ls, err := b.Build()
	if err != nil {
		return labelset.LabelSet{}, "", err
	}
	name := ls.MetricName()
	if name == "" {
		return ls, "", nil
	}
	return ls, name + "#" + strconv.FormatUint(ls.Fingerprint(), 16), nil
}

func decodeWriteRequest(r io.Reader) (*prompb.WriteRequest, error) {
	compressed, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	reqBuf, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, err
	}

	req := &prompb.WriteRequest{}
	if err = req.Unmarshal(reqBuf); err != nil {
		return nil, err
	}

	return req, nil
}
