package http

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/flashts/flashts/command"
	"github.com/flashts/flashts/filter"
	"github.com/flashts/flashts/metricsdb"
)

// allSeries is a single empty-matcher group, which index.Cardinality
// resolves to the full series set rather than the empty set.
var allSeries = filter.Groups{{}}

// MetricsHandler exposes the engine's own operational counters (series
// count, distinct label names) in Prometheus text exposition format via
// expfmt's text encoder, since the audience here is a Prometheus scraper
// rather than a JSON client.
func MetricsHandler(db *metricsdb.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families := []*dto.MetricFamily{
			gaugeFamily("flashts_series_total", "Number of series currently registered.",
				float64(command.Card(db, allSeries))),
			gaugeFamily("flashts_label_names_total", "Number of distinct label names.",
				float64(len(command.LabelNames(db)))),
		}

		w.Header().Set("Content-Type", string(expfmt.FmtText))
		enc := expfmt.NewEncoder(w, expfmt.FmtText)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
	}
}

func gaugeFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_GAUGE
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &t,
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: &value},
		}},
	}
}
