package http

import (
	"net"
	"net/http"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/remote"
)

var httpServer *http.Server = nil

// ServeHTTP wires the mux for every handler this module exposes over
// HTTP — the Prometheus-API-compatible query surface plus
// remote_write/remote_read.
func ServeHTTP(listener net.Listener, db *metricsdb.Database) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", QueryHandler(db))
	mux.HandleFunc("/api/v1/query_range", QueryRangeHandler(db))
	mux.HandleFunc("/write", remote.WriteHandler(db))
	mux.HandleFunc("/read", remote.ReadHandler(db))
	mux.HandleFunc("/metrics", MetricsHandler(db))
	mux.HandleFunc("/", DefaultHandler)

	httpServer = &http.Server{Handler: mux}
	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.Warn("failed to serve http service", zap.Error(err))
	}
}

// StopHTTP gracefully closes the listening server, if any.
func StopHTTP() {
	if httpServer == nil {
		return
	}

	log.Info("shutting down http server")
	if err := httpServer.Close(); err != nil {
		log.Warn("failed to close http server", zap.Error(err))
	}
	httpServer = nil
	log.Info("http server is down")
}
