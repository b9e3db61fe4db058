// Package service is the top-level process lifecycle: bind the listener,
// start the HTTP server on a goroutine, and stop it on shutdown.
package service

import (
	"net"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/service/http"
)

// Init starts the HTTP server listening on addr.
func Init(addr string, db *metricsdb.Database) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("failed to listen",
			zap.String("address", addr),
			zap.Error(err),
		)
	}

	go http.ServeHTTP(listener, db)

	log.Info(
		"starting http service",
		zap.String("address", addr),
	)
}

// Stop shuts down the HTTP server.
func Stop() {
	http.StopHTTP()
}
