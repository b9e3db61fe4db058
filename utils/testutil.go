// Package utils holds small cross-package helpers; testutil.go is test
// scaffolding for packages that need a ready-made Database rather than a
// mock: an injectable metricsdb.Database factory in place of a SQL
// setup/teardown pair.
package utils

import (
	"github.com/flashts/flashts/engine"
	"github.com/flashts/flashts/metricsdb"
)

// NewTestDatabase builds an in-memory metricsdb.Database with a
// deterministic, caller-controlled clock.
func NewTestDatabase(nowMs int64) *metricsdb.Database {
	clock := nowMs
	return metricsdb.New(metricsdb.Options{
		EngineOptions: engine.Options{},
		Now:           func() int64 { return clock },
	})
}
