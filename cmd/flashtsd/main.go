// Command flashtsd is the standalone daemon embedding the engine behind
// an HTTP surface: Prometheus-API-compatible instant/range query
// endpoints plus remote_write/remote_read. Flag parsing, a startup banner,
// and a WaitForSigterm signal loop construct an in-memory
// metricsdb.Database from config.EngineConfig — there is no SQL backend
// or table bootstrap to wait on.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/flashts/flashts/config"
	"github.com/flashts/flashts/engine"
	"github.com/flashts/flashts/metricsdb"
	"github.com/flashts/flashts/service"

	_ "runtime" // import link package
	_ "unsafe"  // required by go:linkname
)

const (
	nmAddr           = "address"
	nmConfigFilePath = "config.file"
)

var (
	cfgFilePath = flag.String(nmConfigFilePath, "./flashts.yml", "YAML config file path for flashtsd.")
	listenAddr  = flag.String(nmAddr, "", "TCP address to listen for http connections")
)

// Version information, stamped at build time via -ldflags.
var (
	buildTS   = "None"
	gitHash   = "None"
	gitBranch = "None"
)

//go:linkname goVersion runtime.buildVersion
var goVersion string

var db *metricsdb.Database

func printStartupInfo() {
	log.Info("Welcome to flashts",
		zap.String("Git Commit Hash", gitHash),
		zap.String("Git Branch", gitBranch),
		zap.String("UTC Build Time", buildTS),
		zap.String("GoVersion", goVersion))
}

// initLogger replaces pingcap/log's global logger with one built from
// cfg, falling back to its built-in defaults (info level, stderr) on a
// bad config rather than aborting startup over a logging knob.
func initLogger(cfg config.LogConfig) {
	logCfg := &log.Config{Level: cfg.LogLevel}
	if cfg.LogFile != "" {
		logCfg.File = log.FileLogConfig{Filename: cfg.LogFile}
	}
	logger, props, err := log.InitLogger(logCfg)
	if err != nil {
		log.Warn("failed to init logger from config, using defaults", zap.Error(err))
		return
	}
	log.ReplaceGlobals(logger, props)
}

func initDatabase(cfg config.EngineConfig) {
	db = metricsdb.New(metricsdb.Options{
		EngineOptions: engine.Options{
			MaxWorkers:     cfg.MaxWorkers,
			DefaultTimeout: cfg.EvaluationTimeout,
		},
		Now:                 func() int64 { return time.Now().UnixMilli() },
		DefaultSeriesConfig: cfg.SeriesDefaults(),
	})
}

func main() {
	flag.Parse()

	cfg := config.DefaultConfig
	if _, err := os.Stat(*cfgFilePath); err == nil {
		loaded, err := config.LoadConfig(*cfgFilePath)
		if err != nil {
			log.Fatal("failed to load config file", zap.String("config.file", *cfgFilePath), zap.Error(err))
		}
		cfg = *loaded
	} else {
		log.Info("no config file found, using defaults", zap.String("config.file", *cfgFilePath))
	}

	initLogger(cfg.LogConfig)
	printStartupInfo()

	initDatabase(cfg.EngineConfig)

	addr := *listenAddr
	if addr == "" {
		addr = cfg.HTTPConfig.Address
	}
	if len(addr) == 0 {
		log.Fatal("empty listen address", zap.String("listen-address", addr))
	}
	service.Init(addr, db)
	defer service.Stop()

	sig := waitForSigterm()
	log.Info("received signal", zap.String("sig", sig.String()))
}

func waitForSigterm() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-ch
		if sig == syscall.SIGHUP {
			// Prevent the process from exiting on SIGHUP.
			continue
		}
		return sig
	}
}
