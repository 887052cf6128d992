// Command polyjuice-daemon runs the Ethereum-on-UTXO bridge: the base
// chain indexer plus the Ethereum JSON-RPC front end.
//
// Usage:
//
//	polyjuice-daemon [flags]
//	polyjuice-daemon bootstrap -datadir DIR -lock-dep 0xHASH:IDX -contract-lock-dep 0xHASH:IDX
//
// Flags:
//
//	--config          YAML config file layered under the flags
//	--datadir         KV store directory (empty = in-memory)
//	--listen          JSON-RPC listen address (default: 127.0.0.1:8214)
//	--basechain       base chain RPC endpoint ("memory" = in-process chain)
//	--loglevel        debug, info, warn, error (default: info)
//	--logfile         rotated log file path (empty = stderr only)
//	--metrics         enable the Prometheus /metrics endpoint
//	--metrics.listen  metrics listen address (default: 127.0.0.1:8215)
//
// The bootstrap subcommand records the outpoints of the two published
// lock-script code cells, which must exist before the daemon starts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ckb-eth/polyjuice/internal/basechain"
	"github.com/ckb-eth/polyjuice/internal/config"
	"github.com/ckb-eth/polyjuice/internal/ethtypes"
	"github.com/ckb-eth/polyjuice/internal/indexer"
	"github.com/ckb-eth/polyjuice/internal/kvstore"
	"github.com/ckb-eth/polyjuice/internal/loader"
	"github.com/ckb-eth/polyjuice/internal/rpc"
	"github.com/ckb-eth/polyjuice/internal/runner"
	"github.com/ckb-eth/polyjuice/internal/state"
	"github.com/ckb-eth/polyjuice/log"
	"github.com/ckb-eth/polyjuice/metrics"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "bootstrap" {
		return runBootstrap(args[1:])
	}

	cfg, err := config.Load("polyjuice-daemon", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := buildLogger(cfg)
	log.SetDefault(logger)

	db, err := openStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open KV store", "datadir", cfg.DataDir, "err", err)
		return 1
	}
	defer db.Close()

	var client basechain.Client
	if cfg.BaseChainURL == "memory" {
		client = basechain.NewMemory()
	} else {
		client = basechain.NewHTTPClient(cfg.BaseChainURL)
	}

	ld, err := loader.New(db, client)
	if err != nil {
		logger.Error("loader startup verification failed", "err", err)
		return 1
	}
	rn := runner.New(ld)
	api := rpc.NewAPI(ld, rn, client)
	httpSrv := rpc.NewServer(api).HTTPServer(cfg.ListenAddr)

	stop := make(chan struct{})
	ix := indexer.New(db, client)
	go func() {
		// A fatal indexer error (a missing revert key is the one
		// expected case) stops indexing but leaves the RPC server up,
		// serving stale reads until the operator restarts the process.
		if err := ix.Run(stop); err != nil {
			logger.Error("indexer stopped", "err", err)
		}
	}()

	go func() {
		logger.Info("JSON-RPC listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rpc server failed", "err", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	close(stop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}
	return 0
}

func buildLogger(cfg *config.Config) *log.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.LogFile != "" {
		return log.NewWithFileRotation(level, log.FileSinkConfig{Path: cfg.LogFile})
	}
	return log.New(level)
}

func openStore(dataDir string) (kvstore.Store, error) {
	if dataDir == "" {
		return kvstore.NewMemory(), nil
	}
	return kvstore.OpenPebble(dataDir)
}

// runBootstrap writes the lock_dep / contract_lock_dep keys the loader
// verifies at startup. The one-shot publisher of the lock code cells runs
// first and prints the two outpoints; this records them.
func runBootstrap(args []string) int {
	fs := flag.NewFlagSet("polyjuice-daemon bootstrap", flag.ContinueOnError)
	dataDir := fs.String("datadir", config.DefaultDataDir, "KV store directory")
	lockDep := fs.String("lock-dep", "", "normal lock code cell outpoint, 0xHASH:IDX")
	contractLockDep := fs.String("contract-lock-dep", "", "contract lock code cell outpoint, 0xHASH:IDX")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *lockDep == "" || *contractLockDep == "" {
		fmt.Fprintln(os.Stderr, "bootstrap: both -lock-dep and -contract-lock-dep are required")
		return 2
	}

	db, err := openStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer db.Close()

	if err := writeLockDep(db, state.LockDepKey, *lockDep); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := writeLockDep(db, state.ContractLockDepKey, *contractLockDep); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("lock deps recorded")
	return 0
}

func writeLockDep(db kvstore.Store, key []byte, spec string) error {
	op, err := parseOutPoint(spec)
	if err != nil {
		return err
	}
	value, err := state.EncodeOutPointValue(op)
	if err != nil {
		return err
	}
	return db.Put(key, value)
}

func parseOutPoint(spec string) (basechain.OutPoint, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "0x") {
		return basechain.OutPoint{}, fmt.Errorf("invalid outpoint %q, want 0xHASH:IDX", spec)
	}
	hashHex := strings.TrimPrefix(parts[0], "0x")
	if len(hashHex) != 2*ethtypes.HashLength {
		return basechain.OutPoint{}, fmt.Errorf("invalid outpoint hash length in %q", spec)
	}
	var hash ethtypes.Hash
	for i := 0; i < ethtypes.HashLength; i++ {
		b, err := strconv.ParseUint(hashHex[2*i:2*i+2], 16, 8)
		if err != nil {
			return basechain.OutPoint{}, fmt.Errorf("invalid outpoint hash in %q", spec)
		}
		hash[i] = byte(b)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return basechain.OutPoint{}, fmt.Errorf("invalid outpoint index in %q", spec)
	}
	return basechain.OutPoint{TxHash: hash, Index: uint32(index)}, nil
}
