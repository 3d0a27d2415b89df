// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/beevik/ntp"
	"github.com/elastic/gosigar"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"

	"github.com/vechain/mpbft/co"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/node"
	"github.com/vechain/mpbft/params"
)

const ntpServer = "pool.ntp.org"

// initLogger installs the root logger. With a log dir, records also go to
// rotated files there, and the returned func closes them.
func initLogger(ctx *cli.Context) (*slog.LevelVar, func(), error) {
	lvl := new(slog.LevelVar)
	lvl.Set(log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)))

	format := log.FormatTerminal
	if ctx.Bool(jsonLogsFlag.Name) {
		format = log.FormatJSON
	}
	fd := os.Stderr.Fd()
	useColor := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if dir := ctx.String(logDirFlag.Name); dir != "" {
		rw, err := log.NewRotateWriter(dir, "mpbft")
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open log dir [%v]", dir)
		}
		out, useColor, closeFn = io.MultiWriter(os.Stderr, rw), false, func() { rw.Close() }
	}
	log.SetDefault(log.NewLogger(log.NewHandler(out, format, lvl, useColor)))
	return lvl, closeFn, nil
}

// loadConfig returns the default node config overridden by the yaml file at
// path, if any.
func loadConfig(path string) (node.Config, error) {
	cfg := node.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (node.Config, error) {
	cfg := node.DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrap(err, "decode config")
	}
	seen := make(map[core.Address]bool, len(cfg.Genesis))
	for i, g := range cfg.Genesis {
		if g.ID.IsZero() {
			return cfg, errors.Errorf("genesis validator #%d: missing id", i)
		}
		if seen[g.ID] {
			return cfg, errors.Errorf("genesis validator %v: duplicated", g.ID)
		}
		if len(g.ConsensusKey) == 0 {
			return cfg, errors.Errorf("genesis validator %v: missing consensus key", g.ID)
		}
		if g.Commission > core.One {
			return cfg, errors.Errorf("genesis validator %v: commission above one", g.ID)
		}
		seen[g.ID] = true
	}
	return cfg, nil
}

// networkID identifies the network a config describes. Data of different
// networks is kept apart in the data dir.
func networkID(cfg node.Config) (core.Bytes32, error) {
	genesis, err := rlp.EncodeToBytes(cfg.Genesis)
	if err != nil {
		return core.Bytes32{}, err
	}
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	var overrides bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&overrides, "%s=%d;", k, cfg.Params[params.Key(k)])
	}
	return core.Blake2b(genesis, overrides.Bytes()), nil
}

func defaultDataDir() string {
	if home := homeDir(); home != "" {
		return filepath.Join(home, ".mpbft")
	}
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

func makeDataDir(ctx *cli.Context) (string, error) {
	dataDir := ctx.String(dataDirFlag.Name)
	if dataDir == "" {
		return "", errors.Errorf("unable to infer default data dir, use -%s to specify", dataDirFlag.Name)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", errors.Wrapf(err, "create data dir [%v]", dataDir)
	}
	return dataDir, nil
}

func makeInstanceDir(ctx *cli.Context, id core.Bytes32) (string, error) {
	dataDir, err := makeDataDir(ctx)
	if err != nil {
		return "", err
	}
	instanceDir := filepath.Join(dataDir, fmt.Sprintf("instance-%x", id.Bytes()[24:]))
	if err := os.MkdirAll(instanceDir, 0o700); err != nil {
		return "", errors.Wrapf(err, "create instance dir [%v]", instanceDir)
	}
	return instanceDir, nil
}

func openStore(ctx *cli.Context, dir string) (kv.StoreCloser, error) {
	cacheMB := normalizeCacheSize(ctx.Int(cacheFlag.Name))
	logger.Debug("cache size(MB)", "size", cacheMB)

	db, err := kv.Open(dir, kv.Options{CacheSize: cacheMB, SyncWrites: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open database [%v]", dir)
	}
	return db, nil
}

// normalizeCacheSize limits the cache to half of the physical memory.
func normalizeCacheSize(sizeMB int) int {
	if sizeMB < 16 {
		sizeMB = 16
	}

	var mem gosigar.Mem
	if err := mem.Get(); err != nil {
		logger.Warn("failed to get total mem", "err", err)
	} else {
		limitMB := int(mem.Total / 1024 / 1024 / 2)
		if limitMB > 0 && sizeMB > limitMB {
			sizeMB = limitMB
			logger.Warn("cache size(MB) limited", "limit", limitMB)
		}
	}
	return sizeMB
}

// checkClockOffset warns when the local clock drifts from NTP by more than a
// quarter of the propose timeout.
func checkClockOffset(cfg node.Config) {
	resp, err := ntp.Query(ntpServer)
	if err != nil {
		logger.Debug("failed to access NTP", "err", err)
		return
	}
	if offset := resp.ClockOffset; offset.Abs() > cfg.Timeouts.Propose/4 {
		logger.Warn("clock offset detected", "offset", common.PrettyDuration(offset))
	}
}

func startAPIServer(ctx *cli.Context, handler http.Handler) (string, func(), error) {
	addr := ctx.String(apiAddrFlag.Name)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen API addr [%v]", addr)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: time.Second}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String() + "/", func() {
		srv.Close()
		goes.Wait()
	}, nil
}

func startMetricsServer(addr string) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen metrics API addr [%v]", addr)
	}

	router := mux.NewRouter()
	router.PathPrefix("/metrics").Handler(metrics.HTTPHandler())
	handler := handlers.CompressHandler(router)

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: time.Second, ReadTimeout: 5 * time.Second}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String() + "/metrics", func() {
		srv.Close()
		goes.Wait()
	}, nil
}

// handleExitSignal returns a context canceled on the first SIGINT or SIGTERM.
// A second signal aborts the process.
func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

		sig := <-exitSignalCh
		logger.Info("exit signal received", "signal", sig)
		cancel()

		<-exitSignalCh
		logger.Warn("forced exit")
		os.Exit(1)
	}()
	return ctx
}

func printStartupMessage(id core.Bytes32, cfg node.Config, self core.Address, instanceDir, apiURL string) {
	fmt.Printf(`Starting %v
    Network      [ %v ]
    Validators   [ %v ]
    Self         [ %v ]
    Instance dir [ %v ]
    API portal   [ %v ]
`,
		"MPBFT/"+fullVersion(),
		id.AbbrevString(),
		len(cfg.Genesis),
		self,
		instanceDir,
		apiURL)
}
