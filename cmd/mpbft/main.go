// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/vechain/mpbft/api"
	"github.com/vechain/mpbft/comm"
	"github.com/vechain/mpbft/identity"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/node"
)

var (
	version   string
	gitCommit string
	gitTag    string
	logger    = log.WithContext("pkg", "main")
)

// soloStake is the genesis stake of every solo validator.
const soloStake = 10_000

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "MPBFT",
		Usage:     "Multi-proof BFT consensus node",
		Copyright: "2025 VeChain Foundation <https://vechain.org/>",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			cacheFlag,
			apiAddrFlag,
			apiCorsFlag,
			apiSlowQueriesThresholdFlag,
			apiLog5xxErrorsFlag,
			enableAPILogsFlag,
			verbosityFlag,
			jsonLogsFlag,
			logDirFlag,
			pprofFlag,
			enableMetricsFlag,
			metricsAddrFlag,
			enableAdminFlag,
			adminAddrFlag,
			skipClockCheckFlag,
		},
		Action: defaultAction,
		Commands: []cli.Command{
			{
				Name:  "solo",
				Usage: "run a devnet of in-process validators",
				Flags: []cli.Flag{
					configFlag,
					dataDirFlag,
					cacheFlag,
					apiAddrFlag,
					apiCorsFlag,
					enableAPILogsFlag,
					verbosityFlag,
					jsonLogsFlag,
					logDirFlag,
					pprofFlag,
					enableMetricsFlag,
					metricsAddrFlag,
					enableAdminFlag,
					adminAddrFlag,
					validatorsFlag,
					persistFlag,
				},
				Action: soloAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	exitSignal := handleExitSignal()
	defer func() { logger.Info("exited") }()

	logLevel, closeLogs, err := initLogger(ctx)
	if err != nil {
		return err
	}
	defer closeLogs()

	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}

	dataDir, err := makeDataDir(ctx)
	if err != nil {
		return err
	}
	key, err := identity.LoadOrGenerateKey(filepath.Join(dataDir, "master.key"))
	if err != nil {
		return errors.Wrap(err, "load validator key")
	}
	signer := identity.NewSigner(key)
	if len(cfg.Genesis) == 0 {
		logger.Warn("no genesis validators configured, starting a single validator network")
		cfg.Genesis = []node.GenesisValidator{{ID: signer.Address(), Stake: soloStake, ConsensusKey: signer.PublicKey()}}
	}

	id, err := networkID(cfg)
	if err != nil {
		return err
	}
	instanceDir, err := makeInstanceDir(ctx, id)
	if err != nil {
		return err
	}
	if !ctx.Bool(skipClockCheckFlag.Name) {
		checkClockOffset(cfg)
	}
	initMetrics(ctx)

	db, err := openStore(ctx, filepath.Join(instanceDir, "main.db"))
	if err != nil {
		return err
	}
	defer func() { logger.Info("closing database..."); db.Close() }()

	hub := comm.NewHub()
	defer hub.Close()

	n, err := node.New(cfg, db, node.NewDevLedger(), node.DevProofs{}, hub, signer)
	if err != nil {
		return err
	}
	defer func() { logger.Info("closing node..."); n.Close() }()

	return serve(ctx, exitSignal, logLevel, []*node.Node{n}, func(apiURL string) {
		printStartupMessage(id, cfg, signer.Address(), instanceDir, apiURL)
	})
}

func soloAction(ctx *cli.Context) error {
	exitSignal := handleExitSignal()
	defer func() { logger.Info("exited") }()

	logLevel, closeLogs, err := initLogger(ctx)
	if err != nil {
		return err
	}
	defer closeLogs()

	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	count := ctx.Int(validatorsFlag.Name)
	if count < 1 {
		return errors.Errorf("at least one validator is required, got %d", count)
	}

	soloDir := "Memory"
	if ctx.Bool(persistFlag.Name) {
		dataDir, err := makeDataDir(ctx)
		if err != nil {
			return err
		}
		soloDir = filepath.Join(dataDir, "solo")
		if err := os.MkdirAll(soloDir, 0o700); err != nil {
			return errors.Wrapf(err, "create solo dir [%v]", soloDir)
		}
	}

	signers, err := soloSigners(ctx, soloDir, count)
	if err != nil {
		return err
	}
	cfg.Genesis = nil
	for _, s := range signers {
		cfg.Genesis = append(cfg.Genesis, node.GenesisValidator{ID: s.Address(), Stake: soloStake, ConsensusKey: s.PublicKey()})
	}
	id, err := networkID(cfg)
	if err != nil {
		return err
	}
	initMetrics(ctx)

	hub := comm.NewHub()
	defer hub.Close()

	var (
		nodes  = make([]*node.Node, 0, count)
		stores = make([]kv.StoreCloser, 0, count)
	)
	defer func() {
		logger.Info("closing nodes...")
		for _, n := range nodes {
			n.Close()
		}
		for _, db := range stores {
			db.Close()
		}
	}()
	for i, s := range signers {
		var db kv.StoreCloser
		if ctx.Bool(persistFlag.Name) {
			if db, err = openStore(ctx, filepath.Join(soloDir, fmt.Sprintf("validator-%d.db", i))); err != nil {
				return err
			}
		} else {
			db = kv.NewMem()
		}
		stores = append(stores, db)

		n, err := node.New(cfg, db, node.NewDevLedger(), node.DevProofs{}, hub, s)
		if err != nil {
			return errors.Wrapf(err, "validator #%d", i)
		}
		nodes = append(nodes, n)
	}

	return serve(ctx, exitSignal, logLevel, nodes, func(apiURL string) {
		printStartupMessage(id, cfg, signers[0].Address(), soloDir, apiURL)
	})
}

// soloSigners returns the keys of the solo validators, kept in dir when the
// devnet is persisted.
func soloSigners(ctx *cli.Context, dir string, count int) ([]*identity.Signer, error) {
	signers := make([]*identity.Signer, 0, count)
	for i := range count {
		if !ctx.Bool(persistFlag.Name) {
			s, err := identity.GenerateSigner()
			if err != nil {
				return nil, err
			}
			signers = append(signers, s)
			continue
		}
		key, err := identity.LoadOrGenerateKey(filepath.Join(dir, fmt.Sprintf("validator-%d.key", i)))
		if err != nil {
			return nil, errors.Wrapf(err, "load validator #%d key", i)
		}
		signers = append(signers, identity.NewSigner(key))
	}
	return signers, nil
}

func initMetrics(ctx *cli.Context) {
	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}
}

// serve runs nodes until exitSignal or the first node failure. The API of the
// first node is served on the api address.
func serve(ctx *cli.Context, exitSignal context.Context, logLevel *slog.LevelVar, nodes []*node.Node, started func(apiURL string)) error {
	apiLogs := new(atomic.Bool)
	apiLogs.Store(ctx.Bool(enableAPILogsFlag.Name))

	handler, closeSubs := api.New(nodes[0], api.Options{
		AllowedOrigins:       ctx.String(apiCorsFlag.Name),
		PprofOn:              ctx.Bool(pprofFlag.Name),
		EnableMetrics:        ctx.Bool(enableMetricsFlag.Name),
		EnableReqLogger:      apiLogs,
		SlowQueriesThreshold: ctx.Duration(apiSlowQueriesThresholdFlag.Name),
		Log5xxErrors:         ctx.Bool(apiLog5xxErrorsFlag.Name),
	})
	defer closeSubs()

	apiURL, stopAPI, err := startAPIServer(ctx, handler)
	if err != nil {
		return err
	}
	defer func() { logger.Info("stopping API server..."); stopAPI() }()

	if ctx.Bool(enableMetricsFlag.Name) {
		url, stop, err := startMetricsServer(ctx.String(metricsAddrFlag.Name))
		if err != nil {
			return err
		}
		defer func() { logger.Info("stopping metrics server..."); stop() }()
		logger.Info("metrics server started", "url", url)
	}
	if ctx.Bool(enableAdminFlag.Name) {
		url, stop, err := api.StartAdminServer(ctx.String(adminAddrFlag.Name), logLevel, apiLogs, nodes[0])
		if err != nil {
			return err
		}
		defer func() { logger.Info("stopping admin server..."); stop() }()
		logger.Info("admin server started", "url", url)
	}

	started(apiURL)

	g, gctx := errgroup.WithContext(exitSignal)
	for _, n := range nodes {
		g.Go(func() error {
			return n.Run(gctx)
		})
	}
	return g.Wait()
}
