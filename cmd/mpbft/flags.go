// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"

	"github.com/vechain/mpbft/log"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a yaml file overriding genesis, parameters and timeouts",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Value: defaultDataDir(),
		Usage: "directory for the validator key and databases",
	}
	cacheFlag = cli.IntFlag{
		Name:  "cache",
		Value: 256,
		Usage: "megabytes of ram allocated to the database cache",
	}
	apiAddrFlag = cli.StringFlag{
		Name:  "api-addr",
		Value: "localhost:8679",
		Usage: "API service listening address",
	}
	apiCorsFlag = cli.StringFlag{
		Name:  "api-cors",
		Value: "",
		Usage: "comma separated list of domains from which to accept cross origin requests to API",
	}
	apiSlowQueriesThresholdFlag = cli.DurationFlag{
		Name:  "api-slow-queries-threshold",
		Value: 0,
		Usage: "log only API requests slower than this (0 logs all when API logs are enabled)",
	}
	apiLog5xxErrorsFlag = cli.BoolFlag{
		Name:  "api-log-5xx-errors",
		Usage: "log API requests answered with a server error",
	}
	enableAPILogsFlag = cli.BoolFlag{
		Name:  "enable-api-logs",
		Usage: "enables API requests logging",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Value: log.LegacyLevelInfo,
		Usage: "log verbosity (0-9)",
	}
	jsonLogsFlag = cli.BoolFlag{
		Name:  "json-logs",
		Usage: "output logs in JSON format",
	}
	logDirFlag = cli.StringFlag{
		Name:  "log-dir",
		Usage: "also write logs to rotated files in this directory",
	}
	pprofFlag = cli.BoolFlag{
		Name:  "pprof",
		Usage: "turn on go-pprof",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:  "enable-metrics",
		Usage: "enables metrics collection",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Value: "localhost:2122",
		Usage: "metrics service listening address",
	}
	enableAdminFlag = cli.BoolFlag{
		Name:  "enable-admin",
		Usage: "enables admin server",
	}
	adminAddrFlag = cli.StringFlag{
		Name:  "admin-addr",
		Value: "localhost:2123",
		Usage: "admin service listening address",
	}
	skipClockCheckFlag = cli.BoolFlag{
		Name:  "skip-clock-check",
		Usage: "do not compare the local clock against NTP at startup",
	}

	// solo mode only flags
	validatorsFlag = cli.IntFlag{
		Name:  "validators",
		Value: 4,
		Usage: "number of in-process validators",
	}
	persistFlag = cli.BoolFlag{
		Name:  "persist",
		Usage: "keep keys and databases in the data dir instead of memory",
	}
)
