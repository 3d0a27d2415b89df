// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package loglevel

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/log"
)

// Request sets the level by name.
type Request struct {
	Level string `json:"level"`
}

// Response reports the level in effect.
type Response struct {
	CurrentLevel string `json:"currentLevel"`
}

var levels = map[string]slog.Level{
	"trace": log.LevelTrace,
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
	"crit":  log.LevelCrit,
}

// LogLevel serves the runtime log level shared by every handler.
type LogLevel struct {
	logLevel *slog.LevelVar
}

func New(logLevel *slog.LevelVar) *LogLevel {
	return &LogLevel{
		logLevel: logLevel,
	}
}

func (l *LogLevel) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("").
		Methods(http.MethodGet).
		Name("GET /admin/loglevel").
		HandlerFunc(utils.WrapHandlerFunc(l.handleGet))

	sub.Path("").
		Methods(http.MethodPost).
		Name("POST /admin/loglevel").
		HandlerFunc(utils.WrapHandlerFunc(l.handlePost))
}

func (l *LogLevel) current() *Response {
	return &Response{CurrentLevel: log.LevelString(l.logLevel.Level())}
}

func (l *LogLevel) handleGet(w http.ResponseWriter, _ *http.Request) error {
	return utils.WriteJSON(w, l.current())
}

func (l *LogLevel) handlePost(w http.ResponseWriter, r *http.Request) error {
	var req Request
	if err := utils.ParseJSON(r.Body, &req); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	level, ok := levels[req.Level]
	if !ok {
		return utils.BadRequest(errors.Errorf("unknown level %q", req.Level))
	}
	l.logLevel.Set(level)
	log.Info("log level changed", "pkg", "loglevel", "level", req.Level)
	return utils.WriteJSON(w, l.current())
}
