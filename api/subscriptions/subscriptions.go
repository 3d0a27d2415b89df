// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package subscriptions

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/api/utils/types"
	"github.com/vechain/mpbft/governance"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/node"
)

var logger = log.WithContext("pkg", "subscriptions")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 7 / 10
	bufferSize = 64
)

// Subscriptions streams node events over websockets.
type Subscriptions struct {
	node     *node.Node
	upgrader *websocket.Upgrader
	done     chan struct{}
	wg       sync.WaitGroup
}

func New(n *node.Node, allowedOrigins []string) *Subscriptions {
	return &Subscriptions{
		node: n,
		upgrader: &websocket.Upgrader{
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || allowed == strings.ToLower(origin) {
						return true
					}
				}
				return false
			},
		},
		done: make(chan struct{}),
	}
}

// pipe writes what next yields to the socket until the peer goes away, the
// subscription fails or the server closes.
func (s *Subscriptions) pipe(conn *websocket.Conn, sub event.Subscription, next <-chan any) error {
	s.wg.Add(1)
	defer s.wg.Done()
	defer sub.Unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-next:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case err := <-sub.Err():
			return err
		case <-closed:
			return nil
		case <-s.done:
			return conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
		}
	}
}

func (s *Subscriptions) upgrade(w http.ResponseWriter, req *http.Request) (*websocket.Conn, error) {
	select {
	case <-s.done:
		return nil, utils.HTTPError(errors.New("server closing"), http.StatusServiceUnavailable)
	default:
	}
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// the upgrader already responded
		logger.Debug("upgrade failed", "err", err)
		return nil, nil
	}
	return conn, nil
}

func (s *Subscriptions) handleSubscribeRounds(w http.ResponseWriter, req *http.Request) error {
	conn, err := s.upgrade(w, req)
	if conn == nil {
		return err
	}
	defer conn.Close()

	ch := make(chan *node.RoundEvent, bufferSize)
	sub := s.node.SubscribeRoundEvents(ch)
	next := make(chan any)
	go forward(ch, next, sub, func(ev *node.RoundEvent) any { return ev })
	if err := s.pipe(conn, sub, next); err != nil {
		logger.Debug("round subscription ended", "err", err)
	}
	return nil
}

func (s *Subscriptions) handleSubscribeProposals(w http.ResponseWriter, req *http.Request) error {
	conn, err := s.upgrade(w, req)
	if conn == nil {
		return err
	}
	defer conn.Close()

	ch := make(chan *governance.Proposal, bufferSize)
	sub := s.node.SubscribeProposals(ch)
	next := make(chan any)
	go forward(ch, next, sub, func(p *governance.Proposal) any { return types.ConvertProposal(p) })
	if err := s.pipe(conn, sub, next); err != nil {
		logger.Debug("proposal subscription ended", "err", err)
	}
	return nil
}

// forward relays subscription items as stream messages until sub ends.
func forward[T any](in <-chan T, out chan<- any, sub event.Subscription, convert func(T) any) {
	for {
		select {
		case v := <-in:
			select {
			case out <- convert(v):
			case <-sub.Err():
				return
			}
		case <-sub.Err():
			return
		}
	}
}

// Close ends every open stream and waits for them.
func (s *Subscriptions) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *Subscriptions) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/rounds").
		Methods(http.MethodGet).
		Name("WS /subscriptions/rounds").
		HandlerFunc(utils.WrapHandlerFunc(s.handleSubscribeRounds))
	sub.Path("/proposals").
		Methods(http.MethodGet).
		Name("WS /subscriptions/proposals").
		HandlerFunc(utils.WrapHandlerFunc(s.handleSubscribeProposals))
}
