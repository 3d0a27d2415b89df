// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/api/utils/types"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/comm"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/identity"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/node"
	"github.com/vechain/mpbft/tx"
)

type testServer struct {
	t      *testing.T
	ts     *httptest.Server
	node   *node.Node
	signer *identity.Signer
	ledger *node.DevLedger
}

func newTestServer(t *testing.T) *testServer {
	s, err := identity.GenerateSigner()
	require.NoError(t, err)

	cfg := node.DefaultConfig()
	cfg.Timeouts = bft.Timeouts{
		Propose:        200 * time.Millisecond,
		ProposeDelta:   50 * time.Millisecond,
		PreVote:        100 * time.Millisecond,
		PreVoteDelta:   50 * time.Millisecond,
		PreCommit:      100 * time.Millisecond,
		PreCommitDelta: 50 * time.Millisecond,
	}
	cfg.BlockInterval = 20 * time.Millisecond
	cfg.Genesis = []node.GenesisValidator{{ID: s.Address(), Stake: 10_000, ConsensusKey: s.PublicKey()}}

	db := kv.NewMem()
	t.Cleanup(func() { db.Close() })
	hub := comm.NewHub()
	t.Cleanup(hub.Close)
	ledger := node.NewDevLedger()
	n, err := node.New(cfg, db, ledger, node.DevProofs{}, hub, s)
	require.NoError(t, err)
	t.Cleanup(n.Close)

	handler, closeSubs := New(n, Options{AllowedOrigins: "*", EnableMetrics: true})
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		closeSubs()
		ts.Close()
	})
	return &testServer{t: t, ts: ts, node: n, signer: s, ledger: ledger}
}

func (s *testServer) do(method, path string, body any) (int, []byte) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, r)
	require.NoError(s.t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(s.t, err)
	return res.StatusCode, data
}

func (s *testServer) get(path string, out any) int {
	code, data := s.do(http.MethodGet, path, nil)
	if code == http.StatusOK && out != nil {
		require.NoError(s.t, json.Unmarshal(data, out), string(data))
	}
	return code
}

func (s *testServer) post(path string, body, out any) int {
	code, data := s.do(http.MethodPost, path, body)
	if code == http.StatusOK && out != nil {
		require.NoError(s.t, json.Unmarshal(data, out), string(data))
	}
	return code
}

func TestValidators(t *testing.T) {
	s := newTestServer(t)
	self := s.signer.Address()

	var list []*types.Validator
	require.Equal(t, http.StatusOK, s.get("/validators", &list))
	require.Len(t, list, 1)
	assert.Equal(t, self, list[0].ID)
	assert.Equal(t, "active", list[0].Status)
	assert.True(t, list[0].Genesis)
	assert.Equal(t, hexutil.Bytes(s.signer.PublicKey()), list[0].ConsensusKey)

	var one types.Validator
	require.Equal(t, http.StatusOK, s.get("/validators/"+self.String(), &one))
	assert.Equal(t, uint64(10_000), one.Stake)

	stranger, err := identity.GenerateSigner()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, s.get("/validators/"+stranger.Address().String(), nil))
	assert.Equal(t, http.StatusBadRequest, s.get("/validators/0x12", nil))

	var res types.TxResponse
	require.Equal(t, http.StatusOK, s.post("/validators/self/stake", map[string]any{"delta": 500}, &res))
	var pending types.PendingTx
	require.Equal(t, http.StatusOK, s.get("/transactions/"+res.ID.String(), &pending))
	assert.True(t, pending.Pending)
	assert.Equal(t, tx.Stake.String(), pending.Kind)

	assert.Equal(t, http.StatusBadRequest, s.post("/validators/self/stake", map[string]any{"delta": 0}, nil))
	assert.Equal(t, http.StatusBadRequest, s.post("/validators", map[string]any{"stake": 1, "commission": 2_000_000}, nil))
	assert.Equal(t, http.StatusBadRequest, s.post("/validators/self/proofs", map[string]any{"kind": "magic", "data": "0x01"}, nil))
}

func TestNodeQueries(t *testing.T) {
	s := newTestServer(t)

	var status struct {
		Self       *core.Address `json:"self"`
		Mode       string        `json:"mode"`
		Validators int           `json:"validators"`
	}
	require.Equal(t, http.StatusOK, s.get("/node/status", &status))
	require.NotNil(t, status.Self)
	assert.Equal(t, s.signer.Address(), *status.Self)
	assert.Equal(t, 1, status.Validators)
	assert.NotEmpty(t, status.Mode)

	var ps []struct {
		Key   string `json:"key"`
		Value uint64 `json:"value"`
	}
	require.Equal(t, http.StatusOK, s.get("/node/params", &ps))
	require.NotEmpty(t, ps)
	var minStake uint64
	for _, p := range ps {
		if p.Key == "min-stake" {
			minStake = p.Value
		}
	}
	assert.Equal(t, uint64(1000), minStake)

	require.Equal(t, http.StatusOK, s.get("/node/treasury", nil))
	assert.Equal(t, http.StatusNotFound, s.get("/rounds/7", nil))
	assert.Equal(t, http.StatusNotFound, s.get("/rounds/seven", nil))
}

func TestProposalsAndTransactions(t *testing.T) {
	s := newTestServer(t)

	var res types.TxResponse
	change := map[string]any{"kind": "ParameterChange", "param": "min-stake", "value": 1500}
	require.Equal(t, http.StatusOK, s.post("/proposals", change, &res))
	assert.NotNil(t, s.node.PendingTx(res.ID))

	assert.Equal(t, http.StatusBadRequest, s.post("/proposals", map[string]any{"kind": "Coup"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.post("/proposals", map[string]any{"kind": "TreasurySpend", "amount": 1}, nil))

	var list []*types.Proposal
	require.Equal(t, http.StatusOK, s.get("/proposals", &list))
	assert.Empty(t, list, "proposals open once their tx is in a block")

	unknown := core.Blake2b([]byte("unknown")).String()
	assert.Equal(t, http.StatusNotFound, s.get("/proposals/"+unknown, nil))
	assert.Equal(t, http.StatusNotFound, s.post("/proposals/"+unknown+"/ballots", map[string]any{"choice": "yes"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.post("/proposals/"+unknown+"/ballots", map[string]any{"choice": "maybe"}, nil))
	assert.Equal(t, http.StatusNotFound, s.post("/proposals/"+unknown+"/sponsors", nil, nil))

	assert.Equal(t, http.StatusBadRequest, s.post("/transactions", map[string]any{"raw": "0x0102"}, nil))
	stranger, err := identity.GenerateSigner()
	require.NoError(t, err)
	signed, err := stranger.SignTx(tx.NewBuilder(tx.Exit, stranger.Address()).Nonce(1).Build())
	require.NoError(t, err)
	raw, err := rlp.EncodeToBytes(signed)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, s.post("/transactions", &types.RawTx{Raw: raw}, nil), "origin is not a validator")
	assert.Equal(t, http.StatusNotFound, s.get("/transactions/"+signed.ID().String(), nil))
}

func signedVote(t *testing.T, s *identity.Signer, phase bft.Phase, hash core.Bytes32) *types.Vote {
	v := &bft.Vote{Height: 1, Phase: phase, Validator: s.Address(), BlockHash: &hash}
	require.NoError(t, s.SignVote(v))
	return types.ConvertVote(v)
}

func TestVotesAndEvidence(t *testing.T) {
	s := newTestServer(t)
	a, b := core.Blake2b([]byte("a")), core.Blake2b([]byte("b"))

	var accepted types.Vote
	require.Equal(t, http.StatusOK, s.post("/votes", signedVote(t, s.signer, bft.PhasePreCommit, a), &accepted))
	assert.Equal(t, "PreCommit", accepted.Phase)

	forged := signedVote(t, s.signer, bft.PhasePreVote, a)
	forged.Round = 3
	assert.Equal(t, http.StatusBadRequest, s.post("/votes", forged, nil))
	bad := signedVote(t, s.signer, bft.PhasePreVote, a)
	bad.Phase = "Commit"
	assert.Equal(t, http.StatusBadRequest, s.post("/votes", bad, nil))

	req := &types.EvidenceRequest{
		Type:  "DoubleVote",
		Votes: []*types.Vote{signedVote(t, s.signer, bft.PhasePreVote, a), signedVote(t, s.signer, bft.PhasePreVote, b)},
	}
	var ev types.Evidence
	require.Equal(t, http.StatusOK, s.post("/evidence", req, &ev))
	assert.Equal(t, s.signer.Address(), ev.Validator)
	assert.Equal(t, uint64(500_000), ev.Severity)
	assert.Len(t, ev.Votes, 2)

	assert.Equal(t, http.StatusConflict, s.post("/evidence", req, nil), "already known")
	req.Votes = req.Votes[:1]
	assert.Equal(t, http.StatusBadRequest, s.post("/evidence", req, nil))
	req.Type = "Gossip"
	assert.Equal(t, http.StatusBadRequest, s.post("/evidence", req, nil))
}

func TestRoundSubscription(t *testing.T) {
	s := newTestServer(t)

	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/subscriptions/rounds"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.node.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))
	for {
		var ev node.RoundEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Kind != node.RoundCommitted {
			continue
		}
		require.NotNil(t, ev.BlockHash)
		var rounds types.Rounds
		require.Equal(t, http.StatusOK, s.get("/rounds/1", &rounds))
		assert.Equal(t, uint64(1), rounds.Height)
		break
	}
}
