// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/log"
)

var logger = log.WithContext("pkg", "bft")

// DefaultInboxSize is the default capacity of a controller inbox.
const DefaultInboxSize = 1024

// maxTimeoutRounds caps the round used to grow timeouts.
const maxTimeoutRounds = 64

// Timeouts configures phase timeouts. Each grows linearly with the round.
type Timeouts struct {
	Propose        time.Duration `yaml:"propose"`
	ProposeDelta   time.Duration `yaml:"propose-delta"`
	PreVote        time.Duration `yaml:"prevote"`
	PreVoteDelta   time.Duration `yaml:"prevote-delta"`
	PreCommit      time.Duration `yaml:"precommit"`
	PreCommitDelta time.Duration `yaml:"precommit-delta"`
}

// DefaultTimeouts returns the default phase timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Propose:        3000 * time.Millisecond,
		ProposeDelta:   500 * time.Millisecond,
		PreVote:        1000 * time.Millisecond,
		PreVoteDelta:   500 * time.Millisecond,
		PreCommit:      1000 * time.Millisecond,
		PreCommitDelta: 500 * time.Millisecond,
	}
}

// Of returns the timeout of phase in round.
func (t Timeouts) Of(phase Phase, round uint64) time.Duration {
	r := time.Duration(min(round, maxTimeoutRounds))
	switch phase {
	case PhasePropose:
		return t.Propose + r*t.ProposeDelta
	case PhasePreVote:
		return t.PreVote + r*t.PreVoteDelta
	default:
		return t.PreCommit + r*t.PreCommitDelta
	}
}

// ActionFunc performs an action on behalf of the controller and returns
// follow-up events. Follow-ups are handled before the next inbox message and
// never go through the inbox, so local votes and proposals are never dropped.
type ActionFunc func(Action) []Event

// Controller drives the machine of one height. All events funnel through a
// single bounded inbox; Submit never blocks.
type Controller struct {
	machine  *Machine
	clock    mclock.Clock
	timeouts Timeouts
	perform  ActionFunc

	inbox  chan Event
	tock   chan TimeoutEvent
	halt   chan error
	quit   chan struct{}
	timer  mclock.Timer
	status atomic.Pointer[RoundStatus]
	start  mclock.AbsTime
}

// NewController creates the controller of machine's height.
func NewController(machine *Machine, clock mclock.Clock, timeouts Timeouts, inboxSize int, perform ActionFunc) *Controller {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	c := &Controller{
		machine:  machine,
		clock:    clock,
		timeouts: timeouts,
		perform:  perform,
		inbox:    make(chan Event, inboxSize),
		tock:     make(chan TimeoutEvent, 1),
		halt:     make(chan error, 1),
		quit:     make(chan struct{}),
	}
	status := machine.Status()
	c.status.Store(&status)
	return c
}

// Height returns the height the controller decides.
func (c *Controller) Height() uint64 {
	return c.machine.Height()
}

// Status returns the latest published round status.
func (c *Controller) Status() RoundStatus {
	return *c.status.Load()
}

// Submit enqueues ev. It returns false when ev was dropped because it is for
// another height or the inbox is full.
func (c *Controller) Submit(ev Event) bool {
	name := "other"
	switch ev := ev.(type) {
	case VoteEvent:
		name = "vote"
		if ev.Vote.Height != c.Height() {
			return false
		}
	case ProposalEvent:
		name = "proposal"
		if ev.Proposal.Height != c.Height() {
			return false
		}
	}
	select {
	case c.inbox <- ev:
		return true
	default:
		metricInboxDropped().AddWithLabel(1, map[string]string{"event": name})
		return false
	}
}

// Halt stops round progression. The machine casts no further vote.
func (c *Controller) Halt(err error) {
	select {
	case c.halt <- err:
	default:
	}
}

// Run drives the height until it finalizes, halts or ctx is done.
func (c *Controller) Run(ctx context.Context) (*Finalize, error) {
	defer func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		close(c.quit)
	}()

	c.start = c.clock.Now()
	c.process(nil, c.machine.Start())

	for {
		if f := c.machine.Finalized(); f != nil {
			metricCommits().Add(1)
			metricHeightTime().Observe(time.Duration(c.clock.Now() - c.start).Milliseconds())
			logger.Debug("height finalized", "height", f.Height, "round", f.Round, "hash", f.BlockHash)
			return f, nil
		}
		if err := c.machine.Halted(); err != nil {
			return nil, core.NewError(core.FatalError, core.StorageFailure).
				WithMsg("height %d halted", c.Height()).
				WithCause(err)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "height %d", c.Height())
		case err := <-c.halt:
			c.process(HaltEvent{Err: err}, nil)
		case ev := <-c.tock:
			c.process(ev, nil)
		case ev := <-c.inbox:
			c.process(ev, nil)
		}
	}
}

// process handles ev, or performs initial when ev is nil, then handles every
// follow-up event produced by the performed actions.
func (c *Controller) process(ev Event, initial []Action) {
	var queue []Event
	perform := func(actions []Action) {
		for _, a := range actions {
			queue = append(queue, c.dispatch(a)...)
		}
	}

	if ev != nil {
		queue = append(queue, ev)
	} else {
		perform(initial)
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		actions, err := c.machine.Handle(next)
		if err != nil {
			metricRejected().AddWithLabel(1, map[string]string{"code": string(core.CodeOf(err))})
			if core.KindOf(err) == core.ConsensusFault {
				logger.Info("rejected faulty message", "height", c.Height(), "error", err)
			} else {
				logger.Trace("dropped message", "height", c.Height(), "error", err)
			}
			continue
		}
		perform(actions)
	}

	status := c.machine.Status()
	c.status.Store(&status)
}

func (c *Controller) dispatch(a Action) []Event {
	switch a := a.(type) {
	case ScheduleTimeout:
		c.schedule(a)
		if a.Phase == PhasePropose {
			metricRoundsStarted().Add(1)
		}
		return nil
	case RoundFailed:
		metricRoundsFailed().Add(1)
		logger.Debug("round failed", "height", a.Height, "round", a.Round, "proposer", a.Proposer, "proposed", a.Proposed)
	}
	return c.perform(a)
}

func (c *Controller) schedule(a ScheduleTimeout) {
	if c.timer != nil {
		c.timer.Stop()
	}
	ev := TimeoutEvent{Height: a.Height, Round: a.Round, Phase: a.Phase}
	c.timer = c.clock.AfterFunc(c.timeouts.Of(a.Phase, a.Round), func() {
		select {
		case c.tock <- ev:
		case <-c.quit:
		}
	})
}
