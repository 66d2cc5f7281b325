// Package lockup implements a jetton lockup: an actor that holds tokens for a
// single claimer and transfers the unlocked part on request.
//
// A Lockup handles one inbound message per Receive call and never waits for
// the outcome of what it sends. Claims are committed to the ledger before the
// transfer leaves, and a bounced transfer is reverted from the table of
// pending claims. Callers must serialize Receive calls for the same lockup.
//
// Every transfer carries a transfer id as its query id: the seqno of the
// claim that sent it. The claimer's own query id is kept in the pending
// table and in events.
package lockup

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/jetton-lockup/msgs"
	"github.com/toncenter/jetton-lockup/schedule"
)

type EventKind string

const (
	EventInitialized   EventKind = "initialized"
	EventClaimed       EventKind = "claimed"
	EventRolledBack    EventKind = "rolled_back"
	EventBounceIgnored EventKind = "bounce_ignored"
)

// Event describes a state transition made while handling a message.
type Event struct {
	Kind       EventKind
	Seqno      uint64
	QueryID    uint64
	TransferID uint64
	Amount     *big.Int
	At         uint32
}

// Result is everything a handled message produced.
type Result struct {
	Out    []*tlb.InternalMessage
	Events []Event
}

// PendingClaim is a dispatched transfer whose outcome is not known yet.
// It leaves the table when it bounces or when a later transfer bounces.
type PendingClaim struct {
	TransferID     uint64
	QueryID        uint64
	Amount         *big.Int
	ClaimedAt      uint32
	PriorLastClaim uint32
}

type Lockup struct {
	address *address.Address
	admin   *address.Address
	claimer *address.Address
	fees    FeeEstimator

	initialized bool
	wallet      *address.Address
	schedule    schedule.Schedule
	ledger      Ledger
	pending     []PendingClaim
	seqno       uint64
}

// State is the persisted form of a Lockup.
type State struct {
	Address      *address.Address
	Admin        *address.Address
	Claimer      *address.Address
	Initialized  bool
	JettonWallet *address.Address
	Schedule     schedule.Schedule
	Ledger       Ledger
	Pending      []PendingClaim
	Seqno        uint64
}

// ConfigCell is the data a lockup is deployed with.
func ConfigCell(admin, claimer *address.Address) *cell.Cell {
	return cell.BeginCell().
		MustStoreAddr(admin).
		MustStoreAddr(claimer).
		EndCell()
}

// StateAddress derives the lockup address from its deploy data.
func StateAddress(admin, claimer *address.Address) *address.Address {
	return address.NewAddress(0, 0, ConfigCell(admin, claimer).Hash())
}

// Deploy creates an uninitialized lockup. It accepts nothing but the
// admin's Initialize message until that message succeeds.
func Deploy(admin, claimer *address.Address, fees FeeEstimator) *Lockup {
	return &Lockup{
		address: StateAddress(admin, claimer),
		admin:   admin,
		claimer: claimer,
		fees:    fees,
	}
}

// Restore rebuilds a lockup from persisted state.
func Restore(st State, fees FeeEstimator) (*Lockup, error) {
	if st.Admin == nil || st.Claimer == nil {
		return nil, errors.New("state has no admin or claimer")
	}
	l := Deploy(st.Admin, st.Claimer, fees)
	if st.Address != nil && !sameAddress(st.Address, l.address) {
		return nil, fmt.Errorf("state address %s does not match deploy data", st.Address)
	}
	l.seqno = st.Seqno
	if !st.Initialized {
		return l, nil
	}
	if st.JettonWallet == nil {
		return nil, errors.New("initialized state has no jetton wallet")
	}
	if st.Ledger.Original == nil || st.Ledger.Remaining == nil || st.Ledger.Claimed == nil {
		return nil, errors.New("initialized state has an incomplete ledger")
	}
	if !st.Ledger.Balanced() {
		return nil, fmt.Errorf("ledger is unbalanced: claimed %s + remaining %s != original %s",
			st.Ledger.Claimed, st.Ledger.Remaining, st.Ledger.Original)
	}
	s := st.Schedule
	if _, err := schedule.New(s.CliffEnd, s.Cliff, s.Period, s.Vesting); err != nil {
		return nil, fmt.Errorf("stored schedule: %w", err)
	}
	if schedule.UnlocksCount(s.Cliff, s.Vesting) != s.UnlocksCount {
		return nil, errors.New("stored unlocks count does not match the fractions")
	}
	l.initialized = true
	l.wallet = st.JettonWallet
	l.schedule = s
	l.ledger = st.Ledger.clone()
	l.pending = clonePending(st.Pending)
	return l, nil
}

// State returns a deep copy of the lockup state.
func (l *Lockup) State() State {
	st := State{
		Address:      l.address,
		Admin:        l.admin,
		Claimer:      l.claimer,
		Initialized:  l.initialized,
		JettonWallet: l.wallet,
		Schedule:     l.schedule,
		Seqno:        l.seqno,
	}
	if l.initialized {
		st.Ledger = l.ledger.clone()
		st.Pending = clonePending(l.pending)
	}
	return st
}

func (l *Lockup) Address() *address.Address {
	return l.address
}

// Receive handles one inbound message at time now. An ExitError means the
// message was rejected with no state change and no outbound messages.
func (l *Lockup) Receive(msg *tlb.InternalMessage, now uint32) (*Result, error) {
	if msg == nil {
		return nil, ErrMalformedMessage
	}

	var (
		res *Result
		err error
	)
	if msg.Bounced {
		res, err = l.onBounce(msg, now)
	} else {
		res, err = l.dispatch(msg, now)
	}
	if err != nil {
		return nil, err
	}

	l.seqno++
	for i := range res.Events {
		res.Events[i].Seqno = l.seqno
	}
	return res, nil
}

func (l *Lockup) dispatch(msg *tlb.InternalMessage, now uint32) (*Result, error) {
	op, body, err := msgs.ReadOp(msg.Body)
	if errors.Is(err, msgs.ErrEmptyBody) {
		// plain top-up
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !msgs.Inbound.Contains(op) {
		return nil, ErrUnknownOp
	}

	switch op {
	case msgs.OpInitialize:
		return l.initialize(msg, body, now)
	case msgs.OpClaimTokens:
		return l.claim(msg, body, now)
	case msgs.OpExcesses:
		// incoming ton
		return &Result{}, nil
	}
	return nil, ErrUnknownOp
}

func sameAddress(a, b *address.Address) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}

func clonePending(src []PendingClaim) []PendingClaim {
	if len(src) == 0 {
		return nil
	}
	res := make([]PendingClaim, len(src))
	for i, p := range src {
		res[i] = p
		res[i].Amount = new(big.Int).Set(p.Amount)
	}
	return res
}
