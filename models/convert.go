package models

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/jetton-lockup/lockup"
	"github.com/toncenter/jetton-lockup/schedule"
)

// ParseAddress accepts both user-friendly and raw (wc:hex) forms and
// returns the canonical address.
func ParseAddress(s string) (*address.Address, error) {
	addr, err := address.ParseAddr(s)
	if err != nil {
		if addr, err = address.ParseRawAddr(s); err != nil {
			return nil, fmt.Errorf("invalid address %q", s)
		}
	}
	return Canonical(addr), nil
}

// Canonical drops the user-friendly flags, so the same account always
// prints the same way.
func Canonical(a *address.Address) *address.Address {
	if a == nil || a.Type() != address.StdAddress {
		return a
	}
	return address.NewAddress(0, byte(a.Workchain()), a.Data())
}

func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func addrString(a *address.Address) string {
	if a == nil {
		return ""
	}
	return Canonical(a).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func FromState(st lockup.State) LockupState {
	m := LockupState{
		Address:     addrString(st.Address),
		Admin:       addrString(st.Admin),
		Claimer:     addrString(st.Claimer),
		Initialized: st.Initialized,
		Seqno:       st.Seqno,
	}
	if !st.Initialized {
		return m
	}
	m.JettonWallet = addrString(st.JettonWallet)
	m.CliffEndDate = st.Schedule.CliffEnd
	m.CliffNumerator = st.Schedule.Cliff.Numerator
	m.CliffDenominator = st.Schedule.Cliff.Denominator
	m.VestingPeriod = st.Schedule.Period
	m.VestingNumerator = st.Schedule.Vesting.Numerator
	m.VestingDenominator = st.Schedule.Vesting.Denominator
	m.UnlocksCount = st.Schedule.UnlocksCount
	m.OriginalBalance = amountString(st.Ledger.Original)
	m.TokenBalance = amountString(st.Ledger.Remaining)
	m.TokenClaimed = amountString(st.Ledger.Claimed)
	m.LastClaimed = st.Ledger.LastClaim
	for _, p := range st.Pending {
		m.Pending = append(m.Pending, PendingClaim{
			TransferID:     p.TransferID,
			QueryID:        p.QueryID,
			Amount:         amountString(p.Amount),
			ClaimedAt:      p.ClaimedAt,
			PriorLastClaim: p.PriorLastClaim,
		})
	}
	return m
}

func (m LockupState) ToState() (lockup.State, error) {
	var st lockup.State
	var err error
	if st.Address, err = ParseAddress(m.Address); err != nil {
		return st, err
	}
	if st.Admin, err = ParseAddress(m.Admin); err != nil {
		return st, err
	}
	if st.Claimer, err = ParseAddress(m.Claimer); err != nil {
		return st, err
	}
	st.Initialized = m.Initialized
	st.Seqno = m.Seqno
	if !m.Initialized {
		return st, nil
	}
	if st.JettonWallet, err = ParseAddress(m.JettonWallet); err != nil {
		return st, err
	}
	st.Schedule = schedule.Schedule{
		CliffEnd:     m.CliffEndDate,
		Cliff:        schedule.Fraction{Numerator: m.CliffNumerator, Denominator: m.CliffDenominator},
		Period:       m.VestingPeriod,
		Vesting:      schedule.Fraction{Numerator: m.VestingNumerator, Denominator: m.VestingDenominator},
		UnlocksCount: m.UnlocksCount,
	}
	if st.Ledger.Original, err = ParseAmount(m.OriginalBalance); err != nil {
		return st, err
	}
	if st.Ledger.Remaining, err = ParseAmount(m.TokenBalance); err != nil {
		return st, err
	}
	if st.Ledger.Claimed, err = ParseAmount(m.TokenClaimed); err != nil {
		return st, err
	}
	st.Ledger.LastClaim = m.LastClaimed
	for _, p := range m.Pending {
		amount, err := ParseAmount(p.Amount)
		if err != nil {
			return st, err
		}
		st.Pending = append(st.Pending, lockup.PendingClaim{
			TransferID:     p.TransferID,
			QueryID:        p.QueryID,
			Amount:         amount,
			ClaimedAt:      p.ClaimedAt,
			PriorLastClaim: p.PriorLastClaim,
		})
	}
	return st, nil
}

func FromLockupData(d lockup.LockupData) LockupData {
	return LockupData{
		Init:           d.Init,
		AdminAddress:   addrString(d.Admin),
		ClaimerAddress: addrString(d.Claimer),
		TokenBalance:   amountString(d.TokenBalance),
		TokenClaimed:   amountString(d.TokenClaimed),
		LastClaimed:    d.LastClaimed,
	}
}

func FromVestingData(d lockup.VestingData) VestingData {
	return VestingData{
		JettonWalletAddress: addrString(d.JettonWallet),
		CliffEndDate:        d.CliffEndDate,
		CliffNumerator:      d.CliffNumerator,
		CliffDenominator:    d.CliffDenominator,
		VestingPeriod:       d.VestingPeriod,
		VestingNumerator:    d.VestingNumerator,
		VestingDenominator:  d.VestingDenominator,
		CliffUnlockAmount:   amountString(d.CliffUnlockAmount),
		VestingUnlockAmount: amountString(d.VestingUnlockAmount),
		UnlocksCount:        d.UnlocksCount,
	}
}

func FromTimeline(unlocks []schedule.Unlock) []Unlock {
	res := make([]Unlock, 0, len(unlocks))
	for _, u := range unlocks {
		res = append(res, Unlock{At: u.At, Amount: amountString(u.Amount), Unlocked: amountString(u.Unlocked)})
	}
	return res
}

func FromEvent(lockupAddr string, ev lockup.Event) ClaimRecord {
	return ClaimRecord{
		Lockup:     lockupAddr,
		Seqno:      ev.Seqno,
		Kind:       string(ev.Kind),
		QueryID:    ev.QueryID,
		TransferID: ev.TransferID,
		Amount:     amountString(ev.Amount),
		At:         ev.At,
	}
}

// ToInternalMessage decodes a message delivered to dst at time now. A whole
// message must be addressed to dst and must not be created after now.
func (r MessageRequest) ToInternalMessage(dst *address.Address, now uint32) (*tlb.InternalMessage, error) {
	if r.Boc != "" {
		c, err := decodeBOC(r.Boc)
		if err != nil {
			return nil, fmt.Errorf("boc: %w", err)
		}
		var msg tlb.InternalMessage
		if err := tlb.LoadFromCell(&msg, c.BeginParse()); err != nil {
			return nil, fmt.Errorf("boc: %w", err)
		}
		if msg.DstAddr == nil || msg.DstAddr.Type() != address.StdAddress ||
			msg.DstAddr.Workchain() != dst.Workchain() || !bytes.Equal(msg.DstAddr.Data(), dst.Data()) {
			return nil, fmt.Errorf("boc: message is addressed to %s, not %s", addrString(msg.DstAddr), addrString(dst))
		}
		if msg.CreatedAt > now {
			return nil, fmt.Errorf("boc: message created at %d, after %d", msg.CreatedAt, now)
		}
		return &msg, nil
	}

	src, err := ParseAddress(r.Source)
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if r.Value != "" {
		if value, err = ParseAmount(r.Value); err != nil {
			return nil, err
		}
	}
	msg := &tlb.InternalMessage{
		Bounced:   r.Bounced,
		SrcAddr:   src,
		DstAddr:   dst,
		Amount:    tlb.FromNanoTON(value),
		CreatedAt: now,
	}
	if r.Body != "" {
		if msg.Body, err = decodeBOC(r.Body); err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
	}
	return msg, nil
}

func decodeBOC(s string) (*cell.Cell, error) {
	boc, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return cell.FromBOC(boc)
}

func EncodeBOC(c *cell.Cell) string {
	return base64.StdEncoding.EncodeToString(c.ToBOC())
}

func FromResult(res *lockup.Result) MessageResponse {
	resp := MessageResponse{Out: []OutMessage{}, Events: []Event{}}
	for _, out := range res.Out {
		m := OutMessage{
			Destination: addrString(out.DstAddr),
			Value:       amountString(out.Amount.Nano()),
			Bounce:      out.Bounce,
		}
		if out.Body != nil {
			m.Body = EncodeBOC(out.Body)
		}
		resp.Out = append(resp.Out, m)
	}
	for _, ev := range res.Events {
		resp.Events = append(resp.Events, Event{
			Kind:       string(ev.Kind),
			Seqno:      ev.Seqno,
			QueryID:    ev.QueryID,
			TransferID: ev.TransferID,
			Amount:     amountString(ev.Amount),
			At:         ev.At,
		})
	}
	return resp
}
