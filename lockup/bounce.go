package lockup

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/tlb"

	"github.com/toncenter/jetton-lockup/msgs"
)

// onBounce reverts the claim behind a transfer the jetton wallet rejected.
//
// The bounce echoes the transfer id and amount, which name exactly one
// pending claim. The wallet handles transfers in the order they were sent,
// so every claim sent before the bounced one is settled and leaves the table
// with it. A bounce that matches nothing is ignored: the claim was already
// reverted or settled, and a duplicate delivery must not credit the ledger twice.
func (l *Lockup) onBounce(msg *tlb.InternalMessage, now uint32) (*Result, error) {
	if !l.initialized || !sameAddress(msg.SrcAddr, l.wallet) {
		return &Result{}, nil
	}
	op, s, err := msgs.ParseBounced(msg.Body)
	if err != nil || op != msgs.OpJettonTransfer {
		return &Result{}, nil
	}
	bounced, err := msgs.ParseBouncedTransfer(s)
	if err != nil {
		return &Result{}, nil
	}

	idx := l.findPending(bounced.QueryID, bounced.Amount)
	if idx < 0 {
		return &Result{Events: []Event{{
			Kind:       EventBounceIgnored,
			TransferID: bounced.QueryID,
			Amount:     bounced.Amount,
			At:         now,
		}}}, nil
	}
	p := l.pending[idx]
	later := l.pending[idx+1:]

	// A later claim still in flight owns the last claim time and inherits
	// the reverted claim's prior time instead.
	lastClaim := l.ledger.LastClaim
	if len(later) == 0 {
		lastClaim = p.PriorLastClaim
	}
	if err := l.ledger.RevertClaim(p.Amount, lastClaim); err != nil {
		return nil, fmt.Errorf("revert transfer %d: %w", p.TransferID, err)
	}
	if len(later) > 0 {
		later[0].PriorLastClaim = p.PriorLastClaim
	}
	l.pending = clonePending(later)

	return &Result{Events: []Event{{
		Kind:       EventRolledBack,
		QueryID:    p.QueryID,
		TransferID: p.TransferID,
		Amount:     p.Amount,
		At:         now,
	}}}, nil
}

func (l *Lockup) findPending(transferID uint64, amount *big.Int) int {
	for i, p := range l.pending {
		if p.TransferID == transferID && p.Amount.Cmp(amount) == 0 {
			return i
		}
	}
	return -1
}
