package lockup

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/jetton-lockup/msgs"
)

// claim releases everything unlocked so far. The ledger is updated before the
// transfer is sent; onBounce reverts it if the wallet rejects the transfer.
//
// Checks run in a fixed order: sender, initialization, attached value, then
// the claimable amount. Underpaying fails with ErrInsufficientFee even when
// there is nothing to claim.
func (l *Lockup) claim(msg *tlb.InternalMessage, body *cell.Slice, now uint32) (*Result, error) {
	if !sameAddress(msg.SrcAddr, l.claimer) {
		return nil, ErrUnauthorized
	}
	queryID, err := msgs.LoadQueryID(body)
	if err != nil {
		return nil, fmt.Errorf("%w: query id: %v", ErrMalformedMessage, err)
	}
	if !l.initialized {
		return nil, ErrNotInitialized
	}

	value := msg.Amount.Nano()
	if value.Cmp(l.fees.MinClaimFee()) < 0 {
		return nil, ErrInsufficientFee
	}

	amount := l.ledger.ClaimableNow(l.schedule, now)
	if amount.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	// the seqno this message is about to get
	transferID := l.seqno + 1
	payload, err := msgs.Transfer(transferID, amount, l.claimer)
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}

	prior := l.ledger.LastClaim
	if err := l.ledger.ApplyClaim(amount, now); err != nil {
		return nil, err
	}
	l.pending = append(l.pending, PendingClaim{
		TransferID:     transferID,
		QueryID:        queryID,
		Amount:         new(big.Int).Set(amount),
		ClaimedAt:      now,
		PriorLastClaim: prior,
	})

	forward := new(big.Int).Sub(value, l.fees.ProcessingFee())
	if forward.Sign() < 0 {
		forward.SetInt64(0)
	}
	transfer := &tlb.InternalMessage{
		Bounce:    true,
		SrcAddr:   l.address,
		DstAddr:   l.wallet,
		Amount:    tlb.FromNanoTON(forward),
		Body:      payload,
		CreatedAt: now,
	}

	return &Result{
		Out: []*tlb.InternalMessage{transfer},
		Events: []Event{{
			Kind:       EventClaimed,
			QueryID:    queryID,
			TransferID: transferID,
			Amount:     new(big.Int).Set(amount),
			At:         now,
		}},
	}, nil
}
