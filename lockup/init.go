package lockup

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/jetton-lockup/msgs"
	"github.com/toncenter/jetton-lockup/schedule"
)

// initialize stores the balance and schedule sent by the admin and activates
// the lockup. The lockup keeps InitStorageFee of the attached value and
// returns the rest to the admin.
func (l *Lockup) initialize(msg *tlb.InternalMessage, body *cell.Slice, now uint32) (*Result, error) {
	if !sameAddress(msg.SrcAddr, l.admin) {
		return nil, ErrUnauthorized
	}
	if l.initialized {
		return nil, ErrAlreadyInitialized
	}
	m, err := msgs.ParseInitialize(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	value := msg.Amount.Nano()
	storage := l.fees.InitStorageFee()
	if value.Cmp(storage) < 0 {
		return nil, ErrInsufficientFee
	}

	if m.Balance.Sign() <= 0 || m.Balance.Cmp(msgs.MaxCoins) > 0 {
		return nil, fmt.Errorf("%w: balance %s", ErrInvalidSchedule, m.Balance)
	}
	if m.JettonWallet == nil || len(m.JettonWallet.Data()) != 32 {
		return nil, fmt.Errorf("%w: jetton wallet must be a standard address", ErrInvalidSchedule)
	}
	s, err := schedule.New(
		m.CliffEndDate,
		schedule.Fraction{Numerator: m.CliffNumerator, Denominator: m.CliffDenominator},
		m.VestingPeriod,
		schedule.Fraction{Numerator: m.VestingNumerator, Denominator: m.VestingDenominator},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	l.initialized = true
	l.wallet = m.JettonWallet
	l.schedule = s
	l.ledger = NewLedger(m.Balance)

	res := &Result{Events: []Event{{
		Kind:   EventInitialized,
		Amount: new(big.Int).Set(m.Balance),
		At:     now,
	}}}
	if excess := new(big.Int).Sub(value, storage); excess.Sign() > 0 {
		res.Out = append(res.Out, &tlb.InternalMessage{
			SrcAddr:   l.address,
			DstAddr:   l.admin,
			Amount:    tlb.FromNanoTON(excess),
			Body:      msgs.Excesses{}.ToCell(),
			CreatedAt: now,
		})
	}
	return res, nil
}
