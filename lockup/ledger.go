package lockup

import (
	"fmt"
	"math/big"

	"github.com/toncenter/jetton-lockup/schedule"
)

// Ledger is the lockup's own view of the tokens it holds.
// Claimed + Remaining == Original whenever no claim is in flight or a
// claim has been finalized or rolled back.
type Ledger struct {
	Original  *big.Int
	Remaining *big.Int
	Claimed   *big.Int
	LastClaim uint32
}

func NewLedger(balance *big.Int) Ledger {
	return Ledger{
		Original:  new(big.Int).Set(balance),
		Remaining: new(big.Int).Set(balance),
		Claimed:   new(big.Int),
	}
}

// ClaimableNow is the unlocked amount not claimed yet, clamped to
// [0, Remaining].
func (l *Ledger) ClaimableNow(s schedule.Schedule, now uint32) *big.Int {
	res := s.UnlockedAt(l.Original, now)
	res.Sub(res, l.Claimed)
	if res.Sign() < 0 {
		return new(big.Int)
	}
	if res.Cmp(l.Remaining) > 0 {
		return res.Set(l.Remaining)
	}
	return res
}

func (l *Ledger) ApplyClaim(amount *big.Int, now uint32) error {
	if amount.Sign() < 0 || amount.Cmp(l.Remaining) > 0 {
		return fmt.Errorf("claim of %s exceeds remaining balance %s", amount, l.Remaining)
	}
	l.Remaining.Sub(l.Remaining, amount)
	l.Claimed.Add(l.Claimed, amount)
	l.LastClaim = now
	return nil
}

// RevertClaim undoes ApplyClaim and puts back the claim time that preceded it.
func (l *Ledger) RevertClaim(amount *big.Int, prior uint32) error {
	if amount.Sign() < 0 || amount.Cmp(l.Claimed) > 0 {
		return fmt.Errorf("revert of %s exceeds claimed total %s", amount, l.Claimed)
	}
	l.Remaining.Add(l.Remaining, amount)
	l.Claimed.Sub(l.Claimed, amount)
	l.LastClaim = prior
	return nil
}

func (l *Ledger) Balanced() bool {
	sum := new(big.Int).Add(l.Claimed, l.Remaining)
	return sum.Cmp(l.Original) == 0
}

func (l Ledger) clone() Ledger {
	return Ledger{
		Original:  new(big.Int).Set(l.Original),
		Remaining: new(big.Int).Set(l.Remaining),
		Claimed:   new(big.Int).Set(l.Claimed),
		LastClaim: l.LastClaim,
	}
}
