// Package schedule evaluates cliff-plus-linear vesting schedules.
//
// Everything here is a pure function of the stored parameters and the
// original balance: there are no counters to advance, so a schedule can be
// re-evaluated for any timestamp at any point in the lockup's life.
package schedule

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrInvalidCliff   = errors.New("cliff fraction must be in (0, 1]")
	ErrInvalidVesting = errors.New("vesting fraction must be in (0, 1]")
	ErrZeroPeriod     = errors.New("vesting period must be positive when tranches remain after the cliff")
)

// Schedule is the immutable vesting configuration of a lockup.
type Schedule struct {
	CliffEnd     uint32
	Cliff        Fraction
	Period       uint32
	Vesting      Fraction
	UnlocksCount uint16
}

// Unlock is a single point on the unlock timeline.
type Unlock struct {
	At       uint64
	Amount   *big.Int
	Unlocked *big.Int
}

// New validates the fractions and derives the number of post-cliff tranches.
func New(cliffEnd uint32, cliff Fraction, period uint32, vesting Fraction) (Schedule, error) {
	if !cliff.Valid() {
		return Schedule{}, ErrInvalidCliff
	}
	if !vesting.Valid() {
		return Schedule{}, ErrInvalidVesting
	}
	count := UnlocksCount(cliff, vesting)
	if count > 0 && period == 0 {
		return Schedule{}, ErrZeroPeriod
	}
	return Schedule{
		CliffEnd:     cliffEnd,
		Cliff:        cliff,
		Period:       period,
		Vesting:      vesting,
		UnlocksCount: count,
	}, nil
}

// UnlocksCount returns ceil((1 - cliff) / vesting) using exact integer math:
// ceil((cd - cn) * vd / (cd * vn)). Both fractions must be valid.
func UnlocksCount(cliff, vesting Fraction) uint16 {
	num := uint64(cliff.Denominator-cliff.Numerator) * uint64(vesting.Denominator)
	den := uint64(cliff.Denominator) * uint64(vesting.Numerator)
	if den == 0 {
		return 0
	}
	return uint16((num + den - 1) / den)
}

// CliffAmount is the share of balance released at CliffEnd.
func (s Schedule) CliffAmount(balance *big.Int) *big.Int {
	return s.Cliff.Of(balance)
}

// TrancheAmount is the nominal share released every Period after the cliff.
// The last tranche releases whatever remains instead.
func (s Schedule) TrancheAmount(balance *big.Int) *big.Int {
	return s.Vesting.Of(balance)
}

// End is the timestamp from which the whole balance is unlocked.
func (s Schedule) End() uint64 {
	return uint64(s.CliffEnd) + uint64(s.UnlocksCount)*uint64(s.Period)
}

// UnlockedAt returns the cumulative amount of balance unlocked at now.
func (s Schedule) UnlockedAt(balance *big.Int, now uint32) *big.Int {
	if now < s.CliffEnd {
		return new(big.Int)
	}
	if s.UnlocksCount == 0 {
		return new(big.Int).Set(balance)
	}
	cliffAmount := s.CliffAmount(balance)
	since := uint64(now - s.CliffEnd)
	if since < uint64(s.Period) {
		return cliffAmount
	}
	elapsed := since / uint64(s.Period)
	if elapsed >= uint64(s.UnlocksCount) {
		return new(big.Int).Set(balance)
	}
	vested := new(big.Int).Mul(s.TrancheAmount(balance), new(big.Int).SetUint64(elapsed))
	return vested.Add(vested, cliffAmount)
}

// Timeline lists the cliff and every tranche with the amount each releases.
// Points past the 32-bit time range are omitted.
func (s Schedule) Timeline(balance *big.Int) []Unlock {
	res := make([]Unlock, 0, int(s.UnlocksCount)+1)
	prev := new(big.Int)
	at := uint64(s.CliffEnd)
	for i := 0; i <= int(s.UnlocksCount) && at <= math.MaxUint32; i++ {
		unlocked := s.UnlockedAt(balance, uint32(at))
		res = append(res, Unlock{
			At:       at,
			Amount:   new(big.Int).Sub(unlocked, prev),
			Unlocked: unlocked,
		})
		prev = unlocked
		at += uint64(s.Period)
	}
	return res
}
