package lockup

import (
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/toncenter/jetton-lockup/schedule"
)

// Get-method names, as exposed by the deployed contract.
const (
	GetLockupData      = "get_lockup_data"
	GetVestingData     = "get_vesting_data"
	GetClaimableTokens = "get_claimable_tokens"
	GetMinFee          = "get_min_fee"
	GetInitStorageFee  = "get_init_storage_fee"
)

var getMethods = map[uint64]string{
	uint64(tlb.MethodNameHash(GetLockupData)):      GetLockupData,
	uint64(tlb.MethodNameHash(GetVestingData)):     GetVestingData,
	uint64(tlb.MethodNameHash(GetClaimableTokens)): GetClaimableTokens,
	uint64(tlb.MethodNameHash(GetMinFee)):          GetMinFee,
	uint64(tlb.MethodNameHash(GetInitStorageFee)):  GetInitStorageFee,
}

// MethodID is the numeric id of a get-method name.
func MethodID(name string) uint64 {
	return uint64(tlb.MethodNameHash(name))
}

// MethodName resolves a get-method id.
func MethodName(id uint64) (string, bool) {
	name, ok := getMethods[id]
	return name, ok
}

type LockupData struct {
	Init         bool
	Admin        *address.Address
	Claimer      *address.Address
	TokenBalance *big.Int
	TokenClaimed *big.Int
	LastClaimed  uint32
}

type VestingData struct {
	JettonWallet        *address.Address
	CliffEndDate        uint32
	CliffNumerator      uint16
	CliffDenominator    uint16
	VestingPeriod       uint32
	VestingNumerator    uint16
	VestingDenominator  uint16
	CliffUnlockAmount   *big.Int
	VestingUnlockAmount *big.Int
	UnlocksCount        uint16
}

func (l *Lockup) LockupData() LockupData {
	d := LockupData{
		Init:         l.initialized,
		Admin:        l.admin,
		Claimer:      l.claimer,
		TokenBalance: new(big.Int),
		TokenClaimed: new(big.Int),
	}
	if l.initialized {
		d.TokenBalance.Set(l.ledger.Remaining)
		d.TokenClaimed.Set(l.ledger.Claimed)
		d.LastClaimed = l.ledger.LastClaim
	}
	return d
}

func (l *Lockup) VestingData() (VestingData, error) {
	if !l.initialized {
		return VestingData{}, ErrNotInitialized
	}
	s := l.schedule
	return VestingData{
		JettonWallet:        l.wallet,
		CliffEndDate:        s.CliffEnd,
		CliffNumerator:      s.Cliff.Numerator,
		CliffDenominator:    s.Cliff.Denominator,
		VestingPeriod:       s.Period,
		VestingNumerator:    s.Vesting.Numerator,
		VestingDenominator:  s.Vesting.Denominator,
		CliffUnlockAmount:   s.CliffAmount(l.ledger.Original),
		VestingUnlockAmount: s.TrancheAmount(l.ledger.Original),
		UnlocksCount:        s.UnlocksCount,
	}, nil
}

// ClaimableTokens is what a claim at now would transfer.
func (l *Lockup) ClaimableTokens(now uint32) *big.Int {
	if !l.initialized {
		return new(big.Int)
	}
	return l.ledger.ClaimableNow(l.schedule, now)
}

func (l *Lockup) MinFee() *big.Int {
	return l.fees.MinClaimFee()
}

func (l *Lockup) InitStorageFee() *big.Int {
	return l.fees.InitStorageFee()
}

// Timeline lists the unlocks of the schedule for the original balance.
func (l *Lockup) Timeline() ([]schedule.Unlock, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}
	return l.schedule.Timeline(l.ledger.Original), nil
}

func (l *Lockup) Pending() []PendingClaim {
	return clonePending(l.pending)
}

// RunGetMethod evaluates a get-method by id the way the contract would.
func (l *Lockup) RunGetMethod(id uint64, now uint32) (any, error) {
	name, ok := MethodName(id)
	if !ok {
		return nil, ErrUnknownOp
	}
	switch name {
	case GetLockupData:
		return l.LockupData(), nil
	case GetVestingData:
		return l.VestingData()
	case GetClaimableTokens:
		return l.ClaimableTokens(now), nil
	case GetMinFee:
		return l.MinFee(), nil
	case GetInitStorageFee:
		return l.InitStorageFee(), nil
	}
	return nil, ErrUnknownOp
}
