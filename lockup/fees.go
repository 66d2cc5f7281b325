package lockup

import (
	"math/big"

	"github.com/xssnick/tonutils-go/tlb"

	"github.com/toncenter/jetton-lockup/msgs"
)

// FeeEstimator supplies the host-specific costs the lockup gates on. The
// values are opaque to the lockup.
type FeeEstimator interface {
	// ProcessingFee is what the lockup itself spends handling a claim.
	ProcessingFee() *big.Int
	// MinClaimFee covers the lockup and the whole transfer chain
	// (transfer, internal transfer, notification).
	MinClaimFee() *big.Int
	// InitStorageFee is the reserve kept to pay for storage.
	InitStorageFee() *big.Int
}

// StaticFees is a FeeEstimator with fixed prices.
type StaticFees struct {
	ClaimCompute  tlb.Coins
	TransferChain tlb.Coins
	InitStorage   tlb.Coins
}

// DefaultFees are prices observed for the reference jetton wallet on basechain.
var DefaultFees = StaticFees{
	ClaimCompute:  tlb.MustFromTON("0.01"),
	TransferChain: tlb.MustFromTON("0.05"),
	InitStorage:   tlb.MustFromTON("0.05"),
}

func (f StaticFees) ProcessingFee() *big.Int {
	return f.ClaimCompute.Nano()
}

func (f StaticFees) MinClaimFee() *big.Int {
	fee := new(big.Int).Add(f.ClaimCompute.Nano(), f.TransferChain.Nano())
	return fee.Add(fee, msgs.ForwardTONAmount.Nano())
}

func (f StaticFees) InitStorageFee() *big.Int {
	return f.InitStorage.Nano()
}
