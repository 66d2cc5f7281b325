// Package msgs builds and parses the internal message bodies exchanged by the
// lockup, its admin and claimer, and the lockup's jetton wallet.
package msgs

import (
	"errors"
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	OpInitialize     uint32 = 0x3a86f1a0
	OpClaimTokens    uint32 = 0x913e42af
	OpJettonTransfer uint32 = 0x0f8a7ea5
	OpExcesses       uint32 = 0xd53276db

	BouncePrefix uint32 = 0xffffffff
)

// ForwardTONAmount is attached to every claim transfer so the claimer
// receives a transfer notification.
var ForwardTONAmount = tlb.FromNanoTONU(1)

// MaxCoins is the largest amount representable by VarUInteger 16.
var MaxCoins = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 120), big.NewInt(1))

var ErrEmptyBody = errors.New("message body has no op")

// Inbound is the set of ops the lockup accepts in non-bounced messages.
var Inbound = mapset.NewSet(OpInitialize, OpClaimTokens, OpExcesses)

// Initialize carries the balance and schedule sent by the admin once.
type Initialize struct {
	Balance            *big.Int
	JettonWallet       *address.Address
	CliffEndDate       uint32
	CliffNumerator     uint16
	CliffDenominator   uint16
	VestingPeriod      uint32
	VestingNumerator   uint16
	VestingDenominator uint16
}

func (m Initialize) ToCell() (*cell.Cell, error) {
	if m.Balance == nil || m.Balance.Sign() < 0 || m.Balance.Cmp(MaxCoins) > 0 {
		return nil, fmt.Errorf("balance %v out of coins range", m.Balance)
	}
	return cell.BeginCell().
		MustStoreUInt(uint64(OpInitialize), 32).
		MustStoreBigCoins(m.Balance).
		MustStoreAddr(m.JettonWallet).
		MustStoreUInt(uint64(m.CliffEndDate), 32).
		MustStoreUInt(uint64(m.CliffNumerator), 16).
		MustStoreUInt(uint64(m.CliffDenominator), 16).
		MustStoreUInt(uint64(m.VestingPeriod), 32).
		MustStoreUInt(uint64(m.VestingNumerator), 16).
		MustStoreUInt(uint64(m.VestingDenominator), 16).
		EndCell(), nil
}

// ParseInitialize reads the fields following the op.
func ParseInitialize(s *cell.Slice) (Initialize, error) {
	var m Initialize
	var err error
	if m.Balance, err = s.LoadBigCoins(); err != nil {
		return m, fmt.Errorf("balance: %w", err)
	}
	if m.JettonWallet, err = s.LoadAddr(); err != nil {
		return m, fmt.Errorf("jetton wallet: %w", err)
	}
	if m.CliffEndDate, err = loadUint32(s); err != nil {
		return m, fmt.Errorf("cliff end date: %w", err)
	}
	if m.CliffNumerator, err = loadUint16(s); err != nil {
		return m, fmt.Errorf("cliff numerator: %w", err)
	}
	if m.CliffDenominator, err = loadUint16(s); err != nil {
		return m, fmt.Errorf("cliff denominator: %w", err)
	}
	if m.VestingPeriod, err = loadUint32(s); err != nil {
		return m, fmt.Errorf("vesting period: %w", err)
	}
	if m.VestingNumerator, err = loadUint16(s); err != nil {
		return m, fmt.Errorf("vesting numerator: %w", err)
	}
	if m.VestingDenominator, err = loadUint16(s); err != nil {
		return m, fmt.Errorf("vesting denominator: %w", err)
	}
	return m, nil
}

// ClaimTokens asks the lockup to release everything unlocked so far.
type ClaimTokens struct {
	QueryID uint64
}

func (m ClaimTokens) ToCell() *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpClaimTokens), 32).
		MustStoreUInt(m.QueryID, 64).
		EndCell()
}

// Excesses is returned by a jetton wallet to the response destination.
type Excesses struct {
	QueryID uint64
}

func (m Excesses) ToCell() *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(OpExcesses), 32).
		MustStoreUInt(m.QueryID, 64).
		EndCell()
}

// LoadQueryID reads the uint64 query id following an op.
func LoadQueryID(s *cell.Slice) (uint64, error) {
	return s.LoadUInt(64)
}

// Transfer builds the jetton transfer body sent to the lockup's wallet. Both
// the destination and the response destination are the claimer.
func Transfer(queryID uint64, amount *big.Int, claimer *address.Address) (*cell.Cell, error) {
	coins, err := tlb.FromNano(amount, 0)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	return tlb.ToCell(jetton.TransferPayload{
		QueryID:             queryID,
		Amount:              coins,
		Destination:         claimer,
		ResponseDestination: claimer,
		ForwardTONAmount:    ForwardTONAmount,
		ForwardPayload:      cell.BeginCell().EndCell(),
	})
}

// BouncedTransfer is what survives of a transfer body after a bounce: the
// op, the query id and the amount all fit in the first 256 bits.
type BouncedTransfer struct {
	QueryID uint64
	Amount  *big.Int
}

// ParseBounced reads a bounced body and returns the original op and the
// slice positioned after it.
func ParseBounced(body *cell.Cell) (uint32, *cell.Slice, error) {
	if body == nil {
		return 0, nil, ErrEmptyBody
	}
	s := body.BeginParse()
	prefix, err := s.LoadUInt(32)
	if err != nil {
		return 0, nil, err
	}
	if uint32(prefix) != BouncePrefix {
		return 0, nil, fmt.Errorf("unexpected bounce prefix %08x", prefix)
	}
	op, err := s.LoadUInt(32)
	if err != nil {
		return 0, nil, err
	}
	return uint32(op), s, nil
}

// ParseBouncedTransfer reads query id and amount of a bounced jetton transfer.
func ParseBouncedTransfer(s *cell.Slice) (BouncedTransfer, error) {
	var m BouncedTransfer
	var err error
	if m.QueryID, err = s.LoadUInt(64); err != nil {
		return m, err
	}
	if m.Amount, err = s.LoadBigCoins(); err != nil {
		return m, err
	}
	return m, nil
}

// Bounce renders body the way the host returns it to its sender: the bounce
// prefix followed by at most 256 bits of the original body, without refs.
func Bounce(body *cell.Cell) *cell.Cell {
	s := body.BeginParse()
	n := s.BitsLeft()
	if n > 256 {
		n = 256
	}
	data := s.MustLoadSlice(n)
	return cell.BeginCell().
		MustStoreUInt(uint64(BouncePrefix), 32).
		MustStoreSlice(data, n).
		EndCell()
}

// ReadOp returns the op of a non-bounced body. Bodies without 32 bits of
// data are plain top-ups and yield ErrEmptyBody.
func ReadOp(body *cell.Cell) (uint32, *cell.Slice, error) {
	if body == nil {
		return 0, nil, ErrEmptyBody
	}
	s := body.BeginParse()
	if s.BitsLeft() < 32 {
		return 0, nil, ErrEmptyBody
	}
	op, err := s.LoadUInt(32)
	if err != nil {
		return 0, nil, err
	}
	return uint32(op), s, nil
}

func loadUint32(s *cell.Slice) (uint32, error) {
	v, err := s.LoadUInt(32)
	return uint32(v), err
}

func loadUint16(s *cell.Slice) (uint16, error) {
	v, err := s.LoadUInt(16)
	return uint16(v), err
}
