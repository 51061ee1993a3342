package asset

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeID is the asset identifier of the native coin in ledger keys.
var NativeID = common.Address{}

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrSendRejected          = errors.New("native send rejected by recipient")
)

// Token is a fungible token living outside the exchange. Any non-nil error
// is treated as a failed transfer.
type Token interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	Approve(owner, spender common.Address, amount *uint256.Int) error
	Allowance(owner, spender common.Address) *uint256.Int
	BalanceOf(owner common.Address) *uint256.Int
}

// Metadata is optionally implemented by tokens that describe themselves.
type Metadata interface {
	Name() string
	Symbol() string
	Decimals() uint8
}

// Holding is one owner's balance, used in snapshots.
type Holding struct {
	Owner  common.Address `json:"owner"`
	Amount *uint256.Int   `json:"amount"`
}

func holdings(m map[common.Address]*uint256.Int) []Holding {
	out := make([]Holding, 0, len(m))
	for owner, amt := range m {
		if amt.IsZero() {
			continue
		}
		out = append(out, Holding{Owner: owner, Amount: amt.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0 })
	return out
}

func readBalance(m map[common.Address]*uint256.Int, owner common.Address) *uint256.Int {
	if v, ok := m[owner]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func writeBalance(m map[common.Address]*uint256.Int, owner common.Address, v *uint256.Int) {
	if v.IsZero() {
		delete(m, owner)
		return
	}
	m[owner] = v.Clone()
}
