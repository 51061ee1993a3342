package settlement

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/ledger"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

// ErrInvalidFeePercent is returned by New for a percentage above 100.
var ErrInvalidFeePercent = errors.New("fee percent must be between 0 and 100")

// Engine moves balances between maker, taker and the fee account when an
// order is filled. The fee is charged on top of the buy leg and paid by the
// taker; the maker receives the full AmountBuy.
type Engine struct {
	feeAccount common.Address
	feePercent uint64
}

// New creates a settlement engine. Both parameters are fixed for its lifetime.
func New(feeAccount common.Address, feePercent uint64) (*Engine, error) {
	if feePercent > 100 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFeePercent, feePercent)
	}
	return &Engine{feeAccount: feeAccount, feePercent: feePercent}, nil
}

func (e *Engine) FeeAccount() common.Address { return e.feeAccount }
func (e *Engine) FeePercent() uint64         { return e.feePercent }

// Fee returns amountBuy * feePercent / 100, truncated toward zero.
func (e *Engine) Fee(amountBuy *uint256.Int) (*uint256.Int, error) {
	fee, overflow := new(uint256.Int).MulOverflow(amountBuy, uint256.NewInt(e.feePercent))
	if overflow {
		return nil, fmt.Errorf("%w: fee on %s", ledger.ErrBalanceOverflow, amountBuy.Dec())
	}
	return fee.Div(fee, uint256.NewInt(100)), nil
}

// Settle executes the two legs of a fill. Either every transfer is applied or
// none is; j must be the journal the ledger records into.
//
//	taker  tokenBuy  -(amountBuy + fee)
//	maker  tokenBuy  +amountBuy
//	fee    tokenBuy  +fee
//	maker  tokenSell -amountSell
//	taker  tokenSell +amountSell
func (e *Engine) Settle(j *state.Journal, l *ledger.Ledger, o *orderbook.Order, taker common.Address) error {
	fee, err := e.Fee(o.AmountBuy)
	if err != nil {
		return err
	}
	total, overflow := new(uint256.Int).AddOverflow(o.AmountBuy, fee)
	if overflow {
		return fmt.Errorf("%w: amountBuy plus fee", ledger.ErrBalanceOverflow)
	}

	snap := j.Snapshot()
	fail := func(err error) error {
		j.RevertToSnapshot(snap)
		return err
	}

	if _, err := l.Debit(o.TokenBuy, taker, total); err != nil {
		return fail(fmt.Errorf("taker buy leg: %w", err))
	}
	if _, err := l.Credit(o.TokenBuy, o.User, o.AmountBuy); err != nil {
		return fail(err)
	}
	if _, err := l.Credit(o.TokenBuy, e.feeAccount, fee); err != nil {
		return fail(err)
	}
	if err := l.Transfer(o.TokenSell, o.User, taker, o.AmountSell); err != nil {
		return fail(fmt.Errorf("maker sell leg: %w", err))
	}
	return nil
}
