package dex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/crypto"
)

var (
	ErrNonceTooLow   = errors.New("nonce too low")
	ErrUnknownAction = errors.New("unknown action")
)

// applyTx executes one raw transaction. A failing tx still produces a
// receipt; once its signature and nonce check out the nonce is consumed
// whether or not the exchange call succeeds.
func (a *App) applyTx(height int64, index int, raw []byte) transaction.Receipt {
	r := transaction.Receipt{
		TxHash: transaction.Hash(raw),
		Height: height,
		Index:  index,
	}
	fail := func(err error) transaction.Receipt {
		r.Error = err.Error()
		a.logger.Infow("tx_rejected",
			"height", height,
			"index", index,
			"tx", r.TxHash.Hex(),
			"action", r.Action,
			"from", r.From.Hex(),
			"err", err,
		)
		return r
	}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return fail(err)
	}
	r.Action = tx.Call.Action
	call, from, err := a.verifier.Verify(tx)
	if err != nil {
		return fail(err)
	}
	r.From = from

	if last := a.nonces[from]; call.Nonce <= last {
		return fail(fmt.Errorf("%w: got %d, last accepted %d", ErrNonceTooLow, call.Nonce, last))
	}
	a.nonces[from] = call.Nonce
	a.dirtyNonces[from] = true

	a.txEvents = nil
	orderID, err := a.dispatch(from, call)
	r.Events = a.txEvents
	a.txEvents = nil
	// Host-level calls (approve) journal outside any exchange frame.
	a.journal.Reset()

	r.OrderID = orderID
	if err != nil {
		return fail(err)
	}
	r.Success = true
	return r
}

func (a *App) dispatch(from common.Address, call *crypto.ExchangeCall) (uint64, error) {
	switch transaction.Action(call.Action) {
	case transaction.ActionApprove:
		token, err := a.tokens.Get(call.Token)
		if err != nil {
			return 0, err
		}
		return 0, token.Approve(from, call.Spender, call.Amount)
	case transaction.ActionDepositEther:
		return 0, a.ex.DepositEther(from, call.Amount)
	case transaction.ActionDepositToken:
		return 0, a.ex.DepositToken(from, call.Token, call.Amount)
	case transaction.ActionWithdrawEther:
		return 0, a.ex.WithdrawEther(from, call.Amount)
	case transaction.ActionWithdrawToken:
		return 0, a.ex.WithdrawToken(from, call.Token, call.Amount)
	case transaction.ActionMakeOrder:
		return a.ex.MakeOrder(from, call.TokenBuy, call.AmountBuy, call.TokenSell, call.AmountSell)
	case transaction.ActionCancelOrder:
		return call.OrderID, a.ex.CancelOrder(from, call.OrderID)
	case transaction.ActionFillOrder:
		return call.OrderID, a.ex.FillOrder(from, call.OrderID)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownAction, call.Action)
	}
}
