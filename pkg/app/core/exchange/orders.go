package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
)

// MakeOrder records an offer to give amountSell of tokenSell for amountBuy of
// tokenBuy. Balances are not checked until the order is filled.
func (x *Exchange) MakeOrder(caller, tokenBuy common.Address, amountBuy *uint256.Int, tokenSell common.Address, amountSell *uint256.Int) (uint64, error) {
	var id uint64
	err := x.exec("make_order", func() error {
		if err := checkAmount(amountBuy); err != nil {
			return fmt.Errorf("amountBuy: %w", err)
		}
		if err := checkAmount(amountSell); err != nil {
			return fmt.Errorf("amountSell: %w", err)
		}
		if tokenBuy == tokenSell {
			return fmt.Errorf("%w: tokenBuy and tokenSell are both %s", ErrInvalidAsset, tokenBuy.Hex())
		}

		o := x.book.Create(caller, tokenBuy, amountBuy, tokenSell, amountSell, x.now())
		x.log.Append(events.Order{
			ID:         o.ID,
			User:       o.User,
			TokenBuy:   o.TokenBuy,
			AmountBuy:  o.AmountBuy,
			TokenSell:  o.TokenSell,
			AmountSell: o.AmountSell,
			Timestamp:  o.Timestamp,
		})
		id = o.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CancelOrder withdraws an open order. Only its creator may cancel it.
func (x *Exchange) CancelOrder(caller common.Address, id uint64) error {
	return x.exec("cancel_order", func() error {
		o, ok := x.book.Get(id)
		if !ok {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		if o.User != caller {
			return fmt.Errorf("%w: order %d belongs to %s", ErrForbidden, id, o.User.Hex())
		}
		if err := x.book.MarkCanceled(id); err != nil {
			return fmt.Errorf("%w: %w", ErrAlreadySettled, err)
		}

		x.log.Append(events.CancelOrder{
			ID:         o.ID,
			User:       o.User,
			TokenBuy:   o.TokenBuy,
			AmountBuy:  o.AmountBuy,
			TokenSell:  o.TokenSell,
			AmountSell: o.AmountSell,
			Timestamp:  x.now(),
		})
		return nil
	})
}

// FillOrder takes the other side of an open order in full. The caller pays
// amountBuy plus the fee in tokenBuy and receives amountSell of tokenSell.
func (x *Exchange) FillOrder(caller common.Address, id uint64) error {
	return x.exec("fill_order", func() error {
		o, ok := x.book.Get(id)
		if !ok {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		if err := x.book.Check(id); err != nil {
			return fmt.Errorf("%w: %w", ErrAlreadySettled, err)
		}
		if o.User == caller {
			return fmt.Errorf("%w: cannot fill own order %d", ErrForbidden, id)
		}

		if err := x.settle.Settle(x.journal, x.ledger, o, caller); err != nil {
			return err
		}
		if err := x.book.MarkFilled(id); err != nil {
			return err
		}

		x.log.Append(events.Trade{
			ID:         o.ID,
			User:       o.User,
			TokenBuy:   o.TokenBuy,
			AmountBuy:  o.AmountBuy,
			TokenSell:  o.TokenSell,
			AmountSell: o.AmountSell,
			UserFill:   caller,
			Timestamp:  x.now(),
		})
		return nil
	})
}
