package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/asset"
)

func checkAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return nil
}

// token resolves a registered token. The native id is never a token.
func (x *Exchange) token(addr common.Address) (asset.Token, error) {
	if addr == asset.NativeID {
		return nil, fmt.Errorf("%w: native coin is not a token", ErrInvalidAsset)
	}
	tok, err := x.tokens.Get(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}
	return tok, nil
}

// DepositEther moves amount of native coin from the caller's wallet into
// custody and credits it to the caller.
func (x *Exchange) DepositEther(caller common.Address, amount *uint256.Int) error {
	return x.exec("deposit_ether", func() error {
		if err := checkAmount(amount); err != nil {
			return err
		}
		x.acceptingNative = true
		err := x.bank.Send(caller, x.address, amount)
		x.acceptingNative = false
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}
		return x.credit(asset.NativeID, caller, amount)
	})
}

// DepositToken pulls amount of token from the caller using the allowance the
// caller granted the exchange, then credits it.
func (x *Exchange) DepositToken(caller, token common.Address, amount *uint256.Int) error {
	return x.exec("deposit_token", func() error {
		if err := checkAmount(amount); err != nil {
			return err
		}
		tok, err := x.token(token)
		if err != nil {
			return err
		}
		if err := tok.TransferFrom(x.address, caller, x.address, amount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}
		return x.credit(token, caller, amount)
	})
}

func (x *Exchange) credit(assetID, user common.Address, amount *uint256.Int) error {
	bal, err := x.ledger.Credit(assetID, user, amount)
	if err != nil {
		return err
	}
	x.log.Append(events.Deposit{Token: assetID, User: user, Amount: amount.Clone(), Balance: bal})
	return nil
}

// WithdrawEther releases native coin from the caller's ledger entry.
func (x *Exchange) WithdrawEther(caller common.Address, amount *uint256.Int) error {
	return x.Withdraw(caller, asset.NativeID, amount)
}

// WithdrawToken releases a token from the caller's ledger entry.
func (x *Exchange) WithdrawToken(caller, token common.Address, amount *uint256.Int) error {
	if token == asset.NativeID {
		return fmt.Errorf("%w: use WithdrawEther for the native coin", ErrInvalidAsset)
	}
	return x.Withdraw(caller, token, amount)
}

// Withdraw debits the caller's entry and then pays the asset out. The debit
// lands before the external call, so a recipient that re-enters sees the
// reduced balance.
func (x *Exchange) Withdraw(caller, assetID common.Address, amount *uint256.Int) error {
	return x.exec("withdraw", func() error {
		if err := checkAmount(amount); err != nil {
			return err
		}
		var tok asset.Token
		if assetID != asset.NativeID {
			var err error
			if tok, err = x.token(assetID); err != nil {
				return err
			}
		}

		if _, err := x.ledger.Debit(assetID, caller, amount); err != nil {
			return err
		}

		var err error
		if tok == nil {
			err = x.bank.Send(x.address, caller, amount)
		} else {
			err = tok.Transfer(x.address, caller, amount)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}

		x.log.Append(events.Withdraw{
			Token:   assetID,
			User:    caller,
			Amount:  amount.Clone(),
			Balance: x.ledger.BalanceOf(assetID, caller),
		})
		return nil
	})
}
