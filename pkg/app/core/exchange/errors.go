package exchange

import (
	"errors"

	"github.com/uhyunpark/dexledger/pkg/app/core/ledger"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
)

// Failure taxonomy. Every error returned by an Exchange operation matches at
// least one of these with errors.Is, and a failed operation leaves balances,
// orders and events exactly as they were.
var (
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrNotFound            = orderbook.ErrNotFound
	ErrAlreadyFilled       = orderbook.ErrAlreadyFilled
	ErrAlreadyCanceled     = orderbook.ErrAlreadyCanceled

	ErrTransferRejected = errors.New("asset transfer rejected")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadySettled   = errors.New("order already settled")
	ErrInvalidAsset     = errors.New("invalid asset")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrDirectTransfer   = errors.New("direct native transfers are not accepted")
	ErrCustodyViolation = errors.New("ledger exceeds custodied funds")
)
