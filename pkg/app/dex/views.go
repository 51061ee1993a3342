package dex

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/app/core/exchange"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/asset"
	"github.com/uhyunpark/dexledger/pkg/crypto"
)

type Info struct {
	Address    common.Address
	FeeAccount common.Address
	FeePercent uint64
	OrderCount uint64
	EventCount uint64
	Height     int64
	AppHash    common.Hash
	ChainID    int64
	Pending    int
}

type TokenInfo struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
	Custody     *uint256.Int // held by the exchange address
}

func (a *App) Info() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Info{
		Address:    a.ex.Address(),
		FeeAccount: a.ex.FeeAccount(),
		FeePercent: a.ex.FeePercent(),
		OrderCount: a.ex.OrderCount(),
		EventCount: a.ex.EventCount(),
		Height:     a.height,
		AppHash:    a.appHash,
		ChainID:    a.domain.ChainID.Int64(),
		Pending:    a.mempool.Len(),
	}
}

// Domain is the EIP-712 domain transactions must be signed under.
func (a *App) Domain() crypto.EIP712Domain { return a.domain }

func (a *App) Height() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

// BlockTime is the timestamp of the last committed block (unix seconds).
func (a *App) BlockTime() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.blockTime
}

func (a *App) AppHash() common.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appHash
}

func (a *App) Tokens() []TokenInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]TokenInfo, 0, a.tokens.Count())
	for _, addr := range a.tokens.Addresses() {
		t, ok := a.erc20s[addr]
		if !ok {
			continue
		}
		out = append(out, TokenInfo{
			Address:     addr,
			Name:        t.Name(),
			Symbol:      t.Symbol(),
			Decimals:    t.Decimals(),
			TotalSupply: t.TotalSupply(),
			Custody:     t.BalanceOf(a.ex.Address()),
		})
	}
	return out
}

// Decimals returns the display precision of an asset: 18 for the native
// coin and unknown tokens.
func (a *App) Decimals(assetID common.Address) uint8 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if t, ok := a.erc20s[assetID]; ok {
		return t.Decimals()
	}
	return 18
}

// BalanceOf is the exchange ledger balance.
func (a *App) BalanceOf(assetID, owner common.Address) *uint256.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ex.BalanceOf(assetID, owner)
}

// WalletBalance is the host-level balance outside the exchange.
func (a *App) WalletBalance(assetID, owner common.Address) (*uint256.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if assetID == asset.NativeID {
		return a.bank.BalanceOf(owner), nil
	}
	t, err := a.tokens.Get(assetID)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(owner), nil
}

func (a *App) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, err := a.tokens.Get(token)
	if err != nil {
		return nil, err
	}
	return t.Allowance(owner, spender), nil
}

func (a *App) Order(id uint64) (orderbook.Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.ex.Order(id)
	if !ok {
		return orderbook.Record{}, false
	}
	status := orderbook.Open
	switch {
	case a.ex.FilledOrders(id):
		status = orderbook.Filled
	case a.ex.CanceledOrders(id):
		status = orderbook.Canceled
	}
	return orderbook.Record{Order: o, Status: status}, true
}

// Events returns up to limit events with sequence greater than since.
// limit <= 0 means no limit.
func (a *App) Events(since uint64, limit int) []events.Envelope {
	a.mu.RLock()
	defer a.mu.RUnlock()
	evts := a.ex.Events(since)
	if limit > 0 && len(evts) > limit {
		evts = evts[:limit]
	}
	return evts
}

// Receipt returns nil when the hash is unknown.
func (a *App) Receipt(h common.Hash) (*transaction.Receipt, error) {
	if a.store != nil {
		return a.store.GetReceipt(h)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.receipts[h]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (a *App) Audit() ([]exchange.Custody, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ex.Audit()
}

// Nonce returns the last accepted nonce of addr; the next tx must exceed it.
func (a *App) Nonce(addr common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces[addr]
}

func (a *App) MempoolSize() int { return a.mempool.Len() }
