package dex

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexledger/pkg/abci"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/storage"
)

// persist writes the block's effects in one batch. On failure the touched
// sets are kept so the next block retries them.
func (a *App) persist(req abci.RequestFinalizeBlock, receipts []transaction.Receipt) {
	if a.store == nil {
		for _, r := range receipts {
			a.receipts[r.TxHash] = r
		}
		a.ex.ClearChanges()
		a.dirtyNonces = make(map[common.Address]bool)
		return
	}

	changes := a.ex.Changes()
	b := a.store.NewBatch()
	for _, e := range changes.Balances {
		b.PutBalance(e)
	}
	for _, rec := range changes.Orders {
		b.PutOrder(rec)
	}
	newEvents := a.ex.Events(a.savedSeq)
	for _, env := range newEvents {
		b.PutEvent(env)
	}
	for _, addr := range a.tokens.Addresses() {
		if t, ok := a.erc20s[addr]; ok {
			b.PutToken(t.Snapshot())
		}
	}
	b.PutNative(a.bank.Snapshot())
	for addr := range a.dirtyNonces {
		b.PutNonce(addr, a.nonces[addr])
	}
	for _, r := range receipts {
		b.PutReceipt(r)
	}
	b.PutMeta(storage.BlockMeta{
		Height:     req.Height,
		Timestamp:  req.Timestamp,
		AppHash:    a.appHash,
		OrderCount: a.ex.OrderCount(),
	})

	if err := b.Commit(); err != nil {
		a.logger.Errorw("persist_failed", "height", req.Height, "err", err)
		return
	}
	a.ex.ClearChanges()
	a.dirtyNonces = make(map[common.Address]bool)
	if n := len(newEvents); n > 0 {
		a.savedSeq = newEvents[n-1].Seq
	}
}
