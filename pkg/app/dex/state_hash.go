package dex

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/dexledger/pkg/asset"
)

// computeStateHash is keccak256 over, in order:
//
//	height, timestamp (8B BE each)
//	every non-zero ledger entry sorted by (asset, owner): asset, owner, balance (32B)
//	order count, then every order by id: id, creator, tokenBuy, amountBuy,
//	  tokenSell, amountSell, timestamp, status
//	event count
//	every token by address: address, decimals, total supply, holders
//	  (count, then owner and amount each), allowances (count, then owner,
//	  spender and amount each)
//	native wallets: count, then owner and amount each
func (a *App) computeStateHash(height, timestamp int64) common.Hash {
	h := sha3.NewLegacyKeccak256()

	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	writeU64(uint64(height))
	writeU64(uint64(timestamp))

	for _, e := range a.ex.Balances() {
		h.Write(e.Asset[:])
		h.Write(e.Owner[:])
		b := e.Balance.Bytes32()
		h.Write(b[:])
	}

	writeU64(a.ex.OrderCount())
	for _, rec := range a.ex.Orders() {
		o := rec.Order
		writeU64(o.ID)
		h.Write(o.User[:])
		h.Write(o.TokenBuy[:])
		amt := o.AmountBuy.Bytes32()
		h.Write(amt[:])
		h.Write(o.TokenSell[:])
		amt = o.AmountSell.Bytes32()
		h.Write(amt[:])
		writeU64(uint64(o.Timestamp))
		h.Write([]byte{byte(rec.Status)})
	}

	writeU64(a.ex.EventCount())

	writeAmount := func(v *uint256.Int) {
		b := v.Bytes32()
		h.Write(b[:])
	}
	writeHoldings := func(hs []asset.Holding) {
		writeU64(uint64(len(hs)))
		for _, hd := range hs {
			h.Write(hd.Owner[:])
			writeAmount(hd.Amount)
		}
	}
	for _, addr := range a.tokens.Addresses() {
		t, ok := a.erc20s[addr]
		if !ok {
			continue
		}
		st := t.Snapshot()
		h.Write(st.Address[:])
		h.Write([]byte{st.Decimals})
		writeAmount(st.TotalSupply)
		writeHoldings(st.Balances)
		writeU64(uint64(len(st.Allowances)))
		for _, al := range st.Allowances {
			h.Write(al.Owner[:])
			h.Write(al.Spender[:])
			writeAmount(al.Amount)
		}
	}
	writeHoldings(a.bank.Snapshot())

	var out common.Hash
	h.Sum(out[:0])
	return out
}
