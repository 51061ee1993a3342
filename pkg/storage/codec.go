package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema (all values JSON unless noted):
//
//	bal:<asset 20B><owner 20B>  → *uint256.Int
//	ord:<id 8B BE>              → orderbook.Record
//	evt:<seq 8B BE>             → events.Envelope
//	rcpt:<tx hash 32B>          → transaction.Receipt
//	nonce:<address 20B>         → uint64 (8B BE, raw)
//	asset:<token 20B>           → asset.ERC20State
//	meta:native                 → []asset.Holding
//	meta:block                  → BlockMeta
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixEvent   = "evt:"
	prefixReceipt = "rcpt:"
	prefixNonce   = "nonce:"
	prefixAsset   = "asset:"
)

var (
	keyNative = []byte("meta:native")
	keyBlock  = []byte("meta:block")
)

func u64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func withPrefix(prefix string, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func balanceKey(asset, owner common.Address) []byte {
	return withPrefix(prefixBalance, asset[:], owner[:])
}

func orderKey(id uint64) []byte       { return withPrefix(prefixOrder, u64(id)) }
func eventKey(seq uint64) []byte      { return withPrefix(prefixEvent, u64(seq)) }
func receiptKey(h common.Hash) []byte { return withPrefix(prefixReceipt, h[:]) }
func nonceKey(a common.Address) []byte {
	return withPrefix(prefixNonce, a[:])
}
func assetKey(a common.Address) []byte { return withPrefix(prefixAsset, a[:]) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
