package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/app/core/ledger"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/asset"
	"github.com/uhyunpark/dexledger/pkg/sequencer"
)

var (
	tokenAddr = common.HexToAddress("0x7000000000000000000000000000000000000001")
	alice     = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob       = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func openStore(t *testing.T) (*PebbleStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, dir
}

func TestBatchRoundTrip(t *testing.T) {
	s, dir := openStore(t)

	order := &orderbook.Order{ID: 1, User: alice, TokenBuy: tokenAddr, AmountBuy: uint256.NewInt(10), AmountSell: uint256.NewInt(20), Timestamp: 1700000000}
	txHash := transaction.Hash([]byte("tx"))

	b := s.NewBatch()
	b.PutBalance(ledger.Entry{Asset: tokenAddr, Owner: alice, Balance: uint256.NewInt(7)})
	b.PutBalance(ledger.Entry{Asset: asset.NativeID, Owner: bob, Balance: uint256.NewInt(3)})
	b.PutOrder(orderbook.Record{Order: order, Status: orderbook.Filled})
	b.PutEvent(events.Envelope{Seq: 1, Event: events.Order{ID: 1, User: alice, AmountBuy: uint256.NewInt(10), AmountSell: uint256.NewInt(20)}})
	b.PutReceipt(transaction.Receipt{TxHash: txHash, Height: 4, Action: transaction.ActionMakeOrder, Success: true, OrderID: 1})
	b.PutNonce(alice, 9)
	b.PutNative([]asset.Holding{{Owner: bob, Amount: uint256.NewInt(100)}})
	b.PutToken(asset.ERC20State{Address: tokenAddr, Symbol: "EMG", Decimals: 18, TotalSupply: uint256.NewInt(1000)})
	b.PutMeta(BlockMeta{Height: 4, Timestamp: 1700000001, OrderCount: 1})
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	s.Close()

	// Reopen to make sure everything was durable.
	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	bals, err := s.LoadBalances()
	if err != nil || len(bals) != 2 {
		t.Fatalf("balances = %+v, err %v", bals, err)
	}
	if bals[0].Asset != asset.NativeID || bals[0].Owner != bob || bals[0].Balance.Uint64() != 3 {
		t.Errorf("first balance = %+v (native sorts first)", bals[0])
	}

	orders, err := s.LoadOrders()
	if err != nil || len(orders) != 1 || orders[0].Status != orderbook.Filled || orders[0].Order.AmountSell.Uint64() != 20 {
		t.Errorf("orders = %+v, err %v", orders, err)
	}

	evts, err := s.LoadEvents()
	if err != nil || len(evts) != 1 {
		t.Fatalf("events = %+v, err %v", evts, err)
	}
	if _, ok := evts[0].Event.(events.Order); !ok {
		t.Errorf("event type = %T", evts[0].Event)
	}

	r, err := s.GetReceipt(txHash)
	if err != nil || r == nil || r.OrderID != 1 || !r.Success {
		t.Errorf("receipt = %+v, err %v", r, err)
	}
	if r, _ := s.GetReceipt(common.Hash{1}); r != nil {
		t.Error("unknown receipt should be nil")
	}

	nonces, err := s.LoadNonces()
	if err != nil || nonces[alice] != 9 {
		t.Errorf("nonces = %v, err %v", nonces, err)
	}

	native, err := s.LoadNative()
	if err != nil || len(native) != 1 || native[0].Amount.Uint64() != 100 {
		t.Errorf("native = %+v, err %v", native, err)
	}

	tokens, err := s.LoadTokens()
	if err != nil || len(tokens) != 1 || tokens[0].Symbol != "EMG" {
		t.Errorf("tokens = %+v, err %v", tokens, err)
	}

	meta, ok, err := s.LoadMeta()
	if err != nil || !ok || meta.Height != 4 || meta.OrderCount != 1 {
		t.Errorf("meta = %+v ok=%v err=%v", meta, ok, err)
	}
}

func TestZeroBalanceDeletesKey(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	b := s.NewBatch()
	b.PutBalance(ledger.Entry{Asset: tokenAddr, Owner: alice, Balance: uint256.NewInt(7)})
	b.Commit()

	b = s.NewBatch()
	b.PutBalance(ledger.Entry{Asset: tokenAddr, Owner: alice, Balance: new(uint256.Int)})
	b.Commit()

	bals, _ := s.LoadBalances()
	if len(bals) != 0 {
		t.Errorf("balances = %+v, want none", bals)
	}
}

func TestFreshStoreHasNoMeta(t *testing.T) {
	s, _ := openStore(t)
	defer s.Close()

	if _, ok, err := s.LoadMeta(); ok || err != nil {
		t.Errorf("ok=%v err=%v, want fresh", ok, err)
	}
	if native, err := s.LoadNative(); err != nil || len(native) != 0 {
		t.Errorf("native = %v, err %v", native, err)
	}
}

func TestFileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.wal")
	w, err := NewFileWAL(path)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	w.Append([]byte(`{"call":{"action":"deposit_ether"}}`))
	w.Append([]byte("second\nline"))
	w.Close()

	txs, err := ReadWAL(path)
	if err != nil {
		t.Fatalf("read wal: %v", err)
	}
	if len(txs) != 2 || string(txs[1]) != "second\nline" {
		t.Errorf("txs = %q", txs)
	}

	if txs, err := ReadWAL(filepath.Join(t.TempDir(), "missing")); err != nil || txs != nil {
		t.Errorf("missing wal: %q, %v", txs, err)
	}
}

func TestPebbleBlockStore(t *testing.T) {
	s, dir := openStore(t)

	if _, ok, err := s.LastBlock(); ok || err != nil {
		t.Fatalf("fresh store: ok=%v err=%v", ok, err)
	}
	b1 := sequencer.Block{Height: 1, Time: time.Unix(1700000000, 0).UTC(), Payload: []byte{3, 'a', 'b', 'c'}, TxCount: 1, AppHash: common.Hash{1}}
	b2 := sequencer.Block{Height: 2, Parent: b1.Hash(), Time: time.Unix(1700000001, 0).UTC(), AppHash: common.Hash{2}}
	for _, b := range []sequencer.Block{b1, b2} {
		if err := s.SaveBlock(b); err != nil {
			t.Fatalf("save %d: %v", b.Height, err)
		}
	}
	s.Close()

	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	last, ok, err := s.LastBlock()
	if err != nil || !ok || last.Height != 2 || last.Parent != b1.Hash() {
		t.Fatalf("last = %+v ok=%v err=%v", last, ok, err)
	}
	got, ok, _ := s.GetBlock(1)
	if !ok || got.Hash() != b1.Hash() {
		t.Errorf("block 1 hash changed after round trip")
	}
}

func TestInMemoryBlockStore(t *testing.T) {
	s := NewInMemoryBlockStore()
	s.SaveBlock(sequencer.Block{Height: 2})
	s.SaveBlock(sequencer.Block{Height: 1})
	last, ok, _ := s.LastBlock()
	if !ok || last.Height != 2 {
		t.Errorf("last = %+v ok=%v", last, ok)
	}
}
