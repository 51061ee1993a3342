package dex

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/params"
	"github.com/uhyunpark/dexledger/pkg/abci"
	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/asset"
	"github.com/uhyunpark/dexledger/pkg/crypto"
	"github.com/uhyunpark/dexledger/pkg/metrics"
	"github.com/uhyunpark/dexledger/pkg/storage"
	"github.com/uhyunpark/dexledger/pkg/units"
)

var (
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000E0C01")
	feeAccount   = common.HexToAddress("0x00000000000000000000000000000000000FEE01")
)

type harness struct {
	t      *testing.T
	app    *App
	maker  *crypto.Signer // holds the genesis token
	taker  *crypto.Signer // holds native coin only
	token  common.Address
	nonces map[common.Address]uint64
	height int64
	cfg    Config
}

func keys(t *testing.T) (*crypto.Signer, *crypto.Signer) {
	t.Helper()
	maker, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	taker, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return maker, taker
}

func testConfig(maker, taker *crypto.Signer) Config {
	return Config{
		Exchange: params.Exchange{Address: exchangeAddr, FeeAccount: feeAccount, FeePercent: 10},
		ChainID:  1337,
		Genesis: params.Genesis{
			Tokens: []params.GenesisToken{{
				Name: "Emerald", Symbol: "EMG", Decimals: 18, Supply: "100",
				Owner: maker.Address().Hex(),
			}},
			Native: []params.GenesisNative{
				{Address: maker.Address().Hex(), Amount: "10"},
				{Address: taker.Address().Hex(), Amount: "10"},
			},
		},
	}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	maker, taker := keys(t)
	cfg := testConfig(maker, taker)
	if mutate != nil {
		mutate(&cfg)
	}
	app, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	tokens := app.Tokens()
	if len(tokens) != 1 {
		t.Fatalf("tokens = %+v", tokens)
	}
	return &harness{
		t: t, app: app, maker: maker, taker: taker,
		token: tokens[0].Address, nonces: map[common.Address]uint64{}, cfg: cfg,
	}
}

func (h *harness) tx(who *crypto.Signer, call crypto.ExchangeCall) []byte {
	h.t.Helper()
	h.nonces[who.Address()]++
	call.Nonce = h.nonces[who.Address()]
	call.From = who.Address()
	stx, err := transaction.NewVerifier(h.app.Domain()).Sign(who, &call)
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	raw, err := stx.Serialize()
	if err != nil {
		h.t.Fatalf("serialize: %v", err)
	}
	return raw
}

func (h *harness) block(txs ...[]byte) abci.ResponseFinalizeBlock {
	h.height++
	return h.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h.height, Timestamp: 1700000000 + h.height, Txs: txs})
}

func requireSuccess(t *testing.T, resp abci.ResponseFinalizeBlock) {
	t.Helper()
	for i, r := range resp.Results {
		if !r.Success {
			t.Fatalf("tx %d failed: %s", i, r.Error)
		}
	}
}

// trade deposits on both sides and settles one order: the maker sells one
// EMG for one native coin.
func (h *harness) trade() {
	h.t.Helper()
	one := units.Ether(1)
	requireSuccess(h.t, h.block(
		h.tx(h.maker, crypto.ExchangeCall{Action: "approve", Token: h.token, Spender: exchangeAddr, Amount: one}),
		h.tx(h.maker, crypto.ExchangeCall{Action: "deposit_token", Token: h.token, Amount: one}),
		h.tx(h.taker, crypto.ExchangeCall{Action: "deposit_ether", Amount: units.Ether(2)}),
		h.tx(h.maker, crypto.ExchangeCall{Action: "make_order", TokenBuy: asset.NativeID, AmountBuy: one, TokenSell: h.token, AmountSell: one}),
	))
	requireSuccess(h.t, h.block(h.tx(h.taker, crypto.ExchangeCall{Action: "fill_order", OrderID: 1})))
}

func TestTradeLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.trade()

	native := asset.NativeID
	checks := []struct {
		name         string
		asset, owner common.Address
		want         *uint256.Int
	}{
		{"maker native", native, h.maker.Address(), units.Ether(1)},
		{"maker token", h.token, h.maker.Address(), new(uint256.Int)},
		{"taker native", native, h.taker.Address(), uint256.NewInt(9e17)},
		{"taker token", h.token, h.taker.Address(), units.Ether(1)},
		{"fee account", native, feeAccount, uint256.NewInt(1e17)},
	}
	for _, c := range checks {
		if got := h.app.BalanceOf(c.asset, c.owner); !got.Eq(c.want) {
			t.Errorf("%s = %s, want %s", c.name, got.Dec(), c.want.Dec())
		}
	}

	rec, ok := h.app.Order(1)
	if !ok || rec.Status != orderbook.Filled || rec.Order.Timestamp != 1700000001 {
		t.Errorf("order = %+v ok=%v", rec, ok)
	}

	wallet, _ := h.app.WalletBalance(native, h.taker.Address())
	if !wallet.Eq(units.Ether(8)) {
		t.Errorf("taker wallet = %s, want 8 ether", wallet.Dec())
	}

	if _, err := h.app.Audit(); err != nil {
		t.Errorf("audit: %v", err)
	}

	info := h.app.Info()
	if info.Height != 2 || info.OrderCount != 1 || info.EventCount != 4 || info.AppHash == (common.Hash{}) {
		t.Errorf("info = %+v", info)
	}

	kinds := []events.Kind{}
	for _, env := range h.app.Events(0, 0) {
		kinds = append(kinds, env.Event.Kind())
	}
	want := []events.Kind{events.KindDeposit, events.KindDeposit, events.KindOrder, events.KindTrade}
	if len(kinds) != 4 {
		// approve emits no exchange event
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestReceipts(t *testing.T) {
	h := newHarness(t, nil)
	make1 := h.tx(h.maker, crypto.ExchangeCall{Action: "make_order", TokenBuy: asset.NativeID, AmountBuy: units.Ether(1), TokenSell: h.token, AmountSell: units.Ether(1)})
	badFill := h.tx(h.taker, crypto.ExchangeCall{Action: "fill_order", OrderID: 666})
	resp := h.block(make1, badFill)

	if len(resp.Results) != 2 || !resp.Results[0].Success || resp.Results[1].Success {
		t.Fatalf("results = %+v", resp.Results)
	}

	r, err := h.app.Receipt(transaction.Hash(make1))
	if err != nil || r == nil {
		t.Fatalf("receipt: %v %v", r, err)
	}
	if r.OrderID != 1 || r.Action != transaction.ActionMakeOrder || r.From != h.maker.Address() || len(r.Events) != 1 {
		t.Errorf("make receipt = %+v", r)
	}

	r, _ = h.app.Receipt(transaction.Hash(badFill))
	if r == nil || r.Success || !strings.Contains(r.Error, "not found") || r.Index != 1 {
		t.Errorf("fill receipt = %+v", r)
	}
	if r, _ := h.app.Receipt(common.Hash{9}); r != nil {
		t.Errorf("unknown receipt = %+v", r)
	}
}

func TestNonceReplay(t *testing.T) {
	h := newHarness(t, nil)
	dep := h.tx(h.taker, crypto.ExchangeCall{Action: "deposit_ether", Amount: units.Ether(1)})

	resp := h.block(dep, dep)
	if !resp.Results[0].Success || resp.Results[1].Success {
		t.Fatalf("results = %+v", resp.Results)
	}
	if !strings.Contains(resp.Results[1].Error, ErrNonceTooLow.Error()) {
		t.Errorf("replay error = %s", resp.Results[1].Error)
	}
	if got := h.app.BalanceOf(asset.NativeID, h.taker.Address()); !got.Eq(units.Ether(1)) {
		t.Errorf("balance = %s, replay must not deposit twice", got.Dec())
	}

	// A failed call still consumes its nonce.
	overdraw := h.tx(h.taker, crypto.ExchangeCall{Action: "withdraw_ether", Amount: units.Ether(5)})
	resp = h.block(overdraw)
	if resp.Results[0].Success {
		t.Fatal("overdraw succeeded")
	}
	if h.app.Nonce(h.taker.Address()) != 2 {
		t.Errorf("nonce = %d, want 2", h.app.Nonce(h.taker.Address()))
	}
}

func TestPushTxRejectsForgery(t *testing.T) {
	h := newHarness(t, nil)
	raw := h.tx(h.taker, crypto.ExchangeCall{Action: "deposit_ether", Amount: units.Ether(1)})

	stx, _ := transaction.ParseTransaction(raw)
	stx.Call.From = h.maker.Address().Hex()
	forged, _ := stx.Serialize()

	if _, err := h.app.PushTx(forged); !errors.Is(err, ErrMempoolRejected) {
		t.Errorf("forged tx err = %v", err)
	}
	if _, err := h.app.PushTx([]byte("garbage")); !errors.Is(err, ErrMempoolRejected) {
		t.Errorf("garbage err = %v", err)
	}
	hash, err := h.app.PushTx(raw)
	if err != nil || hash != transaction.Hash(raw) {
		t.Errorf("valid tx: %s %v", hash.Hex(), err)
	}
	if h.app.MempoolSize() != 1 {
		t.Errorf("mempool size = %d", h.app.MempoolSize())
	}
}

func TestProposalOrdersFundsFirst(t *testing.T) {
	h := newHarness(t, nil)
	mk := h.tx(h.maker, crypto.ExchangeCall{Action: "make_order", TokenBuy: asset.NativeID, AmountBuy: units.Ether(1), TokenSell: h.token, AmountSell: units.Ether(1)})
	dep := h.tx(h.taker, crypto.ExchangeCall{Action: "deposit_ether", Amount: units.Ether(1)})
	for _, raw := range [][]byte{mk, dep} {
		if _, err := h.app.PushTx(raw); err != nil {
			t.Fatal(err)
		}
	}
	prop := h.app.PrepareProposal(abci.RequestPrepareProposal{Height: 1})
	if len(prop.Txs) != 2 || string(prop.Txs[0]) != string(dep) {
		t.Errorf("proposal order wrong: %q", prop.Txs)
	}
}

func TestProposalKeepsSenderNonceOrder(t *testing.T) {
	h := newHarness(t, nil)
	// Orders may be placed before the deposit that funds them.
	mk := h.tx(h.maker, crypto.ExchangeCall{Action: "make_order", TokenBuy: h.token, AmountBuy: units.Ether(1), TokenSell: asset.NativeID, AmountSell: units.Ether(1)})
	dep := h.tx(h.maker, crypto.ExchangeCall{Action: "deposit_ether", Amount: units.Ether(1)})
	cancel := h.tx(h.maker, crypto.ExchangeCall{Action: "cancel_order", OrderID: 1})
	for _, raw := range [][]byte{mk, dep, cancel} {
		if _, err := h.app.PushTx(raw); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	prop := h.app.PrepareProposal(abci.RequestPrepareProposal{Height: 1})
	if len(prop.Txs) != 3 || string(prop.Txs[0]) != string(mk) || string(prop.Txs[1]) != string(dep) || string(prop.Txs[2]) != string(cancel) {
		t.Fatalf("proposal reordered one sender's txs")
	}

	h.height++
	resp := h.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h.height, Timestamp: 1700000000 + h.height, Txs: prop.Txs})
	requireSuccess(t, resp)

	rec, ok := h.app.Order(1)
	if !ok || rec.Status != orderbook.Canceled {
		t.Errorf("order = %+v ok=%v", rec, ok)
	}
	if got := h.app.BalanceOf(asset.NativeID, h.maker.Address()); !got.Eq(units.Ether(1)) {
		t.Errorf("maker balance = %s", got.Dec())
	}
	if h.app.Nonce(h.maker.Address()) != 3 {
		t.Errorf("nonce = %d, want 3", h.app.Nonce(h.maker.Address()))
	}
}

func TestHooksRunAfterCommit(t *testing.T) {
	h := newHarness(t, nil)
	var seen []uint64
	var blocks []BlockResult
	h.app.OnEvent(func(env events.Envelope) {
		// Reads must not deadlock: the block lock is released before hooks run.
		_ = h.app.Info()
		seen = append(seen, env.Seq)
	})
	h.app.OnBlock(func(b BlockResult) { blocks = append(blocks, b) })

	h.trade()
	if len(seen) != 4 || seen[0] != 1 || seen[3] != 4 {
		t.Errorf("seen = %v", seen)
	}
	if len(blocks) != 2 || len(blocks[0].Receipts) != 4 || blocks[1].AppHash != h.app.AppHash() {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestDeterministicAppHash(t *testing.T) {
	maker, taker := keys(t)
	run := func() common.Hash {
		app, err := New(testConfig(maker, taker))
		if err != nil {
			t.Fatal(err)
		}
		h := &harness{t: t, app: app, maker: maker, taker: taker, token: app.Tokens()[0].Address, nonces: map[common.Address]uint64{}}
		h.trade()
		return app.AppHash()
	}
	if a, b := run(), run(); a != b {
		t.Errorf("app hash differs: %s vs %s", a.Hex(), b.Hex())
	}
}

func TestAppHashCoversWallets(t *testing.T) {
	h := newHarness(t, nil)
	base := h.app.computeStateHash(7, 1700000007)

	// An approve touches only the token's allowance table.
	requireSuccess(t, h.block(h.tx(h.maker, crypto.ExchangeCall{Action: "approve", Token: h.token, Spender: exchangeAddr, Amount: units.Ether(1)})))
	approved := h.app.computeStateHash(7, 1700000007)
	if approved == base {
		t.Fatal("allowance change did not move the app hash")
	}

	if err := h.app.bank.Send(h.maker.Address(), h.taker.Address(), units.Ether(1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	h.app.journal.Reset()
	if h.app.computeStateHash(7, 1700000007) == approved {
		t.Error("native wallet change did not move the app hash")
	}
}

func TestRestoreFromStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	store, err := storage.NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, func(c *Config) { c.Store = store })
	h.trade()
	cancelable := h.tx(h.maker, crypto.ExchangeCall{Action: "make_order", TokenBuy: h.token, AmountBuy: units.Ether(1), TokenSell: asset.NativeID, AmountSell: units.Ether(1)})
	requireSuccess(t, h.block(cancelable, h.tx(h.maker, crypto.ExchangeCall{Action: "cancel_order", OrderID: 2})))

	wantHash := h.app.AppHash()
	wantNonce := h.app.Nonce(h.maker.Address())
	store.Close()

	store, err = storage.NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	cfg := h.cfg
	cfg.Store = store
	app, err := New(cfg)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if app.AppHash() != wantHash || app.Height() != 3 {
		t.Errorf("restored height=%d hash=%s", app.Height(), app.AppHash().Hex())
	}
	if app.Nonce(h.maker.Address()) != wantNonce {
		t.Errorf("nonce = %d, want %d", app.Nonce(h.maker.Address()), wantNonce)
	}
	if rec, _ := app.Order(2); rec.Status != orderbook.Canceled {
		t.Errorf("order 2 status = %v", rec.Status)
	}
	if got := app.BalanceOf(asset.NativeID, feeAccount); !got.Eq(uint256.NewInt(1e17)) {
		t.Errorf("fee balance = %s", got.Dec())
	}
	if len(app.Events(0, 0)) != 6 {
		t.Errorf("events = %d", len(app.Events(0, 0)))
	}
	r, err := app.Receipt(transaction.Hash(cancelable))
	if err != nil || r == nil || r.OrderID != 2 {
		t.Errorf("receipt = %+v err %v", r, err)
	}
	if _, err := app.Audit(); err != nil {
		t.Errorf("audit after restore: %v", err)
	}

	// The restored exchange keeps working: withdraw through the token path.
	h.app = app
	h.height = app.Height()
	requireSuccess(t, h.block(h.tx(h.taker, crypto.ExchangeCall{Action: "withdraw_token", Token: h.token, Amount: units.Ether(1)})))
	if w, _ := app.WalletBalance(h.token, h.taker.Address()); !w.Eq(units.Ether(1)) {
		t.Errorf("taker token wallet = %s", w.Dec())
	}
}

func TestRecoverRequeuesPendingWALTxs(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewPebbleStore(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatal(err)
	}
	walPath := filepath.Join(dir, "tx.wal")
	wal, err := storage.NewFileWAL(walPath)
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, func(c *Config) { c.Store = store; c.WAL = wal })

	executed := h.tx(h.taker, crypto.ExchangeCall{Action: "deposit_ether", Amount: units.Ether(1)})
	pending := h.tx(h.taker, crypto.ExchangeCall{Action: "deposit_ether", Amount: units.Ether(2)})
	if _, err := h.app.PushTx(executed); err != nil {
		t.Fatalf("push: %v", err)
	}
	h.height++
	prop := h.app.PrepareProposal(abci.RequestPrepareProposal{Height: h.height})
	requireSuccess(t, h.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h.height, Timestamp: 1700000000 + h.height, Txs: prop.Txs}))
	if _, err := h.app.PushTx(pending); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	logged, err := storage.ReadWAL(walPath)
	if err != nil {
		t.Fatalf("read wal: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("wal holds %d txs, want 2", len(logged))
	}

	store, err = storage.NewPebbleStore(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	cfg := h.cfg
	cfg.Store = store
	app, err := New(cfg)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	queued, err := app.Recover(append(logged, pending, []byte("garbage")))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if queued != 1 || app.MempoolSize() != 1 {
		t.Fatalf("queued = %d, mempool = %d, want 1", queued, app.MempoolSize())
	}

	h.app = app
	h.height = app.Height()
	h.height++
	prop = app.PrepareProposal(abci.RequestPrepareProposal{Height: h.height})
	requireSuccess(t, app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h.height, Timestamp: 1700000000 + h.height, Txs: prop.Txs}))
	if got := app.BalanceOf(asset.NativeID, h.taker.Address()); !got.Eq(units.Ether(3)) {
		t.Errorf("taker balance = %s, want 3 ether", got.Dec())
	}
}

func TestMetricsObserved(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, func(c *Config) { c.Metrics = m })
	h.trade()
	h.block(h.tx(h.taker, crypto.ExchangeCall{Action: "fill_order", OrderID: 1}))

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, mf := range mfs {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				got[mf.GetName()] += c.GetValue()
			}
		}
	}
	if got["dex_tx_applied_total"] != 5 || got["dex_tx_rejected_total"] != 1 || got["dex_blocks_total"] != 3 || got["dex_events_total"] != 4 {
		t.Errorf("counters = %v", got)
	}
}

func TestGenesisRejectsExchangeCollision(t *testing.T) {
	maker, taker := keys(t)
	cfg := testConfig(maker, taker)
	cfg.Genesis.Tokens[0].Address = exchangeAddr.Hex()
	if _, err := New(cfg); err == nil {
		t.Error("expected collision error")
	}
}
