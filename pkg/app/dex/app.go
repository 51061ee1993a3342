package dex

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexledger/params"
	"github.com/uhyunpark/dexledger/pkg/abci"
	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/app/core/exchange"
	"github.com/uhyunpark/dexledger/pkg/app/core/mempool"
	"github.com/uhyunpark/dexledger/pkg/app/core/state"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/asset"
	"github.com/uhyunpark/dexledger/pkg/crypto"
	"github.com/uhyunpark/dexledger/pkg/metrics"
	"github.com/uhyunpark/dexledger/pkg/storage"
)

var _ abci.Application = (*App)(nil)

type Config struct {
	Exchange params.Exchange
	ChainID  int64
	Genesis  params.Genesis

	// Store is optional. Without it the app keeps everything in memory.
	Store *storage.PebbleStore
	// WAL receives every transaction admitted to the mempool.
	WAL     storage.WAL
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

// BlockResult is handed to OnBlock hooks after a block is committed.
type BlockResult struct {
	Height    int64
	Timestamp int64
	AppHash   common.Hash
	Receipts  []transaction.Receipt
	Events    []events.Envelope
}

// App runs the exchange as an ABCI-style application. All state mutation
// happens inside FinalizeBlock under the write lock; reads take the read lock.
type App struct {
	mu sync.RWMutex

	journal  *state.Journal
	bank     *asset.NativeBank
	tokens   *asset.Registry
	erc20s   map[common.Address]*asset.ERC20
	ex       *exchange.Exchange
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	domain   crypto.EIP712Domain

	nonces      map[common.Address]uint64
	dirtyNonces map[common.Address]bool
	receipts    map[common.Hash]transaction.Receipt // only used without a store

	height    int64
	blockTime int64
	appHash   common.Hash
	savedSeq  uint64 // last event sequence persisted

	// per-block scratch
	blockEvents []events.Envelope
	txEvents    []uint64

	store   *storage.PebbleStore
	wal     storage.WAL
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	hookMu  sync.RWMutex
	onEvent []func(events.Envelope)
	onBlock []func(BlockResult)
}

// blockClock stamps orders and trades with the block timestamp so that
// replaying a block yields identical state.
type blockClock struct{ app *App }

func (c blockClock) Now() time.Time { return time.Unix(c.app.blockTime, 0) }

// New builds the application. When the store holds a committed block the
// state is restored from it; otherwise the genesis is applied.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	wal := cfg.WAL
	if wal == nil {
		wal = storage.NewNopWAL()
	}

	domain := crypto.DefaultDomain()
	if cfg.ChainID != 0 {
		domain.ChainID.SetInt64(cfg.ChainID)
	}
	domain.VerifyingContract = cfg.Exchange.Address

	j := state.NewJournal()
	a := &App{
		journal:     j,
		bank:        asset.NewNativeBank(j),
		tokens:      asset.NewRegistry(),
		erc20s:      make(map[common.Address]*asset.ERC20),
		mempool:     mempool.NewMempool(),
		verifier:    transaction.NewVerifier(domain),
		domain:      domain,
		nonces:      make(map[common.Address]uint64),
		dirtyNonces: make(map[common.Address]bool),
		receipts:    make(map[common.Hash]transaction.Receipt),
		store:       cfg.Store,
		wal:         wal,
		metrics:     cfg.Metrics,
		logger:      logger,
	}

	restored := false
	if a.store != nil {
		var err error
		if restored, err = a.restore(cfg); err != nil {
			return nil, fmt.Errorf("failed to restore state: %w", err)
		}
	}
	if !restored {
		if err := a.applyGenesis(cfg); err != nil {
			return nil, err
		}
	}
	a.ex.Subscribe(a.collectEvent)
	return a, nil
}

func (a *App) newExchange(cfg Config) (*exchange.Exchange, error) {
	return exchange.New(exchange.Config{
		Address:    cfg.Exchange.Address,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Journal:    a.journal,
		Bank:       a.bank,
		Tokens:     a.tokens,
		Clock:      blockClock{app: a},
		Logger:     a.logger.Named("exchange"),
	})
}

func (a *App) registerToken(t *asset.ERC20) error {
	if err := a.tokens.Register(t.Address(), t); err != nil {
		return err
	}
	a.erc20s[t.Address()] = t
	return nil
}

func (a *App) applyGenesis(cfg Config) error {
	tokens, err := cfg.Genesis.TokenAllocs()
	if err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}
	natives, err := cfg.Genesis.NativeAllocs()
	if err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}
	for _, t := range tokens {
		if t.Address == cfg.Exchange.Address {
			return fmt.Errorf("invalid genesis: token %s collides with the exchange address", t.Symbol)
		}
		if err := a.registerToken(asset.NewERC20(a.journal, t.Address, t.Name, t.Symbol, t.Decimals, t.Supply, t.Owner)); err != nil {
			return fmt.Errorf("invalid genesis: %w", err)
		}
	}
	for _, n := range natives {
		if err := a.bank.Mint(n.Address, n.Amount); err != nil {
			return fmt.Errorf("invalid genesis: %w", err)
		}
	}
	a.journal.Reset()

	if a.ex, err = a.newExchange(cfg); err != nil {
		return err
	}
	a.logger.Infow("genesis_applied", "tokens", len(tokens), "native_allocs", len(natives))
	return nil
}

func (a *App) restore(cfg Config) (bool, error) {
	meta, ok, err := a.store.LoadMeta()
	if err != nil || !ok {
		return false, err
	}

	tokens, err := a.store.LoadTokens()
	if err != nil {
		return false, err
	}
	for _, st := range tokens {
		if err := a.registerToken(asset.RestoreERC20(a.journal, st)); err != nil {
			return false, err
		}
	}
	native, err := a.store.LoadNative()
	if err != nil {
		return false, err
	}
	a.bank.Restore(native)

	if a.ex, err = a.newExchange(cfg); err != nil {
		return false, err
	}
	balances, err := a.store.LoadBalances()
	if err != nil {
		return false, err
	}
	orders, err := a.store.LoadOrders()
	if err != nil {
		return false, err
	}
	evts, err := a.store.LoadEvents()
	if err != nil {
		return false, err
	}
	if err := a.ex.Restore(balances, orders, meta.OrderCount, evts); err != nil {
		return false, err
	}
	if a.nonces, err = a.store.LoadNonces(); err != nil {
		return false, err
	}

	a.height = meta.Height
	a.blockTime = meta.Timestamp
	a.appHash = meta.AppHash
	a.savedSeq = a.ex.EventCount()

	if got := a.computeStateHash(meta.Height, meta.Timestamp); got != meta.AppHash {
		return false, fmt.Errorf("app hash mismatch at height %d: stored %s, recomputed %s", meta.Height, meta.AppHash.Hex(), got.Hex())
	}
	a.logger.Infow("state_restored",
		"height", meta.Height,
		"orders", meta.OrderCount,
		"events", a.savedSeq,
		"tokens", len(tokens),
	)
	return true, nil
}

// OnEvent registers fn to receive every committed event, after its block
// has been persisted.
func (a *App) OnEvent(fn func(events.Envelope)) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.onEvent = append(a.onEvent, fn)
}

// OnBlock registers fn to run after every committed block.
func (a *App) OnBlock(fn func(BlockResult)) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.onBlock = append(a.onBlock, fn)
}

func (a *App) collectEvent(env events.Envelope) {
	a.blockEvents = append(a.blockEvents, env)
	a.txEvents = append(a.txEvents, env.Seq)
}

var ErrMempoolRejected = errors.New("transaction rejected")

// PushTx admits a raw transaction after stateless checks: it must parse and
// carry a valid signature from its declared sender. Nonce and balance checks
// happen at execution.
func (a *App) PushTx(raw []byte) (common.Hash, error) {
	if err := a.admit(raw); err != nil {
		return common.Hash{}, err
	}
	if err := a.wal.Append(raw); err != nil {
		return common.Hash{}, fmt.Errorf("failed to append tx to wal: %w", err)
	}
	a.mempool.PushRaw(raw)
	return transaction.Hash(raw), nil
}

func (a *App) admit(raw []byte) error {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMempoolRejected, err)
	}
	if _, _, err := a.verifier.Verify(tx); err != nil {
		return fmt.Errorf("%w: %w", ErrMempoolRejected, err)
	}
	return nil
}

// Recover re-queues transactions read back from the WAL after a restart.
// Txs that already have a receipt were executed before the restart and are
// skipped, as are duplicates. Nothing is appended to the WAL again. It
// returns the number of txs queued.
func (a *App) Recover(txs [][]byte) (int, error) {
	seen := make(map[common.Hash]bool, len(txs))
	queued := 0
	for _, raw := range txs {
		h := transaction.Hash(raw)
		if seen[h] {
			continue
		}
		seen[h] = true

		r, err := a.Receipt(h)
		if err != nil {
			return queued, fmt.Errorf("failed to look up receipt %s: %w", h.Hex(), err)
		}
		if r != nil {
			continue
		}
		if err := a.admit(raw); err != nil {
			a.logger.Warnw("wal_tx_dropped", "tx", h.Hex(), "err", err)
			continue
		}
		a.mempool.PushRaw(raw)
		queued++
	}
	return queued, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts every proposal; invalid txs fail individually.
func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()

	a.blockTime = req.Timestamp
	a.blockEvents = nil
	receipts := make([]transaction.Receipt, 0, len(req.Txs))
	results := make([]abci.TxResult, 0, len(req.Txs))
	for i, raw := range req.Txs {
		r := a.applyTx(req.Height, i, raw)
		receipts = append(receipts, r)
		results = append(results, abci.TxResult{Hash: r.TxHash, Success: r.Success, Error: r.Error})
		if a.metrics != nil {
			a.metrics.ObserveTx(string(r.Action), r.Success)
		}
	}

	a.height = req.Height
	a.appHash = a.computeStateHash(req.Height, req.Timestamp)
	a.persist(req, receipts)

	res := BlockResult{
		Height:    req.Height,
		Timestamp: req.Timestamp,
		AppHash:   a.appHash,
		Receipts:  receipts,
		Events:    a.blockEvents,
	}
	a.blockEvents = nil
	a.mu.Unlock()

	if a.metrics != nil {
		for _, env := range res.Events {
			a.metrics.ObserveEvent(env)
		}
		a.metrics.ObserveBlock(req.Height, len(req.Txs), a.mempool.Len())
	}
	if len(req.Txs) > 0 {
		a.logger.Infow("block_finalized",
			"height", req.Height,
			"txs", len(req.Txs),
			"events", len(res.Events),
			"app_hash", res.AppHash.Hex(),
		)
	}
	a.publish(res)

	return abci.ResponseFinalizeBlock{Results: results, AppHash: res.AppHash}
}

func (a *App) publish(res BlockResult) {
	a.hookMu.RLock()
	defer a.hookMu.RUnlock()
	for _, env := range res.Events {
		for _, fn := range a.onEvent {
			fn(env)
		}
	}
	for _, fn := range a.onBlock {
		fn(res)
	}
}
