package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/app/core/ledger"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/asset"
)

// BlockMeta describes the last committed block.
type BlockMeta struct {
	Height     int64       `json:"height"`
	Timestamp  int64       `json:"timestamp"`
	AppHash    common.Hash `json:"app_hash"`
	OrderCount uint64      `json:"order_count"`
}

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Batch collects one block's writes. Nothing is visible until Commit.
type Batch struct {
	b   *pebble.Batch
	err error
}

// NewBatch starts a write batch
func (s *PebbleStore) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) setJSON(key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("failed to marshal %q: %w", key, err)
		return
	}
	if err := b.b.Set(key, data, nil); err != nil {
		b.err = fmt.Errorf("failed to stage %q: %w", key, err)
	}
}

// PutBalance stores an entry; a zero balance deletes the key.
func (b *Batch) PutBalance(e ledger.Entry) {
	if b.err != nil {
		return
	}
	key := balanceKey(e.Asset, e.Owner)
	if e.Balance == nil || e.Balance.IsZero() {
		if err := b.b.Delete(key, nil); err != nil {
			b.err = fmt.Errorf("failed to stage balance delete: %w", err)
		}
		return
	}
	b.setJSON(key, e.Balance)
}

func (b *Batch) PutOrder(r orderbook.Record) { b.setJSON(orderKey(r.Order.ID), r) }

func (b *Batch) PutEvent(e events.Envelope) { b.setJSON(eventKey(e.Seq), e) }

func (b *Batch) PutReceipt(r transaction.Receipt) { b.setJSON(receiptKey(r.TxHash), r) }

func (b *Batch) PutToken(s asset.ERC20State) { b.setJSON(assetKey(s.Address), s) }

func (b *Batch) PutNative(hs []asset.Holding) { b.setJSON(keyNative, hs) }

func (b *Batch) PutMeta(m BlockMeta) { b.setJSON(keyBlock, m) }

func (b *Batch) PutNonce(addr common.Address, nonce uint64) { b.setRaw(nonceKey(addr), u64(nonce)) }

func (b *Batch) setRaw(key, value []byte) {
	if b.err != nil {
		return
	}
	if err := b.b.Set(key, value, nil); err != nil {
		b.err = fmt.Errorf("failed to stage %q: %w", key, err)
	}
}

// Commit writes the batch durably. The first staging error, if any, is
// returned instead and nothing is written.
func (b *Batch) Commit() error {
	defer b.b.Close()
	if b.err != nil {
		return b.err
	}
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// scan walks every key under prefix in key order.
func (s *PebbleStore) scan(prefix string, fn func(key, value []byte) error) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// getRaw returns a copy of the value stored at key.
func (s *PebbleStore) getRaw(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), data...), true, nil
}

func (s *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	data, ok, err := s.getRaw(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}

// LoadBalances returns every persisted ledger entry
func (s *PebbleStore) LoadBalances() ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.scan(prefixBalance, func(key, value []byte) error {
		rest := key[len(prefixBalance):]
		if len(rest) != 2*common.AddressLength {
			return fmt.Errorf("malformed balance key %x", key)
		}
		bal := new(uint256.Int)
		if err := json.Unmarshal(value, bal); err != nil {
			return fmt.Errorf("failed to unmarshal balance: %w", err)
		}
		out = append(out, ledger.Entry{
			Asset:   common.BytesToAddress(rest[:common.AddressLength]),
			Owner:   common.BytesToAddress(rest[common.AddressLength:]),
			Balance: bal,
		})
		return nil
	})
	return out, err
}

// LoadOrders returns every persisted order in id order
func (s *PebbleStore) LoadOrders() ([]orderbook.Record, error) {
	var out []orderbook.Record
	err := s.scan(prefixOrder, func(_, value []byte) error {
		var r orderbook.Record
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// LoadEvents returns every persisted event in sequence order
func (s *PebbleStore) LoadEvents() ([]events.Envelope, error) {
	var out []events.Envelope
	err := s.scan(prefixEvent, func(_, value []byte) error {
		var e events.Envelope
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// LoadNonces returns the last accepted nonce per address
func (s *PebbleStore) LoadNonces() (map[common.Address]uint64, error) {
	out := make(map[common.Address]uint64)
	err := s.scan(prefixNonce, func(key, value []byte) error {
		if len(value) != 8 {
			return fmt.Errorf("malformed nonce value for %x", key)
		}
		out[common.BytesToAddress(key[len(prefixNonce):])] = beUint64(value)
		return nil
	})
	return out, err
}

// LoadTokens returns every persisted token snapshot
func (s *PebbleStore) LoadTokens() ([]asset.ERC20State, error) {
	var out []asset.ERC20State
	err := s.scan(prefixAsset, func(_, value []byte) error {
		var st asset.ERC20State
		if err := json.Unmarshal(value, &st); err != nil {
			return fmt.Errorf("failed to unmarshal token: %w", err)
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

// LoadNative returns the persisted native wallets
func (s *PebbleStore) LoadNative() ([]asset.Holding, error) {
	var out []asset.Holding
	if _, err := s.getJSON(keyNative, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadMeta returns the last committed block, or false on a fresh store
func (s *PebbleStore) LoadMeta() (BlockMeta, bool, error) {
	var m BlockMeta
	ok, err := s.getJSON(keyBlock, &m)
	return m, ok, err
}

// GetReceipt loads a receipt by tx hash. Returns nil if it doesn't exist.
func (s *PebbleStore) GetReceipt(h common.Hash) (*transaction.Receipt, error) {
	var r transaction.Receipt
	ok, err := s.getJSON(receiptKey(h), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}
