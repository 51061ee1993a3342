package storage

import (
	"sync"

	"github.com/uhyunpark/dexledger/pkg/sequencer"
)

// Block keys live beside the exchange state:
//
//	blk:<height 8B BE> → sequencer.Block
//	meta:lastblock     → height (8B BE)
const prefixBlock = "blk:"

var keyLastBlock = []byte("meta:lastblock")

func blockKey(height uint64) []byte { return withPrefix(prefixBlock, u64(height)) }

// SaveBlock stores a sequenced block and advances the last-block pointer.
func (s *PebbleStore) SaveBlock(b sequencer.Block) error {
	batch := s.NewBatch()
	batch.setJSON(blockKey(b.Height), b)
	batch.setRaw(keyLastBlock, u64(b.Height))
	return batch.Commit()
}

func (s *PebbleStore) GetBlock(height uint64) (sequencer.Block, bool, error) {
	var b sequencer.Block
	ok, err := s.getJSON(blockKey(height), &b)
	return b, ok, err
}

func (s *PebbleStore) LastBlock() (sequencer.Block, bool, error) {
	raw, ok, err := s.getRaw(keyLastBlock)
	if err != nil || !ok || len(raw) != 8 {
		return sequencer.Block{}, false, err
	}
	return s.GetBlock(beUint64(raw))
}

// InMemoryBlockStore keeps blocks in a map; used by tests and ephemeral nodes.
type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[uint64]sequencer.Block
	last   uint64
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[uint64]sequencer.Block)}
}

func (s *InMemoryBlockStore) SaveBlock(b sequencer.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	if b.Height > s.last {
		s.last = b.Height
	}
	return nil
}

func (s *InMemoryBlockStore) GetBlock(height uint64) (sequencer.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	return b, ok, nil
}

func (s *InMemoryBlockStore) LastBlock() (sequencer.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[s.last]
	return b, ok, nil
}
