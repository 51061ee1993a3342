package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexledger/pkg/abci"
	"github.com/uhyunpark/dexledger/pkg/util"
)

var ErrProposalRejected = errors.New("proposal rejected by application")

type Config struct {
	BlockTime  time.Duration
	MaxTxBytes int64
	// ProduceEmpty commits blocks with no transactions. Off by default so an
	// idle devnet does not grow the chain every tick.
	ProduceEmpty bool
}

// Sequencer is the single block producer: every BlockTime it asks the
// application for a proposal, executes it and records the block.
type Sequencer struct {
	App    abci.Application
	Clock  util.Clock
	Config Config
	Store  BlockStore
	Logger *zap.SugaredLogger

	// OnCommit runs after every committed block, outside the lock.
	OnCommit func(Block)

	mu   sync.RWMutex
	last Block
}

func New(app abci.Application, clock util.Clock, cfg Config) *Sequencer {
	if clock == nil {
		clock = util.RealClock{}
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 200 * time.Millisecond
	}
	return &Sequencer{App: app, Clock: clock, Config: cfg, Logger: zap.NewNop().Sugar()}
}

// Resume continues the chain after the given block. Used on restart.
func (s *Sequencer) Resume(last Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = last
}

// ResumePoint picks the block to continue from after a restart: the stored
// block at height when the index has it. Otherwise gap is true and the
// returned header carries only height, time and app hash, so the chain
// restarts from there.
func ResumePoint(store BlockStore, height uint64, appHash common.Hash, t time.Time) (blk Block, gap bool, err error) {
	if height == 0 {
		return Block{}, false, nil
	}
	blk, ok, err := store.GetBlock(height)
	if err != nil {
		return Block{}, false, fmt.Errorf("load block %d: %w", height, err)
	}
	if ok {
		return blk, false, nil
	}
	return Block{Height: height, Time: t.UTC(), AppHash: appHash}, true, nil
}

// Height returns the height of the last committed block (0 before genesis).
func (s *Sequencer) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.Height
}

// Last returns the last committed block.
func (s *Sequencer) Last() Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run produces blocks until ctx is done.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.Config.BlockTime):
		}
		if _, _, err := s.Step(); err != nil {
			return err
		}
	}
}

// Step builds and commits at most one block. ok is false when there was
// nothing to sequence.
func (s *Sequencer) Step() (blk Block, ok bool, err error) {
	s.mu.Lock()
	parent := s.last
	next := parent.Height + 1

	prop := s.App.PrepareProposal(abci.RequestPrepareProposal{Height: int64(next), MaxTxBytes: s.Config.MaxTxBytes})
	if len(prop.Txs) == 0 && !s.Config.ProduceEmpty {
		s.mu.Unlock()
		return Block{}, false, nil
	}
	if !s.App.ProcessProposal(abci.RequestProcessProposal{Height: int64(next), Txs: prop.Txs}).Accept {
		s.mu.Unlock()
		return Block{}, false, fmt.Errorf("%w at height %d", ErrProposalRejected, next)
	}

	// Block time never goes backwards, even if the wall clock does.
	now := s.Clock.Now().Truncate(time.Second)
	if now.Before(parent.Time) {
		now = parent.Time
	}

	blk = Block{
		Height:  next,
		Parent:  parent.Hash(),
		Time:    now,
		Payload: abci.EncodePayload(prop.Txs),
		TxCount: len(prop.Txs),
	}
	if parent.Height == 0 {
		blk.Parent = common.Hash{}
	}

	resp := s.App.FinalizeBlock(abci.RequestFinalizeBlock{Height: int64(next), Timestamp: now.Unix(), Txs: prop.Txs})
	blk.AppHash = resp.AppHash

	// The app has already committed the block, so the height advances even
	// if the block index write fails.
	s.last = blk
	if s.Store != nil {
		if err := s.Store.SaveBlock(blk); err != nil {
			s.mu.Unlock()
			return blk, true, fmt.Errorf("save block %d: %w", next, err)
		}
	}
	s.mu.Unlock()

	failed := 0
	for _, r := range resp.Results {
		if !r.Success {
			failed++
		}
	}
	s.Logger.Infow("block_committed",
		"height", blk.Height,
		"txs", blk.TxCount,
		"failed", failed,
		"hash", blk.Hash().Hex(),
		"app_hash", blk.AppHash.Hex(),
	)
	if s.OnCommit != nil {
		s.OnCommit(blk)
	}
	return blk, true, nil
}
