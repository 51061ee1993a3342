package sequencer

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Block is a sequenced batch of raw transactions.
type Block struct {
	Height  uint64      `json:"height"`
	Parent  common.Hash `json:"parent"`
	Time    time.Time   `json:"time"`
	Payload []byte      `json:"payload"`
	TxCount int         `json:"tx_count"`
	// AppHash is the application state after executing this block. It is
	// not part of the block hash: it is only known after execution.
	AppHash common.Hash `json:"app_hash"`
}

// Hash commits to height, parent, payload and time.
func (b Block) Hash() common.Hash {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], b.Height)
	binary.BigEndian.PutUint64(buf[8:16], uint64(b.Time.Unix()))
	binary.BigEndian.PutUint64(buf[16:24], uint64(b.TxCount))
	return crypto.Keccak256Hash(buf[:], b.Parent[:], b.Payload)
}

// BlockStore persists sequenced blocks (impl in pkg/storage).
type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(height uint64) (Block, bool, error)
	LastBlock() (Block, bool, error)
}
