package storage

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
)

// WAL records every transaction admitted to the mempool, one per line.
type WAL interface {
	Append(tx []byte) error
}

type NopWAL struct{}

func NewNopWAL() *NopWAL                { return &NopWAL{} }
func (w *NopWAL) Append(_ []byte) error { return nil }

// FileWAL appends hex-encoded transactions to a file.
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(tx []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintln(w.f, hex.EncodeToString(tx)); err != nil {
		return fmt.Errorf("failed to append to wal: %w", err)
	}
	return nil
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadWAL returns the transactions stored in a WAL file, oldest first.
// A missing file reads as empty.
func ReadWAL(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}
	defer f.Close()

	var out [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		tx, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("wal line %d: %w", line, err)
		}
		out = append(out, tx)
	}
	return out, sc.Err()
}

var _ WAL = (*NopWAL)(nil)
var _ WAL = (*FileWAL)(nil)
