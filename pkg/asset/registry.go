package asset

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps token addresses to tokens in a thread-safe manner.
// The native coin is never registered; it is addressed by NativeID.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

// NewRegistry creates an empty token registry
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[common.Address]Token),
	}
}

// Register adds a token under addr.
// Returns error for the native id, a nil token, or a duplicate address.
func (r *Registry) Register(addr common.Address, t Token) error {
	if t == nil {
		return fmt.Errorf("cannot register nil token")
	}
	if addr == NativeID {
		return fmt.Errorf("cannot register a token at the native asset id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[addr]; exists {
		return fmt.Errorf("token %s already registered", addr.Hex())
	}

	r.tokens[addr] = t
	return nil
}

// Get retrieves a token by address
func (r *Registry) Get(addr common.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tokens[addr]
	if !exists {
		return nil, fmt.Errorf("token %s not found", addr.Hex())
	}
	return t, nil
}

// Addresses returns every registered token address in ascending order
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, len(r.tokens))
	for a := range r.tokens {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Count returns the number of registered tokens
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
