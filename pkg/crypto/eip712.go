package crypto

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// VerifyingContract is the exchange custody address so that a call signed for
// one deployment cannot be replayed against another.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the local development domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "DexLedger",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// ExchangeCall is the typed message a user signs to invoke one exchange
// operation. Fields an action does not use are left zero.
type ExchangeCall struct {
	Action     string
	Token      common.Address
	Amount     *uint256.Int
	TokenBuy   common.Address
	AmountBuy  *uint256.Int
	TokenSell  common.Address
	AmountSell *uint256.Int
	OrderID    uint64
	Spender    common.Address
	Nonce      uint64
	From       common.Address
}

var exchangeCallTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"ExchangeCall": []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "tokenBuy", Type: "address"},
		{Name: "amountBuy", Type: "uint256"},
		{Name: "tokenSell", Type: "address"},
		{Name: "amountSell", Type: "uint256"},
		{Name: "orderId", Type: "uint256"},
		{Name: "spender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "from", Type: "address"},
	},
}

// EIP712Signer hashes, signs and verifies ExchangeCalls under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// Domain returns the signing domain
func (e *EIP712Signer) Domain() EIP712Domain {
	return e.domain
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// TypedData builds the eth_signTypedData_v4 payload for a call.
// Wallets can sign the JSON encoding of the result directly.
func (e *EIP712Signer) TypedData(call *ExchangeCall) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       exchangeCallTypes,
		PrimaryType: "ExchangeCall",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":     call.Action,
			"token":      call.Token.Hex(),
			"amount":     decString(call.Amount),
			"tokenBuy":   call.TokenBuy.Hex(),
			"amountBuy":  decString(call.AmountBuy),
			"tokenSell":  call.TokenSell.Hex(),
			"amountSell": decString(call.AmountSell),
			"orderId":    strconv.FormatUint(call.OrderID, 10),
			"spender":    call.Spender.Hex(),
			"nonce":      strconv.FormatUint(call.Nonce, 10),
			"from":       call.From.Hex(),
		},
	}
}

// HashCall returns the EIP-712 digest of a call:
// keccak256("\x19\x01" || domainSeparator || hashStruct(call))
func (e *EIP712Signer) HashCall(call *ExchangeCall) ([]byte, error) {
	typedData := e.TypedData(call)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := make([]byte, 0, 66)
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, messageHash...)
	return crypto.Keccak256(rawData), nil
}

// SignCall signs a call with the given key
func (e *EIP712Signer) SignCall(signer *Signer, call *ExchangeCall) ([]byte, error) {
	hash, err := e.HashCall(call)
	if err != nil {
		return nil, fmt.Errorf("failed to hash call: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign call: %w", err)
	}
	return signature, nil
}

// RecoverCallSigner recovers the address that signed a call
func (e *EIP712Signer) RecoverCallSigner(call *ExchangeCall, signature []byte) (common.Address, error) {
	hash, err := e.HashCall(call)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash call: %w", err)
	}
	return RecoverAddress(hash, signature)
}
