package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexledger/pkg/crypto"
)

// ErrSignerMismatch is returned when the recovered signer is not call.from.
var ErrSignerMismatch = errors.New("signature does not match from address")

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify recovers the signer of tx and checks it is the declared sender.
// Returns the typed call and the authenticated caller.
func (v *Verifier) Verify(tx *SignedTransaction) (*crypto.ExchangeCall, common.Address, error) {
	if tx.Call == nil {
		return nil, common.Address{}, fmt.Errorf("missing call payload")
	}

	call, err := tx.Call.ToExchangeCall()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid call format: %w", err)
	}

	sigBytes, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}

	signer, err := v.eip712Signer.RecoverCallSigner(call, sigBytes)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if signer != call.From {
		return nil, common.Address{}, fmt.Errorf("%w: recovered %s, from %s", ErrSignerMismatch, signer.Hex(), call.From.Hex())
	}
	return call, signer, nil
}

// Sign builds a signed envelope for call. Used by the sign-tx CLI and tests.
func (v *Verifier) Sign(signer *crypto.Signer, call *crypto.ExchangeCall) (*SignedTransaction, error) {
	sig, err := v.eip712Signer.SignCall(signer, call)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Call:      FromExchangeCall(call),
		Signature: crypto.EncodeSignature(sig),
	}, nil
}
