package abci

import (
	"bytes"
	"errors"
	"testing"
)

func TestPayloadFraming(t *testing.T) {
	txs := [][]byte{
		[]byte(`{"call":{"action":"deposit_ether"}}`),
		{},
		{0x00, 0x01, 0x00},
		bytes.Repeat([]byte("x"), 300),
	}
	got, err := DecodePayload(EncodePayload(txs))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(txs) {
		t.Fatalf("len = %d, want %d", len(got), len(txs))
	}
	for i := range txs {
		if !bytes.Equal(got[i], txs[i]) {
			t.Errorf("tx %d = %q, want %q", i, got[i], txs[i])
		}
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	got, err := DecodePayload(nil)
	if err != nil || got != nil {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	p := EncodePayload([][]byte{[]byte("hello")})
	if _, err := DecodePayload(p[:len(p)-1]); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("err = %v, want ErrMalformedPayload", err)
	}
	if _, err := DecodePayload([]byte{0x80}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("err = %v, want ErrMalformedPayload", err)
	}
}
