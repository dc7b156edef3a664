package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestAddressEncodeDecodeRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i)
	}
	addr := NewAddress(CLMPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(CLMPrefix)) {
		t.Fatalf("encoded address %q lacks prefix %q", encoded, CLMPrefix)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != CLMPrefix {
		t.Fatalf("prefix = %q", decoded.Prefix())
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("bytes = %x, want %x", decoded.Bytes(), raw)
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "nope", "clm1zzzzzzzzz"} {
		if _, err := DecodeAddress(bad); err == nil {
			t.Fatalf("decoded %q without error", bad)
		}
	}
}

func TestDecodeAddressRejectsWrongPayloadLength(t *testing.T) {
	// Well-formed bech32 with a payload that is not 20 bytes must come
	// back as an error, not a panic, since RPC fields feed this path.
	for _, payload := range [][]byte{
		{1, 2, 3, 4, 5},
		make([]byte, 32),
	} {
		conv, err := bech32.ConvertBits(payload, 8, 5, true)
		if err != nil {
			t.Fatalf("convert bits: %v", err)
		}
		encoded, err := bech32.Encode(string(CLMPrefix), conv)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := DecodeAddress(encoded); err == nil {
			t.Fatalf("decoded %d-byte payload without error", len(payload))
		}
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("restored key derives a different address")
	}
}

func TestSignRecoversSigner(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := ethcrypto.Keccak256([]byte("claim-market test message"))
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub).Bytes()
	if !bytes.Equal(recovered, key.PubKey().Address().Bytes()) {
		t.Fatalf("recovered %x, want %x", recovered, key.PubKey().Address().Bytes())
	}
	if _, err := key.Sign([]byte("short")); err == nil {
		t.Fatalf("non-digest input accepted")
	}
}
