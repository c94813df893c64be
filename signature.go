package htip

import (
	"crypto/ed25519"
	"fmt"
)

// Sign produces a detached Ed25519 signature over payload. There is no
// hashing prefix beyond Ed25519's own (§6): the whole payload (header,
// tables and opcode stream) is signed directly.
func Sign(priv ed25519.PrivateKey, payload []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("htip: signing key has wrong size %d", len(priv))
	}
	return ed25519.Sign(priv, payload), nil
}

// Detach splits a stream into its detached signature and payload. It only
// checks length, not validity; call Verify (or decode with a verify key)
// to check the signature itself.
func Detach(stream []byte) (signature, payload []byte, err error) {
	if len(stream) < SignatureSize {
		return nil, nil, ErrBufferTooSmall
	}
	return stream[:SignatureSize], stream[SignatureSize:], nil
}

// Verify checks that signature is a valid Ed25519 signature over payload
// under pub. Verification failure is fatal and maps to
// ErrInvalidSignature; no further decoding of payload should occur when
// it returns that error (§4.6, §7).
func Verify(pub ed25519.PublicKey, payload, signature []byte) error {
	if len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if len(pub) != ed25519.PublicKeySize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, payload, signature) {
		return ErrInvalidSignature
	}
	return nil
}
