package zpay32

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// MessageSigner is passed to Sign to provide a signature corresponding
// to the node's own private key. Mirrors the compact-signature interface
// the rest of the btcsuite stack exposes, so callers backed by a remote
// signer (HSM, hardware wallet) can implement it without depending on
// this package's internals.
type MessageSigner struct {
	// SignCompact signs the passed hash and returns the 64-byte r||s
	// signature together with the recovery flag that lets a reader
	// recover the node's compressed public key from it.
	SignCompact func(hash []byte) (sig [64]byte, recoveryFlag byte, err error)
}

// PrivKeySigner returns a MessageSigner backed by a local private key.
func PrivKeySigner(priv *btcec.PrivateKey) MessageSigner {
	return MessageSigner{
		SignCompact: func(hash []byte) ([64]byte, byte, error) {
			return signWithPrivKey(priv, hash)
		},
	}
}

// signingDigest computes the SHA-256 preimage an invoice's signature is
// computed over: the HRP bytes concatenated with the zero-padded byte
// form of the timestamp+tag word stream.
func signingDigest(hrp string, dataWords []byte) ([]byte, error) {
	dataBytes, err := wordsToBytesPadded(dataWords)
	if err != nil {
		return nil, err
	}
	preimage := append([]byte(hrp), dataBytes...)
	sum := sha256.Sum256(preimage)
	return sum[:], nil
}

// signWithPrivKey produces a low-S signature over hash using priv,
// together with the 2-bit recovery flag that lets a reader recover
// priv's compressed public key from (hash, r, s, flag). The nonce is
// derived deterministically per RFC 6979 by the underlying ecdsa.Sign
// call.
func signWithPrivKey(priv *btcec.PrivateKey, hash []byte) (sig [64]byte, recoveryFlag byte, err error) {
	rawSig := ecdsa.Sign(priv, hash)

	r, s := signatureRS(rawSig)
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	var rBytes, sBytes [32]byte
	r.PutBytesUnchecked(rBytes[:])
	s.PutBytesUnchecked(sBytes[:])
	copy(sig[:32], rBytes[:])
	copy(sig[32:], sBytes[:])

	pubKeyBytes := priv.PubKey().SerializeCompressed()

	compact := make([]byte, 65)
	copy(compact[1:33], rBytes[:])
	copy(compact[33:], sBytes[:])
	for flag := byte(0); flag < 4; flag++ {
		compact[0] = 27 + 4 + flag
		candidate, _, rerr := ecdsa.RecoverCompact(compact, hash)
		if rerr != nil {
			continue
		}
		if bytesEqual(candidate.SerializeCompressed(), pubKeyBytes) {
			return sig, flag, nil
		}
	}

	return sig, 0, newErr(ErrInvalidSignature,
		"unable to determine recovery flag for any of the 4 candidates")
}

// recoverPubKey recovers the compressed public key from an invoice's
// digest and its (r, s, recoveryFlag) signature. Historical invoices may
// carry a high-S signature; if recovery fails for the flag as stored, we
// retry with the flag's parity flipped, then with the signature
// normalized to low-S and the original flag, accepting the first
// candidate that recovers successfully.
func recoverPubKey(hash []byte, sig [64]byte, recoveryFlag byte) (*btcec.PublicKey, error) {
	if pub, err := tryRecover(hash, sig, recoveryFlag); err == nil {
		return pub, nil
	}

	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return nil, newErr(ErrInvalidSignature, "signature s value overflows")
	}

	if !s.IsOverHalfOrder() {
		return nil, newErr(ErrInvalidSignature,
			"unable to recover public key from signature")
	}

	if pub, err := tryRecover(hash, sig, recoveryFlag^1); err == nil {
		return pub, nil
	}

	s.Negate()
	var normalized [64]byte
	copy(normalized[:32], sig[:32])
	var sBytes [32]byte
	s.PutBytesUnchecked(sBytes[:])
	copy(normalized[32:], sBytes[:])

	pub, err := tryRecover(hash, normalized, recoveryFlag)
	if err != nil {
		return nil, newErr(ErrInvalidSignature,
			"unable to recover public key from high-S signature")
	}
	return pub, nil
}

func tryRecover(hash []byte, sig [64]byte, recoveryFlag byte) (*btcec.PublicKey, error) {
	compact := make([]byte, 65)
	compact[0] = 27 + 4 + recoveryFlag
	copy(compact[1:33], sig[:32])
	copy(compact[33:], sig[32:])

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// signatureRS extracts the (r, s) scalars from a DER-serialized ECDSA
// signature produced by ecdsa.Sign.
func signatureRS(sig *ecdsa.Signature) (*btcec.ModNScalar, *btcec.ModNScalar) {
	der := sig.Serialize()

	// DER: 0x30 len 0x02 rLen r... 0x02 sLen s...
	offset := 2
	offset++ // skip 0x02
	rLen := int(der[offset])
	offset++
	rBytes := der[offset : offset+rLen]
	offset += rLen

	offset++ // skip 0x02
	sLen := int(der[offset])
	offset++
	sBytes := der[offset : offset+sLen]

	if len(rBytes) == 33 && rBytes[0] == 0 {
		rBytes = rBytes[1:]
	}
	if len(sBytes) == 33 && sBytes[0] == 0 {
		sBytes = sBytes[1:]
	}

	var rPadded, sPadded [32]byte
	copy(rPadded[32-len(rBytes):], rBytes)
	copy(sPadded[32-len(sBytes):], sBytes)

	r, s := new(btcec.ModNScalar), new(btcec.ModNScalar)
	r.SetByteSlice(rPadded[:])
	s.SetByteSlice(sPadded[:])
	return r, s
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
