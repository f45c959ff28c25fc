package zpay32

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// testPrivKey returns a fixed secp256k1 private key so test vectors are
// reproducible across runs.
func testPrivKey(t *testing.T) *btcec.PrivateKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv
}

func testSigner(priv *btcec.PrivateKey) MessageSigner {
	return PrivKeySigner(priv)
}

func mustHash(b byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = b
	}
	return h
}

func TestInvoiceRoundTripDescription(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(1), mustHash(2), ts,
		Description("Please consider supporting this project"),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)
	require.True(t, signed.Complete)
	require.True(t, strings.HasPrefix(signed.PaymentRequest, "lnbc1"))

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)

	require.Equal(t, ts.Unix(), decoded.Timestamp.Unix())
	require.Equal(t, mustHash(1), *decoded.PaymentHash())
	require.Equal(t, mustHash(2), *decoded.PaymentSecret())
	require.Equal(t, "Please consider supporting this project", *decoded.Description())
	require.Nil(t, decoded.MilliSat)
	require.Equal(t,
		priv.PubKey().SerializeCompressed(),
		decoded.PayeeNodeKey.SerializeCompressed())
}

func TestInvoiceRoundTripAmountAndUTF8Description(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(3), mustHash(4), ts,
		Amount(250000000),
		Description("ナンセンス 1杯"),
		Expiry(60*time.Second),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed.PaymentRequest, "lnbc2500u1"))

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)
	require.Equal(t, MilliSatoshi(250000000), *decoded.MilliSat)
	require.Equal(t, uint64(250000), *decoded.Satoshis())
	require.Equal(t, "ナンセンス 1杯", *decoded.Description())
	require.Equal(t, 60*time.Second, decoded.Expiry())
}

func TestInvoiceDescriptionHash(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	descHash := mustHash(42)
	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(5), mustHash(6), ts,
		Amount(2000000000),
		DescriptionHash(descHash),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)
	require.Nil(t, decoded.Description())
	require.Equal(t, descHash, *decoded.DescriptionHash())
}

func TestInvoiceRequiresDescriptionOrHash(t *testing.T) {
	_, err := NewInvoice(NetworkBitcoin, mustHash(1), mustHash(2), time.Now())
	require.Error(t, err)
}

func TestInvoiceTestnetFallbackAddress(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	hash := make([]byte, 20)
	for i := range hash {
		hash[i] = byte(i)
	}

	invoice, err := NewInvoice(
		NetworkTestnet, mustHash(7), mustHash(8), ts,
		Description("On-chain fallback"),
		FallbackAddr(17, hash),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed.PaymentRequest, "lntb1"))

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)

	fb := decoded.FallbackAddress()
	require.NotNil(t, fb)
	require.EqualValues(t, 17, fb.Version)
	require.Equal(t, hash, fb.Hash)
}

func TestInvoiceRouteHints(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	hopKey1 := testPrivKey(t).PubKey()
	hopKey2 := priv.PubKey()

	hints1 := []RouteHop{{
		PubKey:                    hopKey1,
		ShortChannelID:            0x0102030405060708,
		FeeBaseMsat:               1,
		FeeProportionalMillionths: 20,
		CLTVExpiryDelta:           3,
	}}
	hints2 := []RouteHop{{
		PubKey:                    hopKey2,
		ShortChannelID:            0x030405060708090a,
		FeeBaseMsat:               2,
		FeeProportionalMillionths: 30,
		CLTVExpiryDelta:           4,
	}}

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(9), mustHash(10), ts,
		Description("two hints"),
		RouteHint(hints1),
		RouteHint(hints2),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)

	allHints := decoded.RouteHints()
	require.Len(t, allHints, 2)
	require.Len(t, allHints[0], 1)
	require.Equal(t, uint64(0x0102030405060708), allHints[0][0].ShortChannelID)
	require.Equal(t, uint64(0x030405060708090a), allHints[1][0].ShortChannelID)
}

func TestInvoiceFeatureBits(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	fb := NewFeatureBits()
	fb.SetOptional(FeatureVarOnionOptin)
	fb.SetOptional(FeaturePaymentSecret)
	fb.SetExtra(99)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(11), mustHash(12), ts,
		Description("coffee beans"),
		Features(fb),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)

	decodedFB := decoded.FeatureBits()
	require.NotNil(t, decodedFB)
	require.True(t, decodedFB.IsOptional(FeatureVarOnionOptin))
	require.True(t, decodedFB.IsOptional(FeaturePaymentSecret))
	require.True(t, decodedFB.IsSet(99))
}

func TestInvoiceUppercaseDecodesIdentically(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	fb := NewFeatureBits()
	fb.SetOptional(FeatureVarOnionOptin)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(13), mustHash(14), ts,
		Description("coffee beans"),
		Features(fb),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)

	lower, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)

	upper, err := Decode(strings.ToUpper(signed.PaymentRequest))
	require.NoError(t, err)

	require.Equal(t, lower.Timestamp, upper.Timestamp)
	require.Equal(t, *lower.PaymentHash(), *upper.PaymentHash())
	require.Equal(t,
		lower.PayeeNodeKey.SerializeCompressed(),
		upper.PayeeNodeKey.SerializeCompressed())
}

func TestInvoiceMetadata(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(15), mustHash(16), ts,
		Amount(100000000000),
		Description("payment metadata inside"),
		Metadata([]byte{0x01, 0xfa, 0xfa, 0xf0}),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed.PaymentRequest, "lnbc1000m1"))

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0xfa, 0xfa, 0xf0}, decoded.Metadata())
}

func TestInvoicePicoAmountAndMinFinalCLTV(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(17), mustHash(18), ts,
		Amount(967878534),
		Description("pico amount"),
		CLTVExpiry(10),
		RouteHint([]RouteHop{{
			PubKey:                    priv.PubKey(),
			ShortChannelID:            1,
			FeeBaseMsat:               1,
			FeeProportionalMillionths: 1,
			CLTVExpiryDelta:           1,
		}}),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)
	require.Equal(t, MilliSatoshi(967878534), *decoded.MilliSat)
	require.Nil(t, decoded.Satoshis())
	require.Equal(t, uint64(10), decoded.MinFinalCLTVExpiry())
}

// TestInvoiceHighSSignatureRecovers simulates a historical invoice signed
// with a high-S signature and the recovery flag matching that form:
// recoverPubKey must still return the signer's key.
func TestInvoiceHighSSignatureRecovers(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(19), mustHash(20), ts,
		Description("high-s"),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)

	// Flip the signature into its high-S form and its matching recovery
	// flag parity, exactly as a pre-BIP-62 signer might have emitted.
	var s btcec.ModNScalar
	s.SetByteSlice(signed.Signature[32:])
	s.Negate()

	var highS [64]byte
	copy(highS[:32], signed.Signature[:32])
	var sBytes [32]byte
	s.PutBytesUnchecked(sBytes[:])
	copy(highS[32:], sBytes[:])

	digest, err := signingDigest(signed.Prefix, func() []byte {
		data, _ := signed.dataWords()
		return data
	}())
	require.NoError(t, err)

	recovered, err := recoverPubKey(digest, highS, signed.RecoveryFlag^1)
	require.NoError(t, err)
	require.Equal(t,
		priv.PubKey().SerializeCompressed(),
		recovered.SerializeCompressed())
}

func TestInvoiceUnknownTagSkipped(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(21), mustHash(22), ts,
		Description("unknown tag tolerance"),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)

	data, err := signed.dataWords()
	require.NoError(t, err)

	// Splice an unknown-type-code tag (type 31, two words of payload)
	// into the middle of the tag stream.
	unknown := []byte{31, 0, 2, 5, 5}
	spliced := append(append(append([]byte{}, data[:timestampWordLen]...), unknown...), data[timestampWordLen:]...)

	tags, err := decodeTags(spliced[timestampWordLen:])
	require.NoError(t, err)

	var gotDesc bool
	for _, tag := range tags {
		if tag.Type == TagDescription {
			gotDesc = true
			require.Equal(t, "unknown tag tolerance", *tag.Description)
		}
	}
	require.True(t, gotDesc)
}

func TestInvoiceExpiryTimeSaturates(t *testing.T) {
	invoice := &Invoice{
		Timestamp: time.Unix(1<<62, 0),
		Tags: []Tag{
			TagExpiryValue(1 << 62),
		},
	}
	expiry := invoice.ExpiryTime()
	require.False(t, expiry.IsZero())
}

func TestInvoiceExplicitPayeeMustMatchSignerOnSign(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	wrongKey, _ := btcec.NewPrivateKey()
	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(23), mustHash(24), ts,
		Description("mismatched payee"),
		Destination(wrongKey.PubKey()),
	)
	require.NoError(t, err)

	_, err = invoice.Sign(testSigner(priv))
	require.Error(t, err)
}

// TestSignProducesLowS verifies the BIP-62 low-S guarantee on every
// signature this package produces.
func TestSignProducesLowS(t *testing.T) {
	priv := testPrivKey(t)

	for i := byte(0); i < 8; i++ {
		invoice, err := NewInvoice(
			NetworkBitcoin, mustHash(40+i), mustHash(50+i),
			time.Unix(1496314658+int64(i), 0),
			Description("low-s"),
		)
		require.NoError(t, err)

		signed, err := invoice.Sign(testSigner(priv))
		require.NoError(t, err)

		var s btcec.ModNScalar
		overflow := s.SetByteSlice(signed.Signature[32:])
		require.False(t, overflow)
		require.False(t, s.IsOverHalfOrder())
	}
}

func TestDecodeErrorKinds(t *testing.T) {
	unknownNet, err := bech32Encode("lnxx", make([]byte, timestampWordLen+sigWordLen))
	require.NoError(t, err)

	tooShort, err := bech32Encode("lnbc", make([]byte, 10))
	require.NoError(t, err)

	// A single substituted character is always caught by the checksum.
	corrupted := []byte(tooShort)
	if corrupted[len(corrupted)-1] == 'q' {
		corrupted[len(corrupted)-1] = 'p'
	} else {
		corrupted[len(corrupted)-1] = 'q'
	}

	tests := []struct {
		name    string
		request string
		kind    ErrorKind
	}{
		{"no separator", "lnbc", ErrInvalidInvoice},
		{"empty hrp", "1pvjluez", ErrInvalidInvoice},
		{"checksum too short", "lnbc1abc", ErrInvalidChecksum},
		{"corrupted checksum", string(corrupted), ErrInvalidChecksum},
		{"missing ln prefix", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", ErrUnsupportedNetwork},
		{"unknown network", unknownNet, ErrUnsupportedNetwork},
		{"data too short for signature", tooShort, ErrInvalidInvoice},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.request)
			require.Error(t, err)

			var zerr *Error
			require.True(t, errors.As(err, &zerr))
			require.Equal(t, tc.kind, zerr.Kind)
		})
	}
}

// TestInvoiceZeroAmountRoundTrip distinguishes an explicit zero amount
// ("0m" suffix) from no amount at all (no suffix): both must survive a
// sign-then-decode round-trip unchanged.
func TestInvoiceZeroAmountRoundTrip(t *testing.T) {
	priv := testPrivKey(t)
	ts := time.Unix(1496314658, 0)

	invoice, err := NewInvoice(
		NetworkBitcoin, mustHash(25), mustHash(26), ts,
		Amount(0),
		Description("zero amount"),
	)
	require.NoError(t, err)

	signed, err := invoice.Sign(testSigner(priv))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed.PaymentRequest, "lnbc0m1"))

	decoded, err := Decode(signed.PaymentRequest)
	require.NoError(t, err)
	require.NotNil(t, decoded.MilliSat)
	require.Equal(t, MilliSatoshi(0), *decoded.MilliSat)
	require.Equal(t, uint64(0), *decoded.Satoshis())
}

func TestSignRejectsOutOfRangeTimestamp(t *testing.T) {
	priv := testPrivKey(t)

	for _, ts := range []time.Time{
		{},                     // zero value, pre-1970
		time.Unix(-1, 0),       // negative Unix seconds
		time.Unix(1<<35, 0),    // one past the 35-bit field
		time.Unix(1<<40, 100), // far past it
	} {
		invoice, err := NewInvoice(
			NetworkBitcoin, mustHash(27), mustHash(28), ts,
			Description("bad timestamp"),
		)
		require.NoError(t, err)

		_, err = invoice.Sign(testSigner(priv))
		require.Error(t, err)

		var zerr *Error
		require.True(t, errors.As(err, &zerr))
		require.Equal(t, ErrInvalidInvoice, zerr.Kind)
	}
}
