package zpay32

import (
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
)

// Network identifies which chain an invoice is meant for. Unlike the
// generic segwit HRP chaincfg.Params.Bech32HRPSegwit carries, BOLT 11
// assigns signet its own lightning-specific prefix ("tbs") distinct from
// its on-chain address prefix ("tb", shared with testnet); we therefore
// keep our own prefix table rather than reusing Bech32HRPSegwit.
type Network int

const (
	NetworkBitcoin Network = iota
	NetworkTestnet
	NetworkSignet
	NetworkRegtest
)

// netPrefixes is consulted longest-prefix-first on decode, so "bcrt"
// matches before "bc" and "tbs" matches before "tb".
var netPrefixes = []struct {
	prefix  string
	network Network
}{
	{"bcrt", NetworkRegtest},
	{"tbs", NetworkSignet},
	{"bc", NetworkBitcoin},
	{"tb", NetworkTestnet},
}

func (n Network) prefix() string {
	for _, np := range netPrefixes {
		if np.network == n {
			return np.prefix
		}
	}
	return ""
}

// Params returns the chaincfg.Params describing this network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case NetworkBitcoin:
		return &chaincfg.MainNetParams
	case NetworkTestnet:
		return &chaincfg.TestNet3Params
	case NetworkSignet:
		return &chaincfg.SigNetParams
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return nil
	}
}

const (
	// defaultExpirySeconds is used when no expiry tag is present.
	defaultExpirySeconds = 3600

	// defaultMinFinalCLTVExpiry is used when no min_final_cltv_expiry
	// tag is present.
	defaultMinFinalCLTVExpiry = 18

	timestampWordLen = 7
	sigWordLen       = 104
	sigBodyWordLen   = 103
)

// Invoice is an immutable decoded-or-to-be-encoded BOLT 11 payment
// request. "Mutation" (e.g. attaching a signature) is always implemented
// as a structural copy; see Sign.
type Invoice struct {
	// Complete reports whether Signature/RecoveryFlag/PayeeNodeKey/
	// PaymentRequest are populated.
	Complete bool

	// Prefix is the full human-readable part, e.g. "lnbc2500u".
	Prefix string

	Net *chaincfg.Params

	// MilliSat is the invoice amount, or nil if unspecified.
	MilliSat *MilliSatoshi

	Timestamp time.Time

	// Tags preserves the exact order tags were supplied or decoded in.
	Tags []Tag

	Signature    [64]byte
	RecoveryFlag byte

	// PayeeNodeKey is either recovered from the signature, or copied
	// from an explicit payee tag (which always wins over recovery).
	PayeeNodeKey *btcec.PublicKey

	// PaymentRequest is the full bech32 string, populated once signed.
	PaymentRequest string
}

// invoiceOption mutates an in-progress Invoice during NewInvoice.
type invoiceOption func(*Invoice)

// Amount sets the invoice's millisatoshi amount.
func Amount(msat MilliSatoshi) invoiceOption {
	return func(i *Invoice) { i.MilliSat = &msat }
}

// Description sets a plain-text payment description.
//
// NOTE: must not be combined with DescriptionHash.
func Description(desc string) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagDescriptionValue(desc))
	}
}

// DescriptionHash sets a SHA-256 hash of an out-of-band description.
//
// NOTE: must not be combined with Description.
func DescriptionHash(hash [32]byte) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagDescriptionHashValue(hash))
	}
}

// Destination explicitly sets the payee's pubkey as an 'n' tag. If
// omitted, readers recover the pubkey from the signature instead.
func Destination(pubKey *btcec.PublicKey) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagPayeeValue(pubKey))
	}
}

// Expiry sets how long the invoice remains valid for. If omitted, a
// default of 3600 seconds applies.
func Expiry(expiry time.Duration) invoiceOption {
	return func(i *Invoice) {
		secs := uint64(expiry / time.Second)
		i.Tags = append(i.Tags, TagExpiryValue(secs))
	}
}

// CLTVExpiry sets the minimum final CLTV expiry delta the payee
// requires. If omitted, a default of 18 applies.
func CLTVExpiry(delta uint64) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagMinFinalCLTVExpiryValue(delta))
	}
}

// FallbackAddr sets an on-chain fallback payload the payer may fall back
// to if the Lightning payment fails.
func FallbackAddr(version byte, hash []byte) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagFallbackAddressValue(version, hash))
	}
}

// RouteHint adds one private-route advisory to the invoice. Call
// multiple times to advertise multiple alternative routes.
func RouteHint(hops []RouteHop) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagRouteHintValue(hops))
	}
}

// Metadata attaches opaque payment metadata.
func Metadata(data []byte) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagMetadataValue(data))
	}
}

// Features attaches a feature_bits tag.
func Features(fb *FeatureBits) invoiceOption {
	return func(i *Invoice) {
		i.Tags = append(i.Tags, TagFeatureBitsValue(fb))
	}
}

// NewInvoice builds an unsigned Invoice. paymentHash and paymentSecret
// are mandatory, as is at least one of the Description/DescriptionHash
// options.
func NewInvoice(net Network, paymentHash [32]byte, paymentSecret [32]byte,
	timestamp time.Time, options ...invoiceOption) (*Invoice, error) {

	invoice := &Invoice{
		Net:       net.Params(),
		Timestamp: timestamp,
		Tags: []Tag{
			TagPaymentHashValue(paymentHash),
			TagPaymentSecretValue(paymentSecret),
		},
	}
	for _, option := range options {
		option(invoice)
	}
	invoice.Prefix = invoice.hrp(net)

	if err := validateRequiredTags(invoice.Tags); err != nil {
		return nil, err
	}

	return invoice, nil
}

func validateRequiredTags(tags []Tag) error {
	var haveHash, haveSecret, haveDesc, haveDescHash bool
	for _, t := range tags {
		switch t.Type {
		case TagPaymentHash:
			haveHash = true
		case TagPaymentSecret:
			haveSecret = true
		case TagDescription:
			haveDesc = true
		case TagDescriptionHash:
			haveDescHash = true
		}
	}

	if !haveHash {
		return newErr(ErrInvalidInvoice, "no payment_hash tag present")
	}
	if !haveSecret {
		return newErr(ErrInvalidInvoice, "no payment_secret tag present")
	}
	if !haveDesc && !haveDescHash {
		return newErr(ErrInvalidInvoice,
			"neither description nor description_hash present")
	}

	return nil
}

// dataWords builds the timestamp+tag word stream (everything before the
// signature region).
func (invoice *Invoice) dataWords() ([]byte, error) {
	ts := invoice.Timestamp.Unix()
	if ts < 0 || ts >= 1<<(5*timestampWordLen) {
		return nil, newErr(ErrInvalidInvoice,
			"timestamp %d does not fit in %d bits", ts,
			5*timestampWordLen)
	}
	tsWords := intToWordsFixed(uint64(ts), timestampWordLen)

	tagWords, err := encodeTags(invoice.Tags)
	if err != nil {
		return nil, err
	}

	return append(tsWords, tagWords...), nil
}

// hrp builds the human-readable part: "ln" + network prefix + optional
// amount suffix.
func (invoice *Invoice) hrp(network Network) string {
	hrp := "ln" + network.prefix()
	if invoice.MilliSat != nil {
		hrp += MsatToPrefix(*invoice.MilliSat)
	}
	return hrp
}

func networkOf(net *chaincfg.Params) Network {
	switch net {
	case &chaincfg.MainNetParams:
		return NetworkBitcoin
	case &chaincfg.TestNet3Params:
		return NetworkTestnet
	case &chaincfg.SigNetParams:
		return NetworkSignet
	case &chaincfg.RegressionNetParams:
		return NetworkRegtest
	default:
		return NetworkBitcoin
	}
}

// Sign signs the invoice with the given signer and returns a new,
// complete Invoice with Signature, RecoveryFlag, PayeeNodeKey and
// PaymentRequest populated. The receiver is left unmodified.
func (invoice *Invoice) Sign(signer MessageSigner) (*Invoice, error) {
	if err := validateRequiredTags(invoice.Tags); err != nil {
		return nil, err
	}

	network := networkOf(invoice.Net)
	hrp := invoice.hrp(network)

	data, err := invoice.dataWords()
	if err != nil {
		return nil, err
	}

	digest, err := signingDigest(hrp, data)
	if err != nil {
		return nil, err
	}

	sigBytes, recoveryFlag, err := signer.SignCompact(digest)
	if err != nil {
		return nil, wrapErr(ErrInvalidSignature, err, "signing failed")
	}

	payeeKey, err := recoverPubKey(digest, sigBytes, recoveryFlag)
	if err != nil {
		return nil, err
	}

	// If the caller explicitly set a payee tag, it must match the key
	// that produced the signature.
	if explicit := firstTag(invoice.Tags, TagPayee); explicit != nil {
		if !bytesEqual(explicit.Payee.SerializeCompressed(),
			payeeKey.SerializeCompressed()) {

			return nil, newErr(ErrInvalidSignature,
				"signature does not match explicit payee tag")
		}
		payeeKey = explicit.Payee
	}

	sigWords, err := bytesToWords(sigBytes[:])
	if err != nil {
		return nil, err
	}
	for len(sigWords) < sigBodyWordLen {
		sigWords = append(sigWords, 0)
	}
	sigWords = append(sigWords, recoveryFlag)

	fullData := append(append([]byte{}, data...), sigWords...)

	paymentRequest, err := bech32Encode(hrp, fullData)
	if err != nil {
		return nil, err
	}

	signed := *invoice
	signed.Prefix = hrp
	signed.Complete = true
	signed.Signature = sigBytes
	signed.RecoveryFlag = recoveryFlag
	signed.PayeeNodeKey = payeeKey
	signed.PaymentRequest = paymentRequest

	return &signed, nil
}

// Decode parses an encoded payment request string into a complete
// Invoice.
func Decode(paymentRequest string) (*Invoice, error) {
	hrp, words, err := bech32Decode(paymentRequest)
	if err != nil {
		return nil, err
	}

	if len(hrp) < 2 || hrp[:2] != "ln" {
		return nil, newErr(ErrUnsupportedNetwork,
			"hrp %q does not start with \"ln\"", hrp)
	}
	rest := hrp[2:]

	var (
		network   Network
		matched   bool
		amountStr string
	)
	for _, np := range netPrefixes {
		if strings.HasPrefix(rest, np.prefix) {
			network = np.network
			matched = true
			amountStr = rest[len(np.prefix):]
			break
		}
	}
	if !matched {
		return nil, newErr(ErrUnsupportedNetwork,
			"unknown network prefix in hrp %q", hrp)
	}

	var milliSat *MilliSatoshi
	if amountStr != "" {
		msat, err := PrefixToMsat(amountStr)
		if err != nil {
			return nil, err
		}
		milliSat = &msat
	}

	if len(words) < timestampWordLen+sigWordLen {
		return nil, newErr(ErrInvalidInvoice,
			"data part too short: %d words", len(words))
	}

	data := words[:len(words)-sigWordLen]
	sigWords := words[len(words)-sigWordLen:]

	timestamp, err := wordsToInt(data[:timestampWordLen])
	if err != nil {
		return nil, err
	}

	tags, err := decodeTags(data[timestampWordLen:])
	if err != nil {
		return nil, err
	}

	sigBytes64, err := wordsToBytesTrim(sigWords[:sigBodyWordLen])
	if err != nil {
		return nil, newErr(ErrInvalidSignature,
			"malformed signature word stream")
	}
	var sigBytes [64]byte
	copy(sigBytes[:], sigBytes64)
	recoveryFlag := sigWords[sigBodyWordLen]

	digest, err := signingDigest(hrp, data)
	if err != nil {
		return nil, err
	}

	var payeeKey *btcec.PublicKey
	if explicit := firstTag(tags, TagPayee); explicit != nil {
		// An explicit payee tag always wins; we don't verify it
		// against the signature (see DESIGN.md open question).
		payeeKey = explicit.Payee
	} else {
		payeeKey, err = recoverPubKey(digest, sigBytes, recoveryFlag)
		if err != nil {
			return nil, err
		}
	}

	return &Invoice{
		Complete:       true,
		Prefix:         hrp,
		Net:            network.Params(),
		MilliSat:       milliSat,
		Timestamp:      time.Unix(int64(timestamp), 0),
		Tags:           tags,
		Signature:      sigBytes,
		RecoveryFlag:   recoveryFlag,
		PayeeNodeKey:   payeeKey,
		PaymentRequest: strings.ToLower(paymentRequest),
	}, nil
}

func firstTag(tags []Tag, typ TagType) *Tag {
	for i := range tags {
		if tags[i].Type == typ {
			return &tags[i]
		}
	}
	return nil
}

// Satoshis returns the invoice amount in whole satoshis, or nil if the
// invoice carries no amount or a sub-satoshi amount (which is only
// representable in millisatoshis).
func (invoice *Invoice) Satoshis() *uint64 {
	if invoice.MilliSat == nil || *invoice.MilliSat%1000 != 0 {
		return nil
	}
	sat := uint64(*invoice.MilliSat) / 1000
	return &sat
}

// PaymentHash returns the invoice's payment_hash, or nil if absent.
func (invoice *Invoice) PaymentHash() *[32]byte {
	if t := firstTag(invoice.Tags, TagPaymentHash); t != nil {
		return t.Hash
	}
	return nil
}

// PaymentSecret returns the invoice's payment_secret, or nil if absent.
func (invoice *Invoice) PaymentSecret() *[32]byte {
	if t := firstTag(invoice.Tags, TagPaymentSecret); t != nil {
		return t.PaymentSecret
	}
	return nil
}

// Description returns the invoice's plain-text description, or nil if
// absent (i.e. a description_hash was used instead).
func (invoice *Invoice) Description() *string {
	if t := firstTag(invoice.Tags, TagDescription); t != nil {
		return t.Description
	}
	return nil
}

// DescriptionHash returns the invoice's description hash, or nil if
// absent.
func (invoice *Invoice) DescriptionHash() *[32]byte {
	if t := firstTag(invoice.Tags, TagDescriptionHash); t != nil {
		return t.Hash
	}
	return nil
}

// Metadata returns the invoice's opaque payment metadata, or nil if
// absent.
func (invoice *Invoice) Metadata() []byte {
	if t := firstTag(invoice.Tags, TagMetadata); t != nil {
		return t.Metadata
	}
	return nil
}

// FallbackAddress returns the invoice's raw fallback payload, or nil if
// absent.
func (invoice *Invoice) FallbackAddress() *FallbackAddress {
	if t := firstTag(invoice.Tags, TagFallbackAddress); t != nil {
		return t.FallbackAddress
	}
	return nil
}

// RouteHints returns every route_hint tag's hop list, in tag order.
// Unlike most other tag types, carrying several route_hint tags is
// normal usage (each advertises an alternative private path), not
// erroneous duplication, so all of them are returned rather than just
// the first.
func (invoice *Invoice) RouteHints() [][]RouteHop {
	var hints [][]RouteHop
	for _, t := range invoice.Tags {
		if t.Type == TagRouteHint {
			hints = append(hints, t.RouteHint)
		}
	}
	return hints
}

// FeatureBits returns the invoice's feature bitfield, or nil if absent.
func (invoice *Invoice) FeatureBits() *FeatureBits {
	if t := firstTag(invoice.Tags, TagFeatureBits); t != nil {
		return t.FeatureBits
	}
	return nil
}

// Expiry returns how long this invoice remains valid for, defaulting to
// 3600 seconds if no expiry tag was present.
func (invoice *Invoice) Expiry() time.Duration {
	if t := firstTag(invoice.Tags, TagExpiry); t != nil {
		const maxDuration = time.Duration(1<<63 - 1)
		if *t.UintValue > uint64(maxDuration/time.Second) {
			return maxDuration
		}
		return time.Duration(*t.UintValue) * time.Second
	}
	return defaultExpirySeconds * time.Second
}

// MinFinalCLTVExpiry returns the minimum final CLTV expiry delta the
// payee requires, defaulting to 18 if no tag was present.
func (invoice *Invoice) MinFinalCLTVExpiry() uint64 {
	if t := firstTag(invoice.Tags, TagMinFinalCLTVExpiry); t != nil {
		return *t.UintValue
	}
	return defaultMinFinalCLTVExpiry
}

// ExpiryTime returns Timestamp plus the expiry in seconds, saturating at
// the latest time time.Unix can represent rather than wrapping on
// overflow so an absurdly-far expiry still leaves the invoice decodable.
func (invoice *Invoice) ExpiryTime() time.Time {
	// maxUnix is the largest Unix second time.Unix accepts without
	// wrapping its internal count of seconds since year 1.
	const maxUnix = 1<<63 - 1 - 62135596800

	secs := invoice.Timestamp.Unix()
	delta := uint64(defaultExpirySeconds)
	if t := firstTag(invoice.Tags, TagExpiry); t != nil {
		delta = *t.UintValue
	}

	if delta > maxUnix || secs > maxUnix-int64(delta) {
		// Overflow: saturate.
		return time.Unix(maxUnix, 0)
	}
	return time.Unix(secs+int64(delta), 0)
}
