package zpay32

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
)

// TagType identifies the 5-bit type code prefixing every tagged field.
type TagType byte

const (
	TagPaymentHash        TagType = 1
	TagRouteHint          TagType = 3
	TagFeatureBits        TagType = 5
	TagExpiry             TagType = 6
	TagFallbackAddress    TagType = 9
	TagDescription        TagType = 13
	TagPaymentSecret      TagType = 16
	TagPayee              TagType = 19
	TagDescriptionHash    TagType = 23
	TagMinFinalCLTVExpiry TagType = 24
	TagMetadata           TagType = 27
)

// Fixed word lengths for the hex-digest tags; a tag of these types with
// any other length is dropped silently on decode, not treated as a hard
// error.
const (
	hashWordLen   = 52 // 256 bits
	pubKeyWordLen = 53 // 264 bits = 33 bytes
)

// routeHopLen is the wire size, in bytes, of one serialized route hint
// hop: 33-byte pubkey, 8-byte short channel id, 4-byte base fee, 4-byte
// proportional fee, 2-byte cltv delta.
const routeHopLen = 51

// FallbackAddress is the raw payload of a fallback_address tag: a
// version/witness code and the address's hash payload. Constructing an
// on-chain address string from this pair is explicitly out of scope; we
// carry the raw bytes only.
type FallbackAddress struct {
	Version byte
	Hash    []byte
}

// RouteHop is one hop of advisory routing information carried by a
// route_hint tag.
type RouteHop struct {
	PubKey                    *btcec.PublicKey
	ShortChannelID            uint64
	FeeBaseMsat               uint32
	FeeProportionalMillionths uint32
	CLTVExpiryDelta           uint16
}

// Tag is a tagged-union entry in an invoice's tag stream. Exactly the
// field(s) relevant to Type are populated; the rest are left at their
// zero value.
type Tag struct {
	Type TagType

	Hash            *[32]byte // payment_hash / description_hash
	PaymentSecret   *[32]byte
	Description     *string
	Metadata        []byte
	Payee           *btcec.PublicKey
	UintValue       *uint64 // expiry (seconds) / min_final_cltv_expiry
	FallbackAddress *FallbackAddress
	RouteHint       []RouteHop
	FeatureBits     *FeatureBits
}

func TagPaymentHashValue(hash [32]byte) Tag {
	return Tag{Type: TagPaymentHash, Hash: &hash}
}

func TagPaymentSecretValue(secret [32]byte) Tag {
	return Tag{Type: TagPaymentSecret, PaymentSecret: &secret}
}

func TagDescriptionValue(desc string) Tag {
	return Tag{Type: TagDescription, Description: &desc}
}

func TagMetadataValue(data []byte) Tag {
	return Tag{Type: TagMetadata, Metadata: data}
}

func TagPayeeValue(pub *btcec.PublicKey) Tag {
	return Tag{Type: TagPayee, Payee: pub}
}

func TagDescriptionHashValue(hash [32]byte) Tag {
	return Tag{Type: TagDescriptionHash, Hash: &hash}
}

func TagExpiryValue(seconds uint64) Tag {
	return Tag{Type: TagExpiry, UintValue: &seconds}
}

func TagMinFinalCLTVExpiryValue(delta uint64) Tag {
	return Tag{Type: TagMinFinalCLTVExpiry, UintValue: &delta}
}

func TagFallbackAddressValue(version byte, hash []byte) Tag {
	return Tag{
		Type:            TagFallbackAddress,
		FallbackAddress: &FallbackAddress{Version: version, Hash: hash},
	}
}

func TagRouteHintValue(hops []RouteHop) Tag {
	return Tag{Type: TagRouteHint, RouteHint: hops}
}

func TagFeatureBitsValue(fb *FeatureBits) Tag {
	return Tag{Type: TagFeatureBits, FeatureBits: fb}
}

// encodeTags renders an ordered tag list to its 5-bit word stream.
func encodeTags(tags []Tag) ([]byte, error) {
	var out []byte
	for _, tag := range tags {
		data, err := encodeTagPayload(tag)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		framed, err := frameTag(tag.Type, data)
		if err != nil {
			return nil, err
		}
		out = append(out, framed...)
	}
	return out, nil
}

// frameTag prepends the [type][len_hi][len_lo] header to an already
// base32-encoded tag payload.
func frameTag(typ TagType, data []byte) ([]byte, error) {
	if len(data) > 1023 {
		return nil, newErr(ErrInvalidInvoice,
			"tag %d payload too long: %d words", typ, len(data))
	}
	out := make([]byte, 0, 3+len(data))
	out = append(out, byte(typ))
	out = append(out, byte(len(data)>>5), byte(len(data)&31))
	out = append(out, data...)
	return out, nil
}

// encodeTagPayload renders just the data words (no type/length header)
// for a single tag. Returns a nil slice (and nil error) for a Tag that
// carries no payload for its Type, which the caller skips.
func encodeTagPayload(tag Tag) ([]byte, error) {
	switch tag.Type {
	case TagPaymentHash, TagDescriptionHash:
		if tag.Hash == nil {
			return nil, nil
		}
		return bytesToWords(tag.Hash[:])

	case TagPaymentSecret:
		if tag.PaymentSecret == nil {
			return nil, nil
		}
		return bytesToWords(tag.PaymentSecret[:])

	case TagDescription:
		if tag.Description == nil {
			return nil, nil
		}
		return bytesToWords([]byte(*tag.Description))

	case TagMetadata:
		if tag.Metadata == nil {
			return nil, nil
		}
		return bytesToWords(tag.Metadata)

	case TagPayee:
		if tag.Payee == nil {
			return nil, nil
		}
		return bytesToWords(tag.Payee.SerializeCompressed())

	case TagExpiry, TagMinFinalCLTVExpiry:
		if tag.UintValue == nil {
			return nil, nil
		}
		return intToWordsMin(*tag.UintValue), nil

	case TagFallbackAddress:
		if tag.FallbackAddress == nil {
			return nil, nil
		}
		addrWords, err := bytesToWords(tag.FallbackAddress.Hash)
		if err != nil {
			return nil, err
		}
		return append([]byte{tag.FallbackAddress.Version}, addrWords...), nil

	case TagRouteHint:
		if len(tag.RouteHint) == 0 {
			return nil, nil
		}
		raw := make([]byte, 0, routeHopLen*len(tag.RouteHint))
		for _, hop := range tag.RouteHint {
			raw = append(raw, serializeRouteHop(hop)...)
		}
		return bytesToWords(raw)

	case TagFeatureBits:
		if tag.FeatureBits == nil {
			return nil, nil
		}
		return encodeFeatureBits(tag.FeatureBits), nil

	default:
		return nil, newErr(ErrInvalidInvoice, "unknown tag name %d", tag.Type)
	}
}

func serializeRouteHop(hop RouteHop) []byte {
	out := make([]byte, routeHopLen)
	copy(out[:33], hop.PubKey.SerializeCompressed())
	binary.BigEndian.PutUint64(out[33:41], hop.ShortChannelID)
	binary.BigEndian.PutUint32(out[41:45], hop.FeeBaseMsat)
	binary.BigEndian.PutUint32(out[45:49], hop.FeeProportionalMillionths)
	binary.BigEndian.PutUint16(out[49:51], hop.CLTVExpiryDelta)
	return out
}

// decodeTags parses the tag stream (everything between the timestamp and
// the signature) into an ordered slice of Tag, tolerating unknown type
// codes and malformed hex-tag lengths by skipping them.
func decodeTags(words []byte) ([]Tag, error) {
	var tags []Tag

	for index := 0; len(words)-index >= 3; {
		typ := TagType(words[index])
		length := int(words[index+1])<<5 | int(words[index+2])

		if len(words) < index+3+length {
			return nil, newErr(ErrInvalidInvoice,
				"tag %d length %d extends past end of stream",
				typ, length)
		}
		payload := words[index+3 : index+3+length]
		index += 3 + length

		tag, ok, err := decodeTagPayload(typ, payload)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		tags = append(tags, tag)
	}

	return tags, nil
}

// decodeTagPayload decodes a single tag's payload words. ok is false when
// the tag should be silently skipped (unknown type code, or a hex-digest
// tag with a non-canonical length) rather than treated as an error.
func decodeTagPayload(typ TagType, words []byte) (Tag, bool, error) {
	switch typ {
	case TagPaymentHash, TagDescriptionHash:
		if len(words) != hashWordLen {
			return Tag{}, false, nil
		}
		raw, err := wordsToBytesTrim(words)
		if err != nil {
			return Tag{}, false, err
		}
		var hash [32]byte
		copy(hash[:], raw)
		return Tag{Type: typ, Hash: &hash}, true, nil

	case TagPaymentSecret:
		if len(words) != hashWordLen {
			return Tag{}, false, nil
		}
		raw, err := wordsToBytesTrim(words)
		if err != nil {
			return Tag{}, false, err
		}
		var secret [32]byte
		copy(secret[:], raw)
		return Tag{Type: typ, PaymentSecret: &secret}, true, nil

	case TagDescription:
		raw, err := wordsToBytesTrim(words)
		if err != nil {
			return Tag{}, false, err
		}
		desc := string(raw)
		return Tag{Type: typ, Description: &desc}, true, nil

	case TagMetadata:
		raw, err := wordsToBytesTrim(words)
		if err != nil {
			return Tag{}, false, err
		}
		return Tag{Type: typ, Metadata: raw}, true, nil

	case TagPayee:
		if len(words) != pubKeyWordLen {
			return Tag{}, false, nil
		}
		raw, err := wordsToBytesTrim(words)
		if err != nil {
			return Tag{}, false, err
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return Tag{}, false, nil
		}
		return Tag{Type: typ, Payee: pub}, true, nil

	case TagExpiry, TagMinFinalCLTVExpiry:
		val, err := wordsToInt(words)
		if err != nil {
			return Tag{}, false, err
		}
		return Tag{Type: typ, UintValue: &val}, true, nil

	case TagFallbackAddress:
		if len(words) < 1 {
			return Tag{}, false, nil
		}
		version := words[0]
		hash, err := wordsToBytesTrim(words[1:])
		if err != nil {
			return Tag{}, false, err
		}
		return Tag{
			Type:            typ,
			FallbackAddress: &FallbackAddress{Version: version, Hash: hash},
		}, true, nil

	case TagRouteHint:
		raw, err := wordsToBytesTrim(words)
		if err != nil {
			return Tag{}, false, err
		}
		var hops []RouteHop
		for len(raw) >= routeHopLen {
			hop, err := parseRouteHop(raw[:routeHopLen])
			if err != nil {
				return Tag{}, false, err
			}
			hops = append(hops, hop)
			raw = raw[routeHopLen:]
		}
		// Trailing bytes shorter than one hop are ignored.
		return Tag{Type: typ, RouteHint: hops}, true, nil

	case TagFeatureBits:
		return Tag{Type: typ, FeatureBits: parseFeatureBits(words)}, true, nil

	default:
		// Unknown type codes are forward-compatibility noise: skip.
		return Tag{}, false, nil
	}
}

func parseRouteHop(data []byte) (RouteHop, error) {
	pub, err := btcec.ParsePubKey(data[:33])
	if err != nil {
		return RouteHop{}, wrapErr(ErrInvalidInvoice, err,
			"invalid route hint pubkey")
	}
	return RouteHop{
		PubKey:                    pub,
		ShortChannelID:            binary.BigEndian.Uint64(data[33:41]),
		FeeBaseMsat:               binary.BigEndian.Uint32(data[41:45]),
		FeeProportionalMillionths: binary.BigEndian.Uint32(data[45:49]),
		CLTVExpiryDelta:           binary.BigEndian.Uint16(data[49:51]),
	}, nil
}
