package zpay32

import "sort"

// Feature identifies one of the named feature pairs BOLT 9 assigns a
// fixed even/odd bit pair to.
type Feature int

const (
	FeatureDataLossProtect Feature = iota
	FeatureInitialRoutingSync
	FeatureUpfrontShutdownScript
	FeatureGossipQueries
	FeatureVarOnionOptin
	FeatureGossipQueriesEx
	FeatureStaticRemoteKey
	FeaturePaymentSecret
	FeatureBasicMPP
	FeatureSupportLargeChannel
)

// featureNames gives each named feature its BOLT 9 name, used only for
// diagnostics.
var featureNames = map[Feature]string{
	FeatureDataLossProtect:       "option_data_loss_protect",
	FeatureInitialRoutingSync:    "initial_routing_sync",
	FeatureUpfrontShutdownScript: "option_upfront_shutdown_script",
	FeatureGossipQueries:         "gossip_queries",
	FeatureVarOnionOptin:         "var_onion_optin",
	FeatureGossipQueriesEx:       "gossip_queries_ex",
	FeatureStaticRemoteKey:       "option_static_remotekey",
	FeaturePaymentSecret:         "payment_secret",
	FeatureBasicMPP:              "basic_mpp",
	FeatureSupportLargeChannel:   "option_support_large_channel",
}

// String returns the BOLT 9 name of the feature.
func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return "unknown"
}

// requiredBit returns the even "required" bit index of the named pair;
// the "optional"/"supported" bit is always requiredBit+1.
func (f Feature) requiredBit() int {
	return int(f) * 2
}

// FeatureBits is the named-feature bitfield carried by the feature_bits
// tag. Bit i of the underlying big-endian bit string lives at word
// (wordLength-1-i/5), bit (i%5) of that word; see bitLocation.
type FeatureBits struct {
	// wordLength is the number of 5-bit words this bitfield was (or
	// will be) encoded with. Preserved across decode/encode so
	// round-trips reproduce the exact wire form, including any
	// redundant leading zero words the original encoder emitted.
	wordLength int

	// set holds the absolute indices of every bit that is 1, named or
	// not.
	set map[int]struct{}
}

// NewFeatureBits returns an empty feature bitfield. wordLength is
// determined lazily from the highest bit set unless later overridden by
// decoding, which fixes it explicitly.
func NewFeatureBits() *FeatureBits {
	return &FeatureBits{set: make(map[int]struct{})}
}

// bitLocation maps an absolute bit index to its (wordIndex, bitInWord)
// location within a wordLength-word, big-endian bit string.
func bitLocation(bit, wordLength int) (int, int) {
	return wordLength - 1 - bit/5, bit % 5
}

func (fb *FeatureBits) ensureWordLength(bit int) {
	needed := bit/5 + 1
	if needed > fb.wordLength {
		fb.wordLength = needed
	}
}

// setBit marks the given absolute bit index as 1.
func (fb *FeatureBits) setBit(bit int) {
	fb.ensureWordLength(bit)
	fb.set[bit] = struct{}{}
}

// IsSet reports whether the given absolute bit index is 1.
func (fb *FeatureBits) IsSet(bit int) bool {
	_, ok := fb.set[bit]
	return ok
}

// SetRequired sets the even ("required") bit of the named feature pair.
func (fb *FeatureBits) SetRequired(f Feature) {
	fb.setBit(f.requiredBit())
}

// SetOptional sets the odd ("optional"/"supported") bit of the named
// feature pair.
func (fb *FeatureBits) SetOptional(f Feature) {
	fb.setBit(f.requiredBit() + 1)
}

// SetExtra marks an opaque bit position (index >= 20) as set, preserving
// positions this package doesn't assign a name to.
func (fb *FeatureBits) SetExtra(bit int) {
	fb.setBit(bit)
}

// IsRequired reports whether the named feature's required bit is set.
func (fb *FeatureBits) IsRequired(f Feature) bool {
	return fb.IsSet(f.requiredBit())
}

// IsOptional reports whether the named feature's optional bit is set.
func (fb *FeatureBits) IsOptional(f Feature) bool {
	return fb.IsSet(f.requiredBit() + 1)
}

// HasFeature reports whether either bit of the named feature pair is set.
func (fb *FeatureBits) HasFeature(f Feature) bool {
	return fb.IsRequired(f) || fb.IsOptional(f)
}

// WordLength returns the number of 5-bit words this bitfield will encode
// to.
func (fb *FeatureBits) WordLength() int {
	return fb.wordLength
}

// ExtraBits returns the sorted list of set bit indices at or beyond 20,
// the first position this package doesn't assign a name to.
func (fb *FeatureBits) ExtraBits() []int {
	var extra []int
	for bit := range fb.set {
		if bit >= 20 {
			extra = append(extra, bit)
		}
	}
	sort.Ints(extra)
	return extra
}

// HasRequired reports whether any set bit, named or opaque, occupies an
// even (required) position.
func (fb *FeatureBits) HasRequired() bool {
	for bit := range fb.set {
		if bit%2 == 0 {
			return true
		}
	}
	return false
}

// encodeFeatureBits serializes fb to exactly fb.WordLength() 5-bit words
// (or the minimum length needed to hold its highest set bit, if the
// bitfield was never decoded and wordLength wasn't otherwise fixed).
func encodeFeatureBits(fb *FeatureBits) []byte {
	length := fb.wordLength
	words := make([]byte, length)
	for bit := range fb.set {
		wi, bi := bitLocation(bit, length)
		words[wi] |= 1 << uint(bi)
	}
	return words
}

// parseFeatureBits reconstructs a FeatureBits from its wire words,
// preserving wordLength exactly for byte-identical round-trips.
func parseFeatureBits(words []byte) *FeatureBits {
	fb := &FeatureBits{wordLength: len(words), set: make(map[int]struct{})}
	for wi, w := range words {
		for bi := 0; bi < 5; bi++ {
			if w&(1<<uint(bi)) == 0 {
				continue
			}
			bit := (len(words)-1-wi)*5 + bi
			fb.set[bit] = struct{}{}
		}
	}
	return fb
}
