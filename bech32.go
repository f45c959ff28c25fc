package zpay32

import "strings"

// charset is the bech32 data-part alphabet. The index of a character is
// its 5-bit value.
const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// gen holds the five BIP-173 generator constants for the bech32 checksum
// polynomial.
var gen = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

// charsetRev maps an ASCII byte back to its 5-bit charset value, or -1 if
// the byte isn't part of the charset.
var charsetRev = func() [256]int8 {
	var rev [256]int8
	for i := range rev {
		rev[i] = -1
	}
	for i := 0; i < len(charset); i++ {
		rev[charset[i]] = int8(i)
	}
	return rev
}()

// bech32Polymod computes the checksum polynomial over a stream of 5-bit
// values, per BIP-173.
func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		b := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (b>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

// hrpExpand expands a human-readable part into the sequence of 5-bit
// values mixed into the checksum, per BIP-173: the high bits of each HRP
// byte, then a zero separator, then the low bits of each HRP byte.
func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

// bech32Checksum computes the 6 checksum words that must be appended to
// hrp+data for the encoded string to verify.
func bech32Checksum(hrp string, data []byte) []byte {
	values := append(hrpExpand(hrp), data...)
	values = append(values, make([]byte, 6)...)
	mod := bech32Polymod(values) ^ 1

	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return checksum
}

// bech32Encode renders hrp and data (5-bit words) as a bech32 string.
// Unlike the BIP-173 reference implementation, no 90-character limit is
// enforced: BOLT 11 payment requests routinely exceed it.
func bech32Encode(hrp string, data []byte) (string, error) {
	if hrp == "" {
		return "", newErr(ErrInvalidInvoice, "hrp must not be empty")
	}
	for i := 0; i < len(data); i++ {
		if data[i] > 31 {
			return "", newErr(ErrInvalidInvoice,
				"invalid 5-bit word %d at position %d", data[i], i)
		}
	}

	checksum := bech32Checksum(hrp, data)

	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(data) + len(checksum))
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, d := range data {
		sb.WriteByte(charset[d])
	}
	for _, d := range checksum {
		sb.WriteByte(charset[d])
	}
	return sb.String(), nil
}

// bech32Decode parses a bech32 string into its HRP and 5-bit data words,
// verifying (and stripping) the trailing 6-word checksum. Mixed-case input
// is rejected up front with an ErrInvalidChecksum error; all-uppercase
// input is lowercased before decoding.
func bech32Decode(bech string) (string, []byte, error) {
	if strings.ToLower(bech) != bech && strings.ToUpper(bech) != bech {
		return "", nil, newErr(ErrInvalidChecksum,
			"mixed-case bech32 string")
	}
	bech = strings.ToLower(bech)

	sep := strings.LastIndexByte(bech, '1')
	if sep < 1 {
		return "", nil, newErr(ErrInvalidInvoice,
			"invalid separator position, or hrp is empty")
	}

	hrp := bech[:sep]
	dataChars := bech[sep+1:]
	if len(dataChars) < 6 {
		return "", nil, newErr(ErrInvalidChecksum,
			"data part too short to contain a checksum")
	}

	data := make([]byte, len(dataChars))
	for i := 0; i < len(dataChars); i++ {
		v := charsetRev[dataChars[i]]
		if v == -1 {
			return "", nil, newErr(ErrInvalidInvoice,
				"invalid character %q in data part",
				dataChars[i])
		}
		data[i] = byte(v)
	}

	values := append(hrpExpand(hrp), data...)
	if bech32Polymod(values) != 1 {
		return "", nil, newErr(ErrInvalidChecksum, "checksum mismatch")
	}

	return hrp, data[:len(data)-6], nil
}

// convertBits regroups a slice of integers expressed using fromBits bits
// per element into a slice using toBits bits per element. When pad is
// true, leftover bits in the final output element are zero-extended;
// when pad is false, a leftover of fromBits or more bits, or any non-zero
// leftover, is an error, and a shorter all-zero leftover is discarded.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var (
		acc   uint32
		bits  uint
		ret   []byte
		maxv  = uint32(1)<<toBits - 1
		maxAc = uint32(1)<<(fromBits+toBits-1) - 1
	)

	for _, value := range data {
		if uint32(value)>>fromBits != 0 {
			return nil, newErr(ErrInvalidInvoice,
				"invalid data range: value=%d", value)
		}
		acc = ((acc << fromBits) | uint32(value)) & maxAc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, newErr(ErrInvalidInvoice,
			"invalid incomplete group, bits=%d", bits)
	}

	return ret, nil
}

// wordsToBytesPadded converts 5-bit words to bytes, zero-padding the
// trailing partial byte. Used to build the signing digest preimage, where
// the bit stream must be reconstructed byte-for-byte regardless of
// whether it ends on a byte boundary.
func wordsToBytesPadded(words []byte) ([]byte, error) {
	return convertBits(words, 5, 8, true)
}

// wordsToBytesTrim converts 5-bit words to bytes, discarding any trailing
// partial byte. Used for fixed-length tag payloads, where the tag's
// declared word count already guarantees byte alignment.
func wordsToBytesTrim(words []byte) ([]byte, error) {
	out, err := convertBits(words, 5, 8, true)
	if err != nil {
		return nil, err
	}
	if len(words)*5%8 != 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

// bytesToWords converts bytes to 5-bit words, zero-padding the final word
// if the byte count isn't a multiple of 5 bits.
func bytesToWords(data []byte) ([]byte, error) {
	return convertBits(data, 8, 5, true)
}

// intToWordsFixed renders n as exactly k big-endian 5-bit words.
func intToWordsFixed(n uint64, k int) []byte {
	words := make([]byte, k)
	for i := k - 1; i >= 0; i-- {
		words[i] = byte(n & 31)
		n >>= 5
	}
	return words
}

// intToWordsMin renders n using the minimum number of big-endian 5-bit
// words (at least one; zero yields a single zero word).
func intToWordsMin(n uint64) []byte {
	if n == 0 {
		return []byte{0}
	}

	// At most ceil(64/5) = 13 words are needed for a uint64; the leading
	// word of a full 13-word encoding carries the top 4 bits
	// (64 = 12*5 + 4).
	var arr [13]byte
	i := len(arr)
	for n > 0 {
		i--
		arr[i] = byte(n & 31)
		n >>= 5
	}
	return arr[i:]
}

// wordsToInt reconstructs a big-endian base-32 integer from 5-bit words.
func wordsToInt(words []byte) (uint64, error) {
	if len(words) > 13 {
		return 0, newErr(ErrInvalidInvoice,
			"cannot parse %d words as a 64-bit integer", len(words))
	}

	var val uint64
	for _, w := range words {
		if w > 31 {
			return 0, newErr(ErrInvalidInvoice,
				"invalid 5-bit word %d", w)
		}
		val = val<<5 | uint64(w)
	}
	return val, nil
}
