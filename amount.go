package zpay32

import (
	"regexp"
	"strconv"
)

// MilliSatoshi represents a thousandth of a satoshi, the minimum amount
// unit an invoice can encode (a "pico-BTC" amount must be a multiple of
// 10, i.e. a whole number of millisatoshis).
type MilliSatoshi uint64

// mSatPerBtc is the number of millisatoshis in 1 BTC.
const mSatPerBtc = 100000000000

// Multiplier values, in millisatoshi per unit.
const (
	multiplierMilliBtc = 100000000 // 'm'
	multiplierMicroBtc = 100000    // 'u'
	multiplierNanoBtc  = 100       // 'n'
	// 'p' (pico-BTC) is 1/10th of a millisatoshi; handled specially
	// below since it isn't integral in msat.
)

var amountDigitsRe = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// MsatToPrefix renders an amount in millisatoshis as the shortest amount
// suffix consistent with exact divisibility: "m" (1e8 msat/unit), then
// "u" (1e5), then "n" (100), falling back to "p" (0.1 msat/unit, always
// exact since 1 msat is 10 pico-BTC). Zero encodes as "0m"; omitting the
// suffix entirely is how an invoice expresses "no amount", which is the
// caller's concern, not this function's.
func MsatToPrefix(msat MilliSatoshi) string {
	switch {
	case msat%multiplierMilliBtc == 0:
		return strconv.FormatUint(uint64(msat)/multiplierMilliBtc, 10) + "m"
	case msat%multiplierMicroBtc == 0:
		return strconv.FormatUint(uint64(msat)/multiplierMicroBtc, 10) + "u"
	case msat%multiplierNanoBtc == 0:
		return strconv.FormatUint(uint64(msat)/multiplierNanoBtc, 10) + "n"
	default:
		// Guaranteed to be exact: 1 msat == 10 pico-BTC.
		return strconv.FormatUint(uint64(msat)*10, 10) + "p"
	}
}

// PrefixToMsat parses an amount prefix (the numeric part of an HRP after
// "ln<net>") into millisatoshis.
func PrefixToMsat(prefix string) (MilliSatoshi, error) {
	if len(prefix) == 0 {
		return 0, newErr(ErrInvalidAmount, "amount must be non-empty")
	}

	mult := prefix[len(prefix)-1]
	numPart := prefix
	var perUnit uint64
	switch mult {
	case 'm':
		numPart = prefix[:len(prefix)-1]
		perUnit = multiplierMilliBtc
	case 'u':
		numPart = prefix[:len(prefix)-1]
		perUnit = multiplierMicroBtc
	case 'n':
		numPart = prefix[:len(prefix)-1]
		perUnit = multiplierNanoBtc
	case 'p':
		numPart = prefix[:len(prefix)-1]
		perUnit = 0 // handled specially below
	default:
		// No recognized multiplier: the whole prefix is a BTC count.
		perUnit = mSatPerBtc
	}

	if !amountDigitsRe.MatchString(numPart) {
		return 0, newErr(ErrInvalidAmount,
			"invalid amount digits %q", numPart)
	}

	num, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return 0, wrapErr(ErrInvalidAmount, err,
			"unable to parse amount %q", numPart)
	}

	if mult == 'p' {
		if num%10 != 0 {
			return 0, newErr(ErrInvalidAmount,
				"pico amount %d is not a multiple of 10", num)
		}
		return MilliSatoshi(num / 10), nil
	}

	return MilliSatoshi(num * perUnit), nil
}

// SatToPrefix renders an amount in satoshis as the shortest amount
// suffix. The conversion to millisatoshis is not overflow-checked; it
// cannot overflow for any amount representable on-chain.
func SatToPrefix(sat uint64) string {
	return MsatToPrefix(MilliSatoshi(sat) * 1000)
}

// PrefixToSat parses an amount prefix into whole satoshis, failing if the
// encoded amount isn't an exact number of satoshis (i.e. carries a
// sub-satoshi remainder).
func PrefixToSat(prefix string) (uint64, error) {
	msat, err := PrefixToMsat(prefix)
	if err != nil {
		return 0, err
	}
	if msat%1000 != 0 {
		return 0, newErr(ErrInvalidAmount,
			"amount %d msat is not an integer number of satoshis",
			msat)
	}
	return uint64(msat) / 1000, nil
}
