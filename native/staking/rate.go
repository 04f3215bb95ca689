package staking

import (
	"math"
	"math/big"
	"strconv"
)

const (
	// RateDenominator converts the encoded integer into percent per second.
	RateDenominator uint64 = 1_000_000
	// PercentDenominator converts percent into a fraction.
	PercentDenominator uint64 = 100

	MinEncodedRate uint32 = 1
	MaxEncodedRate uint32 = 1_000_000
)

// fractionDenominator is the full denominator chain applied to an encoded rate.
var fractionDenominator = new(big.Int).SetUint64(RateDenominator * PercentDenominator)

// canonicalRates pins the float64 value of the rates admins are expected to
// configure. Each literal is the closest double to encoded/1e8.
var canonicalRates = map[uint32]float64{
	1:         1e-8,
	10:        1e-7,
	12:        1.2e-7,
	50:        5e-7,
	100:       1e-6,
	120:       1.2e-6,
	500:       5e-6,
	1_000:     1e-5,
	1_200:     1.2e-5,
	5_000:     5e-5,
	10_000:    1e-4,
	12_000:    1.2e-4,
	50_000:    5e-4,
	100_000:   1e-3,
	120_000:   1.2e-3,
	500_000:   5e-3,
	1_000_000: 1e-2,
}

// Rate is a decoded per-second growth rate. The zero value behaves as the
// smallest encodable rate.
type Rate struct {
	encoded uint32
}

// DecodeRate validates an encoded rate and returns its decoded form.
func DecodeRate(encoded uint32) (Rate, error) {
	if encoded < MinEncodedRate || encoded > MaxEncodedRate {
		return Rate{}, &RateError{
			Value:  strconv.FormatUint(uint64(encoded), 10),
			Reason: "encoded rate must be within [1, 1000000]",
		}
	}
	return Rate{encoded: encoded}, nil
}

// MustDecodeRate is DecodeRate for constants known to be valid.
func MustDecodeRate(encoded uint32) Rate {
	rate, err := DecodeRate(encoded)
	if err != nil {
		panic(err)
	}
	return rate
}

// Encoded returns the on-chain integer representation.
func (r Rate) Encoded() uint32 {
	return clampEncoded(uint64(r.encoded))
}

// Percent returns the exact percent-per-second value (encoded / 1,000,000).
func (r Rate) Percent() *big.Rat {
	return new(big.Rat).SetFrac(big.NewInt(int64(r.Encoded())), new(big.Int).SetUint64(RateDenominator))
}

// Fraction returns the exact fraction-per-second value (percent / 100).
func (r Rate) Fraction() *big.Rat {
	return new(big.Rat).SetFrac(big.NewInt(int64(r.Encoded())), fractionDenominator)
}

// Float64 returns the rate as a float64 fraction per second. Canonical values
// come from a fixed table; anything else is the correctly rounded quotient.
func (r Rate) Float64() float64 {
	encoded := r.Encoded()
	if value, ok := canonicalRates[encoded]; ok {
		return value
	}
	value, _ := r.Fraction().Float64()
	return value
}

// IsCanonical reports whether the encoded value is in the canonical table.
func (r Rate) IsCanonical() bool {
	_, ok := canonicalRates[r.Encoded()]
	return ok
}

func (r Rate) String() string {
	return r.Percent().FloatString(6) + "%/s"
}

// EncodeRate converts a fraction per second into the encoded integer, rounding
// half up and clamping into [MinEncodedRate, MaxEncodedRate].
func EncodeRate(fraction *big.Rat) (uint32, error) {
	if fraction == nil {
		return 0, &RateError{Value: "<nil>", Reason: "rate is required"}
	}
	if fraction.Sign() < 0 {
		return 0, &RateError{Value: fraction.RatString(), Reason: "rate must not be negative"}
	}
	scaled := new(big.Rat).Mul(fraction, new(big.Rat).SetInt(fractionDenominator))
	rounded := roundHalfUp(scaled)
	if !rounded.IsUint64() {
		return MaxEncodedRate, nil
	}
	return clampEncoded(rounded.Uint64()), nil
}

// EncodeRateFloat is EncodeRate for float inputs; NaN and infinities are
// unrepresentable.
func EncodeRateFloat(fraction float64) (uint32, error) {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return 0, &RateError{Value: strconv.FormatFloat(fraction, 'g', -1, 64), Reason: "rate is not a finite number"}
	}
	if fraction < 0 {
		return 0, &RateError{Value: strconv.FormatFloat(fraction, 'g', -1, 64), Reason: "rate must not be negative"}
	}
	return EncodeRate(new(big.Rat).SetFloat64(fraction))
}

func clampEncoded(value uint64) uint32 {
	if value < uint64(MinEncodedRate) {
		return MinEncodedRate
	}
	if value > uint64(MaxEncodedRate) {
		return MaxEncodedRate
	}
	return uint32(value)
}

// roundHalfUp rounds a non-negative rational to the nearest integer.
func roundHalfUp(value *big.Rat) *big.Int {
	num := new(big.Int).Set(value.Num())
	den := value.Denom()
	num.Mul(num, big.NewInt(2))
	num.Add(num, den)
	den2 := new(big.Int).Mul(den, big.NewInt(2))
	return num.Quo(num, den2)
}
