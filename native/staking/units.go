package staking

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var plainDecimal = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// MaxDecimals bounds the decimal count so that one display unit fits in uint64.
const MaxDecimals uint8 = 18

var decimalScales = func() [MaxDecimals + 1]*big.Int {
	var scales [MaxDecimals + 1]*big.Int
	ten := big.NewInt(10)
	for i := range scales {
		scales[i] = new(big.Int).Exp(ten, big.NewInt(int64(i)), nil)
	}
	return scales
}()

// Units converts between raw integer amounts and display amounts for a token
// with a fixed decimal count. 10^decimals is the only conversion factor in the
// system and it is applied exactly once per direction.
type Units struct {
	decimals uint8
}

// NewUnits validates the decimal count.
func NewUnits(decimals uint8) (Units, error) {
	if decimals > MaxDecimals {
		return Units{}, fmt.Errorf("%w: %d exceeds %d", ErrInvalidDecimals, decimals, MaxDecimals)
	}
	return Units{decimals: decimals}, nil
}

func (u Units) Decimals() uint8 { return u.decimals }

// Scale returns a copy of 10^decimals.
func (u Units) Scale() *big.Int {
	return new(big.Int).Set(decimalScales[u.decimals])
}

// ToDisplay returns rawAmount / 10^decimals exactly.
func (u Units) ToDisplay(rawAmount uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(rawAmount), decimalScales[u.decimals])
}

// ToRaw returns round(displayAmount * 10^decimals), rounding half up.
func (u Units) ToRaw(displayAmount *big.Rat) (uint64, error) {
	if displayAmount == nil {
		return 0, ErrInvalidAmount
	}
	if displayAmount.Sign() < 0 {
		return 0, fmt.Errorf("%w: display amount %s is negative", ErrInvalidAmount, displayAmount.RatString())
	}
	scaled := new(big.Rat).Mul(displayAmount, new(big.Rat).SetInt(decimalScales[u.decimals]))
	rounded := roundHalfUp(scaled)
	if !rounded.IsUint64() {
		return 0, overflowf("to_raw", "display amount %s with %d decimals", displayAmount.FloatString(int(u.decimals)), u.decimals)
	}
	return rounded.Uint64(), nil
}

// Format renders the display amount of rawAmount as an exact decimal string
// without trailing zeros.
func (u Units) Format(rawAmount uint64) string {
	if u.decimals == 0 {
		return new(big.Int).SetUint64(rawAmount).String()
	}
	text := u.ToDisplay(rawAmount).FloatString(int(u.decimals))
	whole, frac, _ := strings.Cut(text, ".")
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Parse converts a user-entered decimal string into raw units.
func (u Units) Parse(display string) (uint64, error) {
	trimmed := strings.TrimSpace(display)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	if !plainDecimal.MatchString(trimmed) {
		return 0, fmt.Errorf("%w: %q is not a plain decimal", ErrInvalidAmount, trimmed)
	}
	value, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, trimmed)
	}
	return u.ToRaw(value)
}
