package staking

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// RewardModel selects the accrual formula. It is fixed when the program is
// initialized and shared by the preview and settlement paths.
type RewardModel uint8

const (
	ModelLinear RewardModel = iota + 1
	ModelCompound
)

func (m RewardModel) String() string {
	switch m {
	case ModelLinear:
		return "linear"
	case ModelCompound:
		return "compound"
	default:
		return "unknown"
	}
}

func (m RewardModel) Valid() bool {
	return m == ModelLinear || m == ModelCompound
}

// ParseRewardModel maps a configuration string to a model.
func ParseRewardModel(value string) (RewardModel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "linear", "":
		return ModelLinear, nil
	case "compound":
		return ModelCompound, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidModel, value)
	}
}

var fractionDenominator256 = uint256.NewInt(RateDenominator * PercentDenominator)

// Calculator computes accrued rewards in the raw unit domain of the stake.
type Calculator struct {
	model RewardModel
	units Units
}

// NewCalculator binds a reward model to the token decimals.
func NewCalculator(model RewardModel, decimals uint8) (*Calculator, error) {
	if !model.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidModel, model)
	}
	units, err := NewUnits(decimals)
	if err != nil {
		return nil, err
	}
	return &Calculator{model: model, units: units}, nil
}

func (c *Calculator) Model() RewardModel { return c.model }

func (c *Calculator) Units() Units { return c.units }

// ElapsedSeconds returns now - last, clamped at zero for clock skew.
func ElapsedSeconds(now, last int64) int64 {
	if now <= last {
		return 0
	}
	return now - last
}

// Reward returns the reward accrued by stakedRaw over elapsedSeconds.
func (c *Calculator) Reward(stakedRaw uint64, elapsedSeconds int64, rate Rate) (uint64, error) {
	if stakedRaw == 0 || elapsedSeconds <= 0 {
		return 0, nil
	}
	switch c.model {
	case ModelLinear:
		return linearReward(stakedRaw, elapsedSeconds, rate)
	case ModelCompound:
		return c.compoundReward(stakedRaw, elapsedSeconds, rate)
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidModel, c.model)
	}
}

// linearReward is floor(staked * encoded * elapsed / 1e8) over a 256-bit
// intermediate.
func linearReward(stakedRaw uint64, elapsedSeconds int64, rate Rate) (uint64, error) {
	product := uint256.NewInt(stakedRaw)
	if _, overflow := product.MulOverflow(product, uint256.NewInt(uint64(rate.Encoded()))); overflow {
		return 0, overflowf("linear_reward", "staked %d at rate %d", stakedRaw, rate.Encoded())
	}
	if _, overflow := product.MulOverflow(product, uint256.NewInt(uint64(elapsedSeconds))); overflow {
		return 0, overflowf("linear_reward", "staked %d over %ds", stakedRaw, elapsedSeconds)
	}
	product.Div(product, fractionDenominator256)
	if !product.IsUint64() {
		return 0, overflowf("linear_reward", "staked %d at rate %d over %ds", stakedRaw, rate.Encoded(), elapsedSeconds)
	}
	return product.Uint64(), nil
}

// CompoundFactor returns (1 + r)^n - 1 computed as expm1(n * log1p(r)).
func CompoundFactor(rate Rate, elapsedSeconds int64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return math.Expm1(float64(elapsedSeconds) * math.Log1p(rate.Float64()))
}

func (c *Calculator) compoundReward(stakedRaw uint64, elapsedSeconds int64, rate Rate) (uint64, error) {
	factor := CompoundFactor(rate, elapsedSeconds)
	if math.IsInf(factor, 0) || math.IsNaN(factor) {
		return 0, overflowf("compound_reward", "growth factor diverges for rate %d over %ds", rate.Encoded(), elapsedSeconds)
	}
	principal := c.units.ToDisplay(stakedRaw)
	rewardTokens := new(big.Rat).Mul(principal, new(big.Rat).SetFloat64(factor))
	reward, err := c.units.ToRaw(rewardTokens)
	if err != nil {
		return 0, overflowf("compound_reward", "staked %d at rate %d over %ds", stakedRaw, rate.Encoded(), elapsedSeconds)
	}
	return reward, nil
}
