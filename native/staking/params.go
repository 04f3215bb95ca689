package staking

import (
	"fmt"
	"strings"
)

// ProgramConfig is the admin-owned global configuration. Calculations receive
// it explicitly; nothing in this package reads it from a global.
type ProgramConfig struct {
	Version              uint64
	Admin                [20]byte
	RatePerSecondEncoded uint32
	HarvestThresholdRaw  uint64
	StakeThresholdRaw    uint64
	UnstakeThresholdRaw  uint64
	Model                RewardModel
	Decimals             uint8
	StakeToken           string
	RewardToken          string
	UpdatedAt            int64
}

// ConfigUpdate carries the admin-mutable fields.
type ConfigUpdate struct {
	RatePerSecondEncoded uint32
	HarvestThresholdRaw  uint64
	StakeThresholdRaw    uint64
	UnstakeThresholdRaw  uint64
}

// Validate ensures the configuration is internally consistent.
func (c *ProgramConfig) Validate() error {
	if c == nil {
		return ErrNotInitialized
	}
	if _, err := DecodeRate(c.RatePerSecondEncoded); err != nil {
		return err
	}
	if !c.Model.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidModel, c.Model)
	}
	if c.Decimals > MaxDecimals {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidDecimals, c.Decimals, MaxDecimals)
	}
	if c.Admin == ([20]byte{}) {
		return fmt.Errorf("staking: admin address required")
	}
	stake := strings.TrimSpace(c.StakeToken)
	reward := strings.TrimSpace(c.RewardToken)
	if stake == "" || reward == "" {
		return fmt.Errorf("staking: stake and reward token symbols required")
	}
	if strings.EqualFold(stake, reward) {
		return fmt.Errorf("staking: stake and reward tokens must differ")
	}
	return nil
}

// Normalize upper-cases the token symbols.
func (c *ProgramConfig) Normalize() *ProgramConfig {
	if c == nil {
		return nil
	}
	c.StakeToken = strings.ToUpper(strings.TrimSpace(c.StakeToken))
	c.RewardToken = strings.ToUpper(strings.TrimSpace(c.RewardToken))
	return c
}

// Clone returns a copy safe for mutation.
func (c *ProgramConfig) Clone() *ProgramConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Rate decodes the configured rate.
func (c *ProgramConfig) Rate() (Rate, error) {
	return DecodeRate(c.RatePerSecondEncoded)
}

// Units returns the converter for the configured decimals.
func (c *ProgramConfig) Units() (Units, error) {
	return NewUnits(c.Decimals)
}

// Calculator returns the reward calculator for the configured model.
func (c *ProgramConfig) Calculator() (*Calculator, error) {
	return NewCalculator(c.Model, c.Decimals)
}

// ThresholdFor returns the minimum amount for an operation.
func (c *ProgramConfig) ThresholdFor(op Operation) uint64 {
	switch op {
	case OpStake:
		return c.StakeThresholdRaw
	case OpUnstake:
		return c.UnstakeThresholdRaw
	case OpHarvest:
		return c.HarvestThresholdRaw
	default:
		return 0
	}
}

// Apply returns the next config version with the update applied.
func (c *ProgramConfig) Apply(update ConfigUpdate, now int64) (*ProgramConfig, error) {
	if _, err := DecodeRate(update.RatePerSecondEncoded); err != nil {
		return nil, err
	}
	next := c.Clone()
	next.RatePerSecondEncoded = update.RatePerSecondEncoded
	next.HarvestThresholdRaw = update.HarvestThresholdRaw
	next.StakeThresholdRaw = update.StakeThresholdRaw
	next.UnstakeThresholdRaw = update.UnstakeThresholdRaw
	next.Version = c.Version + 1
	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}
