package staking

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is the configuration error: no program config exists yet.
	ErrNotInitialized         = errors.New("staking: program not initialized")
	ErrAlreadyInitialized     = errors.New("staking: program already initialized")
	ErrInvalidRate            = errors.New("staking: invalid rate")
	ErrBelowThreshold         = errors.New("staking: amount below threshold")
	ErrInsufficientPrincipal  = errors.New("staking: insufficient principal")
	ErrOverflow               = errors.New("staking: arithmetic overflow")
	ErrInvalidAmount          = errors.New("staking: amount must be positive")
	ErrInvalidDecimals        = errors.New("staking: unsupported decimals")
	ErrInvalidModel           = errors.New("staking: unknown reward model")
	ErrImmutableModel         = errors.New("staking: reward model cannot change after initialization")
	ErrUnauthorized           = errors.New("staking: unauthorized")
	ErrNothingStaked          = errors.New("staking: nothing staked")
	ErrInsufficientBalance    = errors.New("staking: insufficient token balance")
	ErrInsufficientRewardPool = errors.New("staking: reward vault cannot cover payout")
	ErrSettlementConflict     = errors.New("staking: settlement id reused for a different request")
	ErrInvalidSettlementID    = errors.New("staking: settlement id required")
)

// ThresholdError reports a ThresholdGate rejection with the values needed to
// explain the shortfall.
type ThresholdError struct {
	Operation    Operation
	AmountRaw    uint64
	ThresholdRaw uint64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("staking: %s amount %d below threshold %d", e.Operation, e.AmountRaw, e.ThresholdRaw)
}

func (e *ThresholdError) Unwrap() error { return ErrBelowThreshold }

// PrincipalError reports an unstake request larger than the staked principal.
type PrincipalError struct {
	RequestedRaw uint64
	StakedRaw    uint64
}

func (e *PrincipalError) Error() string {
	return fmt.Sprintf("staking: unstake %d exceeds staked principal %d", e.RequestedRaw, e.StakedRaw)
}

func (e *PrincipalError) Unwrap() error { return ErrInsufficientPrincipal }

// OverflowError identifies the computation that left the uint64 range.
type OverflowError struct {
	Operation string
	Detail    string
}

func (e *OverflowError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("staking: %s overflows uint64", e.Operation)
	}
	return fmt.Sprintf("staking: %s overflows uint64 (%s)", e.Operation, e.Detail)
}

func (e *OverflowError) Unwrap() error { return ErrOverflow }

// RateError reports a rate outside the encodable range.
type RateError struct {
	Value  string
	Reason string
}

func (e *RateError) Error() string {
	return fmt.Sprintf("staking: invalid rate %s: %s", e.Value, e.Reason)
}

func (e *RateError) Unwrap() error { return ErrInvalidRate }

// PoolError reports a vault that cannot cover a payout.
type PoolError struct {
	RequiredRaw  uint64
	AvailableRaw uint64
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("staking: reward vault holds %d, payout needs %d", e.AvailableRaw, e.RequiredRaw)
}

func (e *PoolError) Unwrap() error { return ErrInsufficientRewardPool }

func overflowf(operation, format string, args ...any) error {
	return &OverflowError{Operation: operation, Detail: fmt.Sprintf(format, args...)}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotInitialized, "not_initialized"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrInvalidRate, "invalid_rate"},
	{ErrBelowThreshold, "below_threshold"},
	{ErrInsufficientPrincipal, "insufficient_principal"},
	{ErrOverflow, "overflow"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidDecimals, "invalid_decimals"},
	{ErrInvalidModel, "invalid_model"},
	{ErrImmutableModel, "immutable_model"},
	{ErrUnauthorized, "unauthorized"},
	{ErrNothingStaked, "nothing_staked"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInsufficientRewardPool, "insufficient_reward_pool"},
	{ErrSettlementConflict, "settlement_conflict"},
	{ErrInvalidSettlementID, "invalid_settlement_id"},
}

// ErrorCode returns a stable machine-readable code for err, or "internal"
// when err is not part of the staking taxonomy.
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
