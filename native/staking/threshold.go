package staking

// Operation names a settlement operation.
type Operation string

const (
	OpInitialize   Operation = "initialize"
	OpStake        Operation = "stake"
	OpUnstake      Operation = "unstake"
	OpHarvest      Operation = "harvest"
	OpUpdateConfig Operation = "update_config"
	OpFundRewards  Operation = "fund_rewards"
)

func (op Operation) Valid() bool {
	switch op {
	case OpInitialize, OpStake, OpUnstake, OpHarvest, OpUpdateConfig, OpFundRewards:
		return true
	default:
		return false
	}
}

// CheckThreshold gates amountRaw against an inclusive minimum. Both values
// are raw units; display input must be converted with Units.Parse first.
func CheckThreshold(op Operation, amountRaw, thresholdRaw uint64) error {
	if amountRaw < thresholdRaw {
		return &ThresholdError{Operation: op, AmountRaw: amountRaw, ThresholdRaw: thresholdRaw}
	}
	return nil
}
