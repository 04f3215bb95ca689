package events

import (
	"strconv"

	"yieldstake/core/types"
)

const (
	// TypeStakingInitialized is emitted once when the program configuration is created.
	TypeStakingInitialized = "staking.initialized"
	// TypeStakingConfigUpdated is emitted for every admin configuration change.
	TypeStakingConfigUpdated = "staking.configUpdated"
	// TypeStakingRewardsFunded is emitted when the reward vault receives tokens.
	TypeStakingRewardsFunded = "staking.rewardsFunded"
	// TypeStakingStaked captures principal moved into the stake vault.
	TypeStakingStaked = "staking.staked"
	// TypeStakingHarvested captures a reward payout.
	TypeStakingHarvested = "staking.harvested"
	// TypeStakingUnstaked captures principal returned to the owner.
	TypeStakingUnstaked = "staking.unstaked"
)

// StakingInitialized records the genesis program configuration.
type StakingInitialized struct {
	Admin                [20]byte
	RatePerSecondEncoded uint32
	Model                string
	Decimals             uint8
	StakeToken           string
	RewardToken          string
}

// EventType satisfies the Event interface.
func (StakingInitialized) EventType() string { return TypeStakingInitialized }

// Event converts the structured payload into a broadcastable event.
func (e StakingInitialized) Event() *types.Event {
	return &types.Event{Type: TypeStakingInitialized, Attributes: map[string]string{
		"admin":       ownerString(e.Admin),
		"rate":        strconv.FormatUint(uint64(e.RatePerSecondEncoded), 10),
		"model":       e.Model,
		"decimals":    strconv.FormatUint(uint64(e.Decimals), 10),
		"stakeToken":  normalizeAsset(e.StakeToken),
		"rewardToken": normalizeAsset(e.RewardToken),
	}}
}

// StakingConfigUpdated records the admin-mutable fields after an update.
type StakingConfigUpdated struct {
	Admin                [20]byte
	Version              uint64
	RatePerSecondEncoded uint32
	StakeThresholdRaw    uint64
	UnstakeThresholdRaw  uint64
	HarvestThresholdRaw  uint64
}

// EventType satisfies the Event interface.
func (StakingConfigUpdated) EventType() string { return TypeStakingConfigUpdated }

// Event converts the structured payload into a broadcastable event.
func (e StakingConfigUpdated) Event() *types.Event {
	return &types.Event{Type: TypeStakingConfigUpdated, Attributes: map[string]string{
		"admin":            ownerString(e.Admin),
		"version":          strconv.FormatUint(e.Version, 10),
		"rate":             strconv.FormatUint(uint64(e.RatePerSecondEncoded), 10),
		"stakeThreshold":   formatRaw(e.StakeThresholdRaw),
		"unstakeThreshold": formatRaw(e.UnstakeThresholdRaw),
		"harvestThreshold": formatRaw(e.HarvestThresholdRaw),
	}}
}

// StakingRewardsFunded records a deposit into the reward vault.
type StakingRewardsFunded struct {
	Funder          [20]byte
	AmountRaw       uint64
	VaultBalanceRaw uint64
}

// EventType satisfies the Event interface.
func (StakingRewardsFunded) EventType() string { return TypeStakingRewardsFunded }

// Event converts the structured payload into a broadcastable event.
func (e StakingRewardsFunded) Event() *types.Event {
	return &types.Event{Type: TypeStakingRewardsFunded, Attributes: map[string]string{
		"funder":       ownerString(e.Funder),
		"amount":       formatRaw(e.AmountRaw),
		"vaultBalance": formatRaw(e.VaultBalanceRaw),
	}}
}

// StakingStaked captures a stake settlement.
type StakingStaked struct {
	Owner          [20]byte
	SettlementID   string
	AmountRaw      uint64
	StakedAfterRaw uint64
}

// EventType satisfies the Event interface.
func (StakingStaked) EventType() string { return TypeStakingStaked }

// Event converts the structured payload into a broadcastable event.
func (e StakingStaked) Event() *types.Event {
	return &types.Event{Type: TypeStakingStaked, Attributes: map[string]string{
		"owner":       ownerString(e.Owner),
		"settlement":  e.SettlementID,
		"amount":      formatRaw(e.AmountRaw),
		"stakedAfter": formatRaw(e.StakedAfterRaw),
	}}
}

// StakingHarvested captures a reward payout.
type StakingHarvested struct {
	Owner             [20]byte
	SettlementID      string
	RewardRaw         uint64
	ElapsedSeconds    int64
	TotalHarvestedRaw uint64
}

// EventType satisfies the Event interface.
func (StakingHarvested) EventType() string { return TypeStakingHarvested }

// Event converts the structured payload into a broadcastable event.
func (e StakingHarvested) Event() *types.Event {
	return &types.Event{Type: TypeStakingHarvested, Attributes: map[string]string{
		"owner":          ownerString(e.Owner),
		"settlement":     e.SettlementID,
		"reward":         formatRaw(e.RewardRaw),
		"elapsed":        strconv.FormatInt(e.ElapsedSeconds, 10),
		"totalHarvested": formatRaw(e.TotalHarvestedRaw),
	}}
}

// StakingUnstaked captures principal withdrawal together with the implicit
// harvest that precedes it.
type StakingUnstaked struct {
	Owner          [20]byte
	SettlementID   string
	AmountRaw      uint64
	RewardRaw      uint64
	StakedAfterRaw uint64
	ForfeitedRaw   uint64
	ForfeitReason  string
}

// EventType satisfies the Event interface.
func (StakingUnstaked) EventType() string { return TypeStakingUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e StakingUnstaked) Event() *types.Event {
	attrs := map[string]string{
		"owner":       ownerString(e.Owner),
		"settlement":  e.SettlementID,
		"amount":      formatRaw(e.AmountRaw),
		"stakedAfter": formatRaw(e.StakedAfterRaw),
	}
	if e.RewardRaw > 0 {
		attrs["reward"] = formatRaw(e.RewardRaw)
	}
	if e.ForfeitReason != "" {
		attrs["forfeited"] = formatRaw(e.ForfeitedRaw)
		attrs["forfeitReason"] = e.ForfeitReason
	}
	return &types.Event{Type: TypeStakingUnstaked, Attributes: attrs}
}
