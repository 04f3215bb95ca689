package state

import (
	"yieldstake/native/staking"
)

// RLP has no signed integer encoding, so timestamps are persisted as uint64
// and clamped at zero.

type storedConfig struct {
	Version              uint64
	Admin                []byte
	RatePerSecondEncoded uint32
	HarvestThresholdRaw  uint64
	StakeThresholdRaw    uint64
	UnstakeThresholdRaw  uint64
	Model                uint8
	Decimals             uint8
	StakeToken           string
	RewardToken          string
	UpdatedAt            uint64
}

func newStoredConfig(cfg *staking.ProgramConfig) *storedConfig {
	return &storedConfig{
		Version:              cfg.Version,
		Admin:                append([]byte(nil), cfg.Admin[:]...),
		RatePerSecondEncoded: cfg.RatePerSecondEncoded,
		HarvestThresholdRaw:  cfg.HarvestThresholdRaw,
		StakeThresholdRaw:    cfg.StakeThresholdRaw,
		UnstakeThresholdRaw:  cfg.UnstakeThresholdRaw,
		Model:                uint8(cfg.Model),
		Decimals:             cfg.Decimals,
		StakeToken:           cfg.StakeToken,
		RewardToken:          cfg.RewardToken,
		UpdatedAt:            toStoredTime(cfg.UpdatedAt),
	}
}

func (s *storedConfig) toConfig() *staking.ProgramConfig {
	cfg := &staking.ProgramConfig{
		Version:              s.Version,
		RatePerSecondEncoded: s.RatePerSecondEncoded,
		HarvestThresholdRaw:  s.HarvestThresholdRaw,
		StakeThresholdRaw:    s.StakeThresholdRaw,
		UnstakeThresholdRaw:  s.UnstakeThresholdRaw,
		Model:                staking.RewardModel(s.Model),
		Decimals:             s.Decimals,
		StakeToken:           s.StakeToken,
		RewardToken:          s.RewardToken,
		UpdatedAt:            int64(s.UpdatedAt),
	}
	copy(cfg.Admin[:], s.Admin)
	return cfg
}

type storedAccount struct {
	Owner             []byte
	StakedAmountRaw   uint64
	StakeStartTime    uint64
	LastHarvestTime   uint64
	TotalHarvestedRaw uint64
}

func newStoredAccount(account *staking.StakingAccount) *storedAccount {
	return &storedAccount{
		Owner:             append([]byte(nil), account.Owner[:]...),
		StakedAmountRaw:   account.StakedAmountRaw,
		StakeStartTime:    toStoredTime(account.StakeStartTime),
		LastHarvestTime:   toStoredTime(account.LastHarvestTime),
		TotalHarvestedRaw: account.TotalHarvestedRaw,
	}
}

func (s *storedAccount) toAccount() *staking.StakingAccount {
	account := &staking.StakingAccount{
		StakedAmountRaw:   s.StakedAmountRaw,
		StakeStartTime:    int64(s.StakeStartTime),
		LastHarvestTime:   int64(s.LastHarvestTime),
		TotalHarvestedRaw: s.TotalHarvestedRaw,
	}
	copy(account.Owner[:], s.Owner)
	return account
}

type storedReceipt struct {
	ID                string
	Operation         string
	Owner             []byte
	AmountRaw         uint64
	RewardRaw         uint64
	StakedAfterRaw    uint64
	TotalHarvestedRaw uint64
	ConfigVersion     uint64
	SettledAt         uint64
	Fingerprint       []byte
	ForfeitedRaw      uint64 `rlp:"optional"`
	ForfeitReason     string `rlp:"optional"`
}

func newStoredReceipt(receipt *staking.Receipt) *storedReceipt {
	return &storedReceipt{
		ID:                receipt.ID,
		Operation:         string(receipt.Operation),
		Owner:             append([]byte(nil), receipt.Owner[:]...),
		AmountRaw:         receipt.AmountRaw,
		RewardRaw:         receipt.RewardRaw,
		StakedAfterRaw:    receipt.StakedAfterRaw,
		TotalHarvestedRaw: receipt.TotalHarvestedRaw,
		ConfigVersion:     receipt.ConfigVersion,
		SettledAt:         toStoredTime(receipt.SettledAt),
		Fingerprint:       append([]byte(nil), receipt.Fingerprint[:]...),
		ForfeitedRaw:      receipt.ForfeitedRaw,
		ForfeitReason:     receipt.ForfeitReason,
	}
}

func (s *storedReceipt) toReceipt() *staking.Receipt {
	receipt := &staking.Receipt{
		ID:                s.ID,
		Operation:         staking.Operation(s.Operation),
		AmountRaw:         s.AmountRaw,
		RewardRaw:         s.RewardRaw,
		StakedAfterRaw:    s.StakedAfterRaw,
		TotalHarvestedRaw: s.TotalHarvestedRaw,
		ConfigVersion:     s.ConfigVersion,
		SettledAt:         int64(s.SettledAt),
		Status:            staking.StatusCommitted,
		ForfeitedRaw:      s.ForfeitedRaw,
		ForfeitReason:     s.ForfeitReason,
	}
	copy(receipt.Owner[:], s.Owner)
	copy(receipt.Fingerprint[:], s.Fingerprint)
	return receipt
}

func toStoredTime(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
