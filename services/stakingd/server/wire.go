package server

import (
	"fmt"
	"strconv"
	"strings"

	"yieldstake/crypto"
	"yieldstake/native/staking"
)

type settleRequest struct {
	SettlementID string `json:"settlementId"`
	Owner        string `json:"owner"`
	Amount       string `json:"amount,omitempty"`
	// ForfeitReward is honoured on unstake only.
	ForfeitReward bool `json:"forfeitReward,omitempty"`
}

type configUpdateRequest struct {
	SettlementID         string `json:"settlementId"`
	Caller               string `json:"caller"`
	RatePerSecondEncoded uint32 `json:"ratePerSecondEncoded"`
	HarvestThresholdRaw  string `json:"harvestThresholdRaw"`
	StakeThresholdRaw    string `json:"stakeThresholdRaw"`
	UnstakeThresholdRaw  string `json:"unstakeThresholdRaw"`
}

type fundRequest struct {
	SettlementID string `json:"settlementId"`
	Caller       string `json:"caller"`
	Amount       string `json:"amount"`
}

type receiptResponse struct {
	SettlementID   string `json:"settlementId"`
	Operation      string `json:"operation"`
	Owner          string `json:"owner"`
	Amount         string `json:"amount"`
	AmountDisplay  string `json:"amountDisplay,omitempty"`
	Reward         string `json:"reward"`
	RewardDisplay  string `json:"rewardDisplay,omitempty"`
	StakedAfter    string `json:"stakedAfter"`
	TotalHarvested string `json:"totalHarvested"`
	ConfigVersion  uint64 `json:"configVersion"`
	SettledAt      int64  `json:"settledAt"`
	Status         string `json:"status"`
	Forfeited      string `json:"forfeited,omitempty"`
	ForfeitReason  string `json:"forfeitReason,omitempty"`
}

type configResponse struct {
	Version              uint64 `json:"version"`
	Admin                string `json:"admin"`
	RatePerSecondEncoded uint32 `json:"ratePerSecondEncoded"`
	RatePerSecond        string `json:"ratePerSecond"`
	Model                string `json:"model"`
	Decimals             uint8  `json:"decimals"`
	StakeToken           string `json:"stakeToken"`
	RewardToken          string `json:"rewardToken"`
	StakeThresholdRaw    string `json:"stakeThresholdRaw"`
	UnstakeThresholdRaw  string `json:"unstakeThresholdRaw"`
	HarvestThresholdRaw  string `json:"harvestThresholdRaw"`
	StakeThreshold       string `json:"stakeThreshold"`
	UnstakeThreshold     string `json:"unstakeThreshold"`
	HarvestThreshold     string `json:"harvestThreshold"`
	UpdatedAt            int64  `json:"updatedAt"`
}

type accountResponse struct {
	Owner                 string `json:"owner"`
	State                 string `json:"state"`
	StakedAmount          string `json:"stakedAmount"`
	StakedAmountDisplay   string `json:"stakedAmountDisplay"`
	StakeStartTime        int64  `json:"stakeStartTime"`
	LastHarvestTime       int64  `json:"lastHarvestTime"`
	TotalHarvested        string `json:"totalHarvested"`
	TotalHarvestedDisplay string `json:"totalHarvestedDisplay"`
}

type previewResponse struct {
	Owner                string `json:"owner"`
	Pending              string `json:"pending"`
	PendingDisplay       string `json:"pendingDisplay"`
	ElapsedSeconds       int64  `json:"elapsedSeconds"`
	StakedAmount         string `json:"stakedAmount"`
	RatePerSecondEncoded uint32 `json:"ratePerSecondEncoded"`
	Model                string `json:"model"`
	ConfigVersion        uint64 `json:"configVersion"`
	ComputedAt           int64  `json:"computedAt"`
}

type historyResponse struct {
	Owner       string            `json:"owner"`
	Settlements []receiptResponse `json:"settlements"`
}

func ownerString(addr [20]byte) string {
	return crypto.AddressFromArray(crypto.OwnerPrefix, addr).String()
}

func parseOwner(value string) ([20]byte, error) {
	addr, err := crypto.DecodeOwner(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", errInvalidOwner, err)
	}
	return addr.Array(), nil
}

// parseRaw reads a raw-unit amount. Empty input is zero so the engine can
// reject it with its own error.
func parseRaw(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a u64 raw amount", staking.ErrInvalidAmount, value)
	}
	return amount, nil
}

func formatRaw(v uint64) string { return strconv.FormatUint(v, 10) }

func newReceiptResponse(r *staking.Receipt, units *staking.Units) receiptResponse {
	out := receiptResponse{
		SettlementID:   r.ID,
		Operation:      string(r.Operation),
		Owner:          ownerString(r.Owner),
		Amount:         formatRaw(r.AmountRaw),
		Reward:         formatRaw(r.RewardRaw),
		StakedAfter:    formatRaw(r.StakedAfterRaw),
		TotalHarvested: formatRaw(r.TotalHarvestedRaw),
		ConfigVersion:  r.ConfigVersion,
		SettledAt:      r.SettledAt,
		Status:         string(r.Status),
	}
	if units != nil {
		out.AmountDisplay = units.Format(r.AmountRaw)
		out.RewardDisplay = units.Format(r.RewardRaw)
	}
	if r.ForfeitReason != "" {
		out.Forfeited = formatRaw(r.ForfeitedRaw)
		out.ForfeitReason = r.ForfeitReason
	}
	return out
}

func newConfigResponse(cfg *staking.ProgramConfig) (configResponse, error) {
	rate, err := cfg.Rate()
	if err != nil {
		return configResponse{}, err
	}
	units, err := cfg.Units()
	if err != nil {
		return configResponse{}, err
	}
	return configResponse{
		Version:              cfg.Version,
		Admin:                ownerString(cfg.Admin),
		RatePerSecondEncoded: cfg.RatePerSecondEncoded,
		RatePerSecond:        rate.String(),
		Model:                cfg.Model.String(),
		Decimals:             cfg.Decimals,
		StakeToken:           cfg.StakeToken,
		RewardToken:          cfg.RewardToken,
		StakeThresholdRaw:    formatRaw(cfg.StakeThresholdRaw),
		UnstakeThresholdRaw:  formatRaw(cfg.UnstakeThresholdRaw),
		HarvestThresholdRaw:  formatRaw(cfg.HarvestThresholdRaw),
		StakeThreshold:       units.Format(cfg.StakeThresholdRaw),
		UnstakeThreshold:     units.Format(cfg.UnstakeThresholdRaw),
		HarvestThreshold:     units.Format(cfg.HarvestThresholdRaw),
		UpdatedAt:            cfg.UpdatedAt,
	}, nil
}

func newAccountResponse(account *staking.StakingAccount, units *staking.Units) accountResponse {
	out := accountResponse{
		Owner:           ownerString(account.Owner),
		State:           account.State().String(),
		StakedAmount:    formatRaw(account.StakedAmountRaw),
		StakeStartTime:  account.StakeStartTime,
		LastHarvestTime: account.LastHarvestTime,
		TotalHarvested:  formatRaw(account.TotalHarvestedRaw),
	}
	if units != nil {
		out.StakedAmountDisplay = units.Format(account.StakedAmountRaw)
		out.TotalHarvestedDisplay = units.Format(account.TotalHarvestedRaw)
	}
	return out
}

func newPreviewResponse(p *staking.RewardPreview) previewResponse {
	return previewResponse{
		Owner:                ownerString(p.Owner),
		Pending:              formatRaw(p.PendingRaw),
		PendingDisplay:       p.PendingDisplay,
		ElapsedSeconds:       p.ElapsedSeconds,
		StakedAmount:         formatRaw(p.StakedAmountRaw),
		RatePerSecondEncoded: p.RatePerSecondEncoded,
		Model:                p.Model.String(),
		ConfigVersion:        p.ConfigVersion,
		ComputedAt:           p.ComputedAt,
	}
}
