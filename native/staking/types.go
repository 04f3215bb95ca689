package staking

// AccountState is the StakingLedger state of an owner.
type AccountState uint8

const (
	StateUnstaked AccountState = iota
	StateStaked
)

func (s AccountState) String() string {
	if s == StateStaked {
		return "staked"
	}
	return "unstaked"
}

// StakingAccount is the authoritative per-owner record.
type StakingAccount struct {
	Owner             [20]byte
	StakedAmountRaw   uint64
	StakeStartTime    int64
	LastHarvestTime   int64
	TotalHarvestedRaw uint64
}

// State reports whether the account currently holds principal.
func (a *StakingAccount) State() AccountState {
	if a == nil || a.StakedAmountRaw == 0 {
		return StateUnstaked
	}
	return StateStaked
}

// Clone returns a copy safe for mutation.
func (a *StakingAccount) Clone() *StakingAccount {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// RewardPreview is the derived, never-persisted view of pending rewards.
type RewardPreview struct {
	Owner                [20]byte
	PendingRaw           uint64
	PendingDisplay       string
	ElapsedSeconds       int64
	StakedAmountRaw      uint64
	RatePerSecondEncoded uint32
	Model                RewardModel
	ConfigVersion        uint64
	ComputedAt           int64
}

// SettlementStatus distinguishes fresh commits from replays.
type SettlementStatus string

const (
	StatusCommitted      SettlementStatus = "committed"
	StatusAlreadySettled SettlementStatus = "already_settled"
)

// Request is a settlement submission. ID is chosen by the submitter and reused
// across retries of the same logical operation.
type Request struct {
	ID        string
	Operation Operation
	Caller    [20]byte
	AmountRaw uint64
	Update    *ConfigUpdate
	Genesis   *ProgramConfig
	// ForfeitReward makes an unstake return principal without paying the
	// pending reward, so principal stays reachable when the reward cannot be
	// computed or the reward pool is short.
	ForfeitReward bool
}

// Receipt records a committed settlement.
type Receipt struct {
	ID                string
	Operation         Operation
	Owner             [20]byte
	AmountRaw         uint64
	RewardRaw         uint64
	StakedAfterRaw    uint64
	TotalHarvestedRaw uint64
	ConfigVersion     uint64
	SettledAt         int64
	Fingerprint       [32]byte
	Status            SettlementStatus
	ForfeitedRaw      uint64
	ForfeitReason     string
}

// Clone returns a copy safe for mutation.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
