package staking

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/jonboulle/clockwork"
	"lukechampine.com/blake3"

	"yieldstake/core/events"
	"yieldstake/core/types"
	"yieldstake/crypto"
)

const (
	StakeVaultName  = "stake"
	RewardVaultName = "reward"
)

// State is the persistence surface the engine mutates. Implementations are
// expected to buffer writes and commit them atomically once Execute returns
// without error; a failed Execute must leave the committed state untouched.
type State interface {
	ProgramConfig() (*ProgramConfig, error)
	PutProgramConfig(cfg *ProgramConfig) error
	StakingAccount(owner [20]byte) (*StakingAccount, error)
	PutStakingAccount(account *StakingAccount) error
	TokenBalance(addr [20]byte, token string) (uint64, error)
	SetTokenBalance(addr [20]byte, token string, amount uint64) error
	Receipt(id string) (*Receipt, error)
	PutReceipt(receipt *Receipt) error
	AppendEvent(evt *types.Event)
}

// Engine applies settlement requests to a State. It holds no ledger data of
// its own; all inputs arrive through the State and the Request.
type Engine struct {
	clock       clockwork.Clock
	logger      *slog.Logger
	stakeVault  [20]byte
	rewardVault [20]byte
}

// NewEngine constructs an engine reading time from clock.
func NewEngine(clock clockwork.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		clock:       clock,
		logger:      logger.With("module", "staking"),
		stakeVault:  crypto.VaultAddress(StakeVaultName).Array(),
		rewardVault: crypto.VaultAddress(RewardVaultName).Array(),
	}
}

// Now returns the engine clock in unix seconds.
func (e *Engine) Now() int64 { return e.clock.Now().Unix() }

func (e *Engine) StakeVault() [20]byte { return e.stakeVault }

func (e *Engine) RewardVault() [20]byte { return e.rewardVault }

// Fingerprint hashes the fields that define a request so that a retried
// submission can be told apart from a different request reusing its ID.
func Fingerprint(req Request) [32]byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, string(req.Operation)...)
	buf = append(buf, 0)
	buf = append(buf, req.Caller[:]...)
	buf = binary.BigEndian.AppendUint64(buf, req.AmountRaw)
	if req.Update != nil {
		buf = append(buf, 'u')
		buf = binary.BigEndian.AppendUint32(buf, req.Update.RatePerSecondEncoded)
		buf = binary.BigEndian.AppendUint64(buf, req.Update.HarvestThresholdRaw)
		buf = binary.BigEndian.AppendUint64(buf, req.Update.StakeThresholdRaw)
		buf = binary.BigEndian.AppendUint64(buf, req.Update.UnstakeThresholdRaw)
	}
	if g := req.Genesis; g != nil {
		buf = append(buf, 'g')
		buf = append(buf, g.Admin[:]...)
		buf = binary.BigEndian.AppendUint32(buf, g.RatePerSecondEncoded)
		buf = binary.BigEndian.AppendUint64(buf, g.HarvestThresholdRaw)
		buf = binary.BigEndian.AppendUint64(buf, g.StakeThresholdRaw)
		buf = binary.BigEndian.AppendUint64(buf, g.UnstakeThresholdRaw)
		buf = append(buf, byte(g.Model), g.Decimals)
		buf = append(buf, strings.ToUpper(g.StakeToken)...)
		buf = append(buf, 0)
		buf = append(buf, strings.ToUpper(g.RewardToken)...)
	}
	if req.ForfeitReward {
		buf = append(buf, 'f')
	}
	return blake3.Sum256(buf)
}

// Execute settles req against st. A settlement ID that was already committed
// with the same request returns the stored receipt marked AlreadySettled.
func (e *Engine) Execute(st State, req Request) (*Receipt, error) {
	if st == nil {
		return nil, errors.New("staking: state not configured")
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return nil, ErrInvalidSettlementID
	}
	if !req.Operation.Valid() {
		return nil, fmt.Errorf("staking: unknown operation %q", req.Operation)
	}
	fingerprint := Fingerprint(req)
	existing, err := st.Receipt(req.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Fingerprint != fingerprint {
			return nil, fmt.Errorf("%w: %s", ErrSettlementConflict, req.ID)
		}
		replay := existing.Clone()
		replay.Status = StatusAlreadySettled
		return replay, nil
	}

	now := e.Now()
	var receipt *Receipt
	switch req.Operation {
	case OpInitialize:
		receipt, err = e.initialize(st, req, now)
	case OpUpdateConfig:
		receipt, err = e.updateConfig(st, req, now)
	case OpFundRewards:
		receipt, err = e.fundRewards(st, req)
	case OpStake:
		receipt, err = e.stake(st, req, now)
	case OpHarvest:
		receipt, err = e.harvest(st, req, now)
	case OpUnstake:
		receipt, err = e.unstake(st, req, now)
	}
	if err != nil {
		if errors.Is(err, ErrOverflow) {
			e.logger.Error("settlement overflow",
				slog.String("settlement", req.ID),
				slog.String("operation", string(req.Operation)),
				slog.Any("error", err))
		}
		return nil, err
	}
	receipt.ID = req.ID
	receipt.Operation = req.Operation
	receipt.Fingerprint = fingerprint
	receipt.SettledAt = now
	receipt.Status = StatusCommitted
	if err := st.PutReceipt(receipt); err != nil {
		return nil, err
	}
	return receipt.Clone(), nil
}

// Config returns the program configuration.
func (e *Engine) Config(st State) (*ProgramConfig, error) {
	cfg, err := st.ProgramConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// Account returns the owner's account, or an empty unstaked record when the
// owner has never staked.
func (e *Engine) Account(st State, owner [20]byte) (*StakingAccount, error) {
	account, err := st.StakingAccount(owner)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &StakingAccount{Owner: owner}, nil
	}
	return account, nil
}

// Preview computes pending rewards at the engine's current time.
func (e *Engine) Preview(st State, owner [20]byte) (*RewardPreview, error) {
	cfg, err := e.Config(st)
	if err != nil {
		return nil, err
	}
	account, err := e.Account(st, owner)
	if err != nil {
		return nil, err
	}
	return PreviewReward(cfg, account, e.Now())
}

// PreviewReward is the read-only counterpart of a harvest. Settlement pays
// exactly PendingRaw when executed at the same now.
func PreviewReward(cfg *ProgramConfig, account *StakingAccount, now int64) (*RewardPreview, error) {
	if cfg == nil {
		return nil, ErrNotInitialized
	}
	if account == nil {
		account = &StakingAccount{}
	}
	pending, elapsed, err := pendingReward(cfg, account, now)
	if err != nil {
		return nil, err
	}
	units, err := cfg.Units()
	if err != nil {
		return nil, err
	}
	return &RewardPreview{
		Owner:                account.Owner,
		PendingRaw:           pending,
		PendingDisplay:       units.Format(pending),
		ElapsedSeconds:       elapsed,
		StakedAmountRaw:      account.StakedAmountRaw,
		RatePerSecondEncoded: cfg.RatePerSecondEncoded,
		Model:                cfg.Model,
		ConfigVersion:        cfg.Version,
		ComputedAt:           now,
	}, nil
}

// pendingReward is the single reward computation shared by preview, harvest
// and unstake.
func pendingReward(cfg *ProgramConfig, account *StakingAccount, now int64) (uint64, int64, error) {
	if account.StakedAmountRaw == 0 {
		return 0, 0, nil
	}
	rate, err := cfg.Rate()
	if err != nil {
		return 0, 0, err
	}
	calc, err := cfg.Calculator()
	if err != nil {
		return 0, 0, err
	}
	elapsed := ElapsedSeconds(now, account.LastHarvestTime)
	reward, err := calc.Reward(account.StakedAmountRaw, elapsed, rate)
	if err != nil {
		return 0, elapsed, err
	}
	return reward, elapsed, nil
}

func (e *Engine) initialize(st State, req Request, now int64) (*Receipt, error) {
	existing, err := st.ProgramConfig()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyInitialized
	}
	if req.Genesis == nil {
		return nil, fmt.Errorf("%w: genesis configuration required", ErrNotInitialized)
	}
	cfg := req.Genesis.Clone().Normalize()
	if cfg.Admin == ([20]byte{}) {
		cfg.Admin = req.Caller
	}
	if cfg.Admin != req.Caller {
		return nil, fmt.Errorf("%w: initializer is not the configured admin", ErrUnauthorized)
	}
	if cfg.Model == 0 {
		cfg.Model = ModelLinear
	}
	cfg.Version = 1
	cfg.UpdatedAt = now
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := st.PutProgramConfig(cfg); err != nil {
		return nil, err
	}
	st.AppendEvent(events.StakingInitialized{
		Admin:                cfg.Admin,
		RatePerSecondEncoded: cfg.RatePerSecondEncoded,
		Model:                cfg.Model.String(),
		Decimals:             cfg.Decimals,
		StakeToken:           cfg.StakeToken,
		RewardToken:          cfg.RewardToken,
	}.Event())
	e.logger.Info("staking program initialized",
		slog.String("model", cfg.Model.String()),
		slog.Uint64("rate", uint64(cfg.RatePerSecondEncoded)),
		slog.Int("decimals", int(cfg.Decimals)))
	return &Receipt{Owner: req.Caller, ConfigVersion: cfg.Version}, nil
}

func (e *Engine) updateConfig(st State, req Request, now int64) (*Receipt, error) {
	cfg, err := e.Config(st)
	if err != nil {
		return nil, err
	}
	if req.Caller != cfg.Admin {
		return nil, ErrUnauthorized
	}
	if req.Update == nil {
		return nil, errors.New("staking: config update required")
	}
	if req.Genesis != nil && req.Genesis.Model != 0 && req.Genesis.Model != cfg.Model {
		return nil, ErrImmutableModel
	}
	next, err := cfg.Apply(*req.Update, now)
	if err != nil {
		return nil, err
	}
	if err := st.PutProgramConfig(next); err != nil {
		return nil, err
	}
	st.AppendEvent(events.StakingConfigUpdated{
		Admin:                next.Admin,
		Version:              next.Version,
		RatePerSecondEncoded: next.RatePerSecondEncoded,
		StakeThresholdRaw:    next.StakeThresholdRaw,
		UnstakeThresholdRaw:  next.UnstakeThresholdRaw,
		HarvestThresholdRaw:  next.HarvestThresholdRaw,
	}.Event())
	e.logger.Info("staking config updated",
		slog.Uint64("version", next.Version),
		slog.Uint64("rate", uint64(next.RatePerSecondEncoded)))
	return &Receipt{Owner: req.Caller, ConfigVersion: next.Version}, nil
}

func (e *Engine) fundRewards(st State, req Request) (*Receipt, error) {
	cfg, err := e.Config(st)
	if err != nil {
		return nil, err
	}
	if req.AmountRaw == 0 {
		return nil, ErrInvalidAmount
	}
	funderBalance, err := st.TokenBalance(req.Caller, cfg.RewardToken)
	if err != nil {
		return nil, err
	}
	if funderBalance < req.AmountRaw {
		return nil, fmt.Errorf("%w: %s balance %d, need %d", ErrInsufficientBalance, cfg.RewardToken, funderBalance, req.AmountRaw)
	}
	vaultBalance, err := st.TokenBalance(e.rewardVault, cfg.RewardToken)
	if err != nil {
		return nil, err
	}
	vaultAfter, err := addRaw("fund_rewards", vaultBalance, req.AmountRaw)
	if err != nil {
		return nil, err
	}
	if err := st.SetTokenBalance(req.Caller, cfg.RewardToken, funderBalance-req.AmountRaw); err != nil {
		return nil, err
	}
	if err := st.SetTokenBalance(e.rewardVault, cfg.RewardToken, vaultAfter); err != nil {
		return nil, err
	}
	st.AppendEvent(events.StakingRewardsFunded{Funder: req.Caller, AmountRaw: req.AmountRaw, VaultBalanceRaw: vaultAfter}.Event())
	return &Receipt{Owner: req.Caller, AmountRaw: req.AmountRaw, ConfigVersion: cfg.Version}, nil
}

func (e *Engine) stake(st State, req Request, now int64) (*Receipt, error) {
	cfg, err := e.Config(st)
	if err != nil {
		return nil, err
	}
	if req.AmountRaw == 0 {
		return nil, ErrInvalidAmount
	}
	if err := CheckThreshold(OpStake, req.AmountRaw, cfg.ThresholdFor(OpStake)); err != nil {
		return nil, err
	}
	account, err := e.Account(st, req.Caller)
	if err != nil {
		return nil, err
	}
	account = account.Clone()
	stakedAfter, err := addRaw("stake", account.StakedAmountRaw, req.AmountRaw)
	if err != nil {
		return nil, err
	}
	ownerBalance, err := st.TokenBalance(req.Caller, cfg.StakeToken)
	if err != nil {
		return nil, err
	}
	if ownerBalance < req.AmountRaw {
		return nil, fmt.Errorf("%w: %s balance %d, need %d", ErrInsufficientBalance, cfg.StakeToken, ownerBalance, req.AmountRaw)
	}
	vaultBalance, err := st.TokenBalance(e.stakeVault, cfg.StakeToken)
	if err != nil {
		return nil, err
	}
	vaultAfter, err := addRaw("stake_vault", vaultBalance, req.AmountRaw)
	if err != nil {
		return nil, err
	}

	if account.State() == StateUnstaked {
		start := maxTime(now, account.LastHarvestTime)
		account.StakeStartTime = maxTime(start, account.StakeStartTime)
		account.LastHarvestTime = start
	}
	account.StakedAmountRaw = stakedAfter

	if err := st.SetTokenBalance(req.Caller, cfg.StakeToken, ownerBalance-req.AmountRaw); err != nil {
		return nil, err
	}
	if err := st.SetTokenBalance(e.stakeVault, cfg.StakeToken, vaultAfter); err != nil {
		return nil, err
	}
	if err := st.PutStakingAccount(account); err != nil {
		return nil, err
	}
	st.AppendEvent(events.StakingStaked{
		Owner:          account.Owner,
		SettlementID:   req.ID,
		AmountRaw:      req.AmountRaw,
		StakedAfterRaw: stakedAfter,
	}.Event())
	return &Receipt{
		Owner:             account.Owner,
		AmountRaw:         req.AmountRaw,
		StakedAfterRaw:    stakedAfter,
		TotalHarvestedRaw: account.TotalHarvestedRaw,
		ConfigVersion:     cfg.Version,
	}, nil
}

func (e *Engine) harvest(st State, req Request, now int64) (*Receipt, error) {
	cfg, err := e.Config(st)
	if err != nil {
		return nil, err
	}
	account, err := st.StakingAccount(req.Caller)
	if err != nil {
		return nil, err
	}
	if account.State() == StateUnstaked {
		return nil, ErrNothingStaked
	}
	account = account.Clone()
	reward, elapsed, err := pendingReward(cfg, account, now)
	if err != nil {
		return nil, err
	}
	if err := CheckThreshold(OpHarvest, reward, cfg.ThresholdFor(OpHarvest)); err != nil {
		return nil, err
	}
	if err := e.payReward(st, cfg, account, reward, now); err != nil {
		return nil, err
	}
	if err := st.PutStakingAccount(account); err != nil {
		return nil, err
	}
	st.AppendEvent(events.StakingHarvested{
		Owner:             account.Owner,
		SettlementID:      req.ID,
		RewardRaw:         reward,
		ElapsedSeconds:    elapsed,
		TotalHarvestedRaw: account.TotalHarvestedRaw,
	}.Event())
	return &Receipt{
		Owner:             account.Owner,
		RewardRaw:         reward,
		StakedAfterRaw:    account.StakedAmountRaw,
		TotalHarvestedRaw: account.TotalHarvestedRaw,
		ConfigVersion:     cfg.Version,
	}, nil
}

func (e *Engine) unstake(st State, req Request, now int64) (*Receipt, error) {
	cfg, err := e.Config(st)
	if err != nil {
		return nil, err
	}
	if req.AmountRaw == 0 {
		return nil, ErrInvalidAmount
	}
	account, err := st.StakingAccount(req.Caller)
	if err != nil {
		return nil, err
	}
	if account.State() == StateUnstaked {
		return nil, ErrNothingStaked
	}
	if req.AmountRaw > account.StakedAmountRaw {
		return nil, &PrincipalError{RequestedRaw: req.AmountRaw, StakedRaw: account.StakedAmountRaw}
	}
	if err := CheckThreshold(OpUnstake, req.AmountRaw, cfg.ThresholdFor(OpUnstake)); err != nil {
		return nil, err
	}
	account = account.Clone()
	var reward, forfeited uint64
	var forfeitReason string
	if req.ForfeitReward {
		forfeited, forfeitReason, err = forfeitableReward(cfg, account, now)
	} else {
		reward, _, err = pendingReward(cfg, account, now)
	}
	if err != nil {
		return nil, err
	}
	vaultBalance, err := st.TokenBalance(e.stakeVault, cfg.StakeToken)
	if err != nil {
		return nil, err
	}
	if vaultBalance < req.AmountRaw {
		return nil, fmt.Errorf("staking: stake vault holds %d, unstake needs %d", vaultBalance, req.AmountRaw)
	}
	ownerBalance, err := st.TokenBalance(req.Caller, cfg.StakeToken)
	if err != nil {
		return nil, err
	}
	ownerAfter, err := addRaw("unstake", ownerBalance, req.AmountRaw)
	if err != nil {
		return nil, err
	}
	if req.ForfeitReward {
		account.LastHarvestTime = maxTime(now, account.LastHarvestTime)
	} else if err := e.payReward(st, cfg, account, reward, now); err != nil {
		return nil, err
	}
	account.StakedAmountRaw -= req.AmountRaw
	if err := st.SetTokenBalance(e.stakeVault, cfg.StakeToken, vaultBalance-req.AmountRaw); err != nil {
		return nil, err
	}
	if err := st.SetTokenBalance(req.Caller, cfg.StakeToken, ownerAfter); err != nil {
		return nil, err
	}
	if err := st.PutStakingAccount(account); err != nil {
		return nil, err
	}
	st.AppendEvent(events.StakingUnstaked{
		Owner:          account.Owner,
		SettlementID:   req.ID,
		AmountRaw:      req.AmountRaw,
		RewardRaw:      reward,
		StakedAfterRaw: account.StakedAmountRaw,
		ForfeitedRaw:   forfeited,
		ForfeitReason:  forfeitReason,
	}.Event())
	if forfeitReason != "" {
		e.logger.Warn("unstake forfeited reward",
			slog.String("settlement", req.ID),
			slog.String("owner", fmt.Sprintf("%x", account.Owner)),
			slog.Uint64("forfeited", forfeited),
			slog.String("reason", forfeitReason))
	}
	return &Receipt{
		Owner:             account.Owner,
		AmountRaw:         req.AmountRaw,
		RewardRaw:         reward,
		StakedAfterRaw:    account.StakedAmountRaw,
		TotalHarvestedRaw: account.TotalHarvestedRaw,
		ConfigVersion:     cfg.Version,
		ForfeitedRaw:      forfeited,
		ForfeitReason:     forfeitReason,
	}, nil
}

// Forfeit reasons recorded on receipts and events.
const (
	ForfeitRequested = "requested"
	ForfeitOverflow  = "overflow"
)

// forfeitableReward reports the reward an unstake gives up. A reward too large
// to represent is forfeited as zero with reason overflow.
func forfeitableReward(cfg *ProgramConfig, account *StakingAccount, now int64) (uint64, string, error) {
	reward, _, err := pendingReward(cfg, account, now)
	if errors.Is(err, ErrOverflow) {
		return 0, ForfeitOverflow, nil
	}
	if err != nil {
		return 0, "", err
	}
	return reward, ForfeitRequested, nil
}

// payReward moves reward from the reward vault to the owner and advances the
// account's harvest bookkeeping. Every check precedes the first write.
func (e *Engine) payReward(st State, cfg *ProgramConfig, account *StakingAccount, reward uint64, now int64) error {
	totalAfter, err := addRaw("total_harvested", account.TotalHarvestedRaw, reward)
	if err != nil {
		return err
	}
	if reward > 0 {
		vaultBalance, err := st.TokenBalance(e.rewardVault, cfg.RewardToken)
		if err != nil {
			return err
		}
		if vaultBalance < reward {
			return &PoolError{RequiredRaw: reward, AvailableRaw: vaultBalance}
		}
		ownerBalance, err := st.TokenBalance(account.Owner, cfg.RewardToken)
		if err != nil {
			return err
		}
		ownerAfter, err := addRaw("reward_payout", ownerBalance, reward)
		if err != nil {
			return err
		}
		if err := st.SetTokenBalance(e.rewardVault, cfg.RewardToken, vaultBalance-reward); err != nil {
			return err
		}
		if err := st.SetTokenBalance(account.Owner, cfg.RewardToken, ownerAfter); err != nil {
			return err
		}
	}
	account.TotalHarvestedRaw = totalAfter
	account.LastHarvestTime = maxTime(now, account.LastHarvestTime)
	return nil
}

func addRaw(operation string, a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, overflowf(operation, "%d + %d", a, b)
	}
	return a + b, nil
}

func maxTime(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
