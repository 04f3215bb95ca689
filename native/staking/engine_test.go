package staking

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"yieldstake/core/types"
)

var (
	testAdmin = [20]byte{0xad}
	testOwner = [20]byte{0x01}
	testStart = time.Unix(1_700_000_000, 0)
)

type mockEngineState struct {
	config   *ProgramConfig
	accounts map[[20]byte]*StakingAccount
	balances map[string]uint64
	receipts map[string]*Receipt
	events   []*types.Event
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		accounts: make(map[[20]byte]*StakingAccount),
		balances: make(map[string]uint64),
		receipts: make(map[string]*Receipt),
	}
}

func balanceKey(addr [20]byte, token string) string {
	return fmt.Sprintf("%x/%s", addr, token)
}

func (m *mockEngineState) ProgramConfig() (*ProgramConfig, error) {
	return m.config.Clone(), nil
}

func (m *mockEngineState) PutProgramConfig(cfg *ProgramConfig) error {
	m.config = cfg.Clone()
	return nil
}

func (m *mockEngineState) StakingAccount(owner [20]byte) (*StakingAccount, error) {
	return m.accounts[owner].Clone(), nil
}

func (m *mockEngineState) PutStakingAccount(account *StakingAccount) error {
	m.accounts[account.Owner] = account.Clone()
	return nil
}

func (m *mockEngineState) TokenBalance(addr [20]byte, token string) (uint64, error) {
	return m.balances[balanceKey(addr, token)], nil
}

func (m *mockEngineState) SetTokenBalance(addr [20]byte, token string, amount uint64) error {
	m.balances[balanceKey(addr, token)] = amount
	return nil
}

func (m *mockEngineState) Receipt(id string) (*Receipt, error) {
	return m.receipts[id].Clone(), nil
}

func (m *mockEngineState) PutReceipt(receipt *Receipt) error {
	m.receipts[receipt.ID] = receipt.Clone()
	return nil
}

func (m *mockEngineState) AppendEvent(evt *types.Event) {
	m.events = append(m.events, evt)
}

func (m *mockEngineState) snapshot() *mockEngineState {
	clone := newMockEngineState()
	clone.config = m.config.Clone()
	for k, v := range m.accounts {
		clone.accounts[k] = v.Clone()
	}
	for k, v := range m.balances {
		clone.balances[k] = v
	}
	for k, v := range m.receipts {
		clone.receipts[k] = v.Clone()
	}
	clone.events = append(clone.events, m.events...)
	return clone
}

type engineFixture struct {
	engine *Engine
	state  *mockEngineState
	clock  *clockwork.FakeClock
	seq    int
}

func newEngineFixture(t *testing.T, mutate func(cfg *ProgramConfig)) *engineFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	f := &engineFixture{
		engine: NewEngine(clock, nil),
		state:  newMockEngineState(),
		clock:  clock,
	}
	genesis := &ProgramConfig{
		Admin:                testAdmin,
		RatePerSecondEncoded: 12,
		Model:                ModelLinear,
		Decimals:             9,
		StakeToken:           "stk",
		RewardToken:          "rwd",
	}
	if mutate != nil {
		mutate(genesis)
	}
	_, err := f.execute(Request{Operation: OpInitialize, Caller: testAdmin, Genesis: genesis})
	require.NoError(t, err)
	return f
}

func (f *engineFixture) nextID() string {
	f.seq++
	return fmt.Sprintf("settlement-%d", f.seq)
}

func (f *engineFixture) execute(req Request) (*Receipt, error) {
	if req.ID == "" {
		req.ID = f.nextID()
	}
	return f.engine.Execute(f.state, req)
}

func (f *engineFixture) credit(addr [20]byte, token string, amount uint64) {
	f.state.balances[balanceKey(addr, token)] += amount
}

func (f *engineFixture) balance(addr [20]byte, token string) uint64 {
	return f.state.balances[balanceKey(addr, token)]
}

func (f *engineFixture) fund(t *testing.T, amount uint64) {
	t.Helper()
	f.credit(testAdmin, "RWD", amount)
	_, err := f.execute(Request{Operation: OpFundRewards, Caller: testAdmin, AmountRaw: amount})
	require.NoError(t, err)
}

func (f *engineFixture) stake(t *testing.T, owner [20]byte, amount uint64) *Receipt {
	t.Helper()
	f.credit(owner, "STK", amount)
	receipt, err := f.execute(Request{Operation: OpStake, Caller: owner, AmountRaw: amount})
	require.NoError(t, err)
	return receipt
}

func TestInitialize(t *testing.T) {
	f := newEngineFixture(t, nil)
	cfg, err := f.engine.Config(f.state)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.Version)
	require.Equal(t, "STK", cfg.StakeToken)
	require.Equal(t, "RWD", cfg.RewardToken)
	require.Equal(t, testStart.Unix(), cfg.UpdatedAt)
	require.Len(t, f.state.events, 1)
	require.Equal(t, "staking.initialized", f.state.events[0].Type)

	_, err = f.execute(Request{Operation: OpInitialize, Caller: testAdmin, Genesis: cfg})
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeValidation(t *testing.T) {
	engine := NewEngine(clockwork.NewFakeClockAt(testStart), nil)
	genesis := &ProgramConfig{Admin: testAdmin, RatePerSecondEncoded: 12, Decimals: 9, StakeToken: "STK", RewardToken: "RWD"}

	_, err := engine.Execute(newMockEngineState(), Request{ID: "a", Operation: OpInitialize, Caller: testOwner, Genesis: genesis})
	require.ErrorIs(t, err, ErrUnauthorized)

	bad := genesis.Clone()
	bad.RatePerSecondEncoded = 0
	_, err = engine.Execute(newMockEngineState(), Request{ID: "b", Operation: OpInitialize, Caller: testAdmin, Genesis: bad})
	require.ErrorIs(t, err, ErrInvalidRate)

	bad = genesis.Clone()
	bad.Decimals = 19
	_, err = engine.Execute(newMockEngineState(), Request{ID: "c", Operation: OpInitialize, Caller: testAdmin, Genesis: bad})
	require.ErrorIs(t, err, ErrInvalidDecimals)

	st := newMockEngineState()
	receipt, err := engine.Execute(st, Request{ID: "d", Operation: OpInitialize, Caller: testAdmin, Genesis: genesis})
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, receipt.Status)
	require.Equal(t, ModelLinear, st.config.Model, "linear is the default model")
}

func TestOperationsRequireInitialization(t *testing.T) {
	engine := NewEngine(clockwork.NewFakeClockAt(testStart), nil)
	st := newMockEngineState()
	for _, op := range []Operation{OpStake, OpHarvest, OpUnstake, OpUpdateConfig, OpFundRewards} {
		_, err := engine.Execute(st, Request{ID: string(op), Operation: op, Caller: testOwner, AmountRaw: 1, Update: &ConfigUpdate{RatePerSecondEncoded: 1}})
		require.ErrorIs(t, err, ErrNotInitialized, string(op))
	}
	_, err := engine.Preview(st, testOwner)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestStakeThresholdBoundary(t *testing.T) {
	f := newEngineFixture(t, func(cfg *ProgramConfig) { cfg.StakeThresholdRaw = 100 })
	f.credit(testOwner, "STK", 1_000)

	_, err := f.execute(Request{Operation: OpStake, Caller: testOwner, AmountRaw: 99})
	var thresholdErr *ThresholdError
	require.ErrorAs(t, err, &thresholdErr)
	require.Equal(t, uint64(99), thresholdErr.AmountRaw)
	require.Equal(t, uint64(100), thresholdErr.ThresholdRaw)
	require.Nil(t, f.state.accounts[testOwner])

	receipt, err := f.execute(Request{Operation: OpStake, Caller: testOwner, AmountRaw: 100})
	require.NoError(t, err)
	require.Equal(t, uint64(100), receipt.StakedAfterRaw)
	require.Equal(t, uint64(900), f.balance(testOwner, "STK"))
	require.Equal(t, uint64(100), f.balance(f.engine.StakeVault(), "STK"))
}

func TestStakeRejectsZeroAndUnfunded(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.execute(Request{Operation: OpStake, Caller: testOwner})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.execute(Request{Operation: OpStake, Caller: testOwner, AmountRaw: 10})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Nil(t, f.state.accounts[testOwner])
}

func TestLinearHarvestScenario(t *testing.T) {
	for _, tc := range []struct {
		encoded uint32
		want    uint64
		display string
	}{
		{encoded: 12, want: 10_368_000_000, display: "10.368"},
		{encoded: 12_000, want: 10_368_000_000_000, display: "10368"},
	} {
		t.Run(fmt.Sprintf("rate-%d", tc.encoded), func(t *testing.T) {
			f := newEngineFixture(t, func(cfg *ProgramConfig) { cfg.RatePerSecondEncoded = tc.encoded })
			f.fund(t, 2*tc.want)
			f.stake(t, testOwner, scenarioStakedRaw)
			f.clock.Advance(24 * time.Hour)

			preview, err := f.engine.Preview(f.state, testOwner)
			require.NoError(t, err)
			require.Equal(t, tc.want, preview.PendingRaw)
			require.Equal(t, tc.display, preview.PendingDisplay)
			require.Equal(t, scenarioElapsed, preview.ElapsedSeconds)

			receipt, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
			require.NoError(t, err)
			require.Equal(t, tc.want, receipt.RewardRaw)
			require.Equal(t, tc.want, receipt.TotalHarvestedRaw)
			require.Equal(t, tc.want, f.balance(testOwner, "RWD"))
			require.Equal(t, tc.want, f.balance(f.engine.RewardVault(), "RWD"))

			account := f.state.accounts[testOwner]
			require.Equal(t, f.clock.Now().Unix(), account.LastHarvestTime)
			require.Equal(t, testStart.Unix(), account.StakeStartTime)

			after, err := f.engine.Preview(f.state, testOwner)
			require.NoError(t, err)
			require.Zero(t, after.PendingRaw)
		})
	}
}

func TestCompoundHarvestScenario(t *testing.T) {
	f := newEngineFixture(t, func(cfg *ProgramConfig) { cfg.Model = ModelCompound })
	f.fund(t, 100_000_000_000)
	f.stake(t, testOwner, scenarioStakedRaw)
	f.clock.Advance(24 * time.Hour)

	preview, err := f.engine.Preview(f.state, testOwner)
	require.NoError(t, err)
	require.Equal(t, ModelCompound, preview.Model)

	receipt, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
	require.NoError(t, err)
	require.Equal(t, preview.PendingRaw, receipt.RewardRaw)

	want := (math.Pow(1+1.2e-7, float64(scenarioElapsed)) - 1) * float64(scenarioStakedRaw)
	require.InDelta(t, want, float64(receipt.RewardRaw), 1e-6*want)
}

func TestHarvestBelowThresholdIsAtomic(t *testing.T) {
	f := newEngineFixture(t, func(cfg *ProgramConfig) { cfg.HarvestThresholdRaw = 10_368_000_001 })
	f.fund(t, 100_000_000_000)
	f.stake(t, testOwner, scenarioStakedRaw)
	f.clock.Advance(24 * time.Hour)
	before := f.state.snapshot()

	_, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
	var thresholdErr *ThresholdError
	require.ErrorAs(t, err, &thresholdErr)
	require.Equal(t, OpHarvest, thresholdErr.Operation)
	require.Equal(t, uint64(10_368_000_000), thresholdErr.AmountRaw)
	require.Equal(t, before, f.state)

	f.clock.Advance(time.Second)
	receipt, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
	require.NoError(t, err)
	require.Equal(t, uint64(10_368_120_000), receipt.RewardRaw)
}

func TestHarvestInsufficientRewardPool(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.fund(t, 1_000)
	f.stake(t, testOwner, scenarioStakedRaw)
	f.clock.Advance(24 * time.Hour)
	before := f.state.snapshot()

	_, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
	var poolErr *PoolError
	require.ErrorAs(t, err, &poolErr)
	require.Equal(t, uint64(1_000), poolErr.AvailableRaw)
	require.Equal(t, before, f.state)

	_, err = f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: scenarioStakedRaw})
	require.ErrorIs(t, err, ErrInsufficientRewardPool)
	require.Equal(t, before, f.state)
}

func TestHarvestNothingStaked(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
	require.ErrorIs(t, err, ErrNothingStaked)
	_, err = f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: 1})
	require.ErrorIs(t, err, ErrNothingStaked)
}

func TestTopUpKeepsAccrualWindow(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.fund(t, 100_000_000_000)
	f.stake(t, testOwner, scenarioStakedRaw)
	f.clock.Advance(12 * time.Hour)
	f.stake(t, testOwner, scenarioStakedRaw)

	account := f.state.accounts[testOwner]
	require.Equal(t, testStart.Unix(), account.LastHarvestTime)
	require.Equal(t, testStart.Unix(), account.StakeStartTime)
	require.Equal(t, 2*scenarioStakedRaw, account.StakedAmountRaw)

	f.clock.Advance(12 * time.Hour)
	preview, err := f.engine.Preview(f.state, testOwner)
	require.NoError(t, err)
	require.Equal(t, uint64(20_736_000_000), preview.PendingRaw)
}

func TestUnstakeLifecycle(t *testing.T) {
	f := newEngineFixture(t, func(cfg *ProgramConfig) { cfg.UnstakeThresholdRaw = 1_000 })
	f.fund(t, 100_000_000_000)
	f.stake(t, testOwner, scenarioStakedRaw)
	f.clock.Advance(24 * time.Hour)

	_, err := f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: scenarioStakedRaw + 1})
	var principalErr *PrincipalError
	require.ErrorAs(t, err, &principalErr)
	require.Equal(t, scenarioStakedRaw, principalErr.StakedRaw)

	_, err = f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: 999})
	require.ErrorIs(t, err, ErrBelowThreshold)

	half := scenarioStakedRaw / 2
	receipt, err := f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: half})
	require.NoError(t, err)
	require.Equal(t, uint64(10_368_000_000), receipt.RewardRaw)
	require.Equal(t, half, receipt.StakedAfterRaw)
	require.Equal(t, half, f.balance(testOwner, "STK"))
	require.Equal(t, half, f.balance(f.engine.StakeVault(), "STK"))
	require.Equal(t, uint64(10_368_000_000), f.balance(testOwner, "RWD"))

	f.clock.Advance(24 * time.Hour)
	receipt, err = f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: half})
	require.NoError(t, err)
	require.Equal(t, uint64(5_184_000_000), receipt.RewardRaw)
	require.Zero(t, receipt.StakedAfterRaw)

	account := f.state.accounts[testOwner]
	require.Equal(t, StateUnstaked, account.State())
	require.Equal(t, uint64(15_552_000_000), account.TotalHarvestedRaw)

	// A dormant account restarts its accrual window but keeps its history.
	f.clock.Advance(time.Hour)
	f.stake(t, testOwner, scenarioStakedRaw)
	account = f.state.accounts[testOwner]
	require.Equal(t, f.clock.Now().Unix(), account.LastHarvestTime)
	require.Equal(t, f.clock.Now().Unix(), account.StakeStartTime)
	require.Equal(t, uint64(15_552_000_000), account.TotalHarvestedRaw)
}

func TestForfeitUnstakeRecoversPrincipalAfterOverflow(t *testing.T) {
	const staked = uint64(1_000_000_000_000_000_000)
	f := newEngineFixture(t, func(cfg *ProgramConfig) { cfg.RatePerSecondEncoded = MaxEncodedRate })
	f.stake(t, testOwner, staked)
	f.clock.Advance(2 * time.Hour)

	before := f.state.snapshot()
	_, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
	require.ErrorIs(t, err, ErrOverflow)
	_, err = f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: staked})
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, before, f.state)

	receipt, err := f.execute(Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: staked, ForfeitReward: true})
	require.NoError(t, err)
	require.Equal(t, ForfeitOverflow, receipt.ForfeitReason)
	require.Zero(t, receipt.ForfeitedRaw)
	require.Zero(t, receipt.RewardRaw)
	require.Zero(t, receipt.StakedAfterRaw)
	require.Equal(t, staked, f.balance(testOwner, "STK"))
	require.Zero(t, f.balance(f.engine.StakeVault(), "STK"))

	account := f.state.accounts[testOwner]
	require.Equal(t, StateUnstaked, account.State())
	require.Zero(t, account.TotalHarvestedRaw)

	evt := f.state.events[len(f.state.events)-1]
	require.Equal(t, ForfeitOverflow, evt.Attributes["forfeitReason"])
	require.Equal(t, "0", evt.Attributes["forfeited"])
}

func TestForfeitUnstakeWithEmptyRewardPool(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.stake(t, testOwner, scenarioStakedRaw)
	f.clock.Advance(24 * time.Hour)

	half := scenarioStakedRaw / 2
	_, err := f.execute(Request{ID: "unstake-1", Operation: OpUnstake, Caller: testOwner, AmountRaw: half})
	require.ErrorIs(t, err, ErrInsufficientRewardPool)

	req := Request{ID: "unstake-1", Operation: OpUnstake, Caller: testOwner, AmountRaw: half, ForfeitReward: true}
	receipt, err := f.execute(req)
	require.NoError(t, err)
	require.Equal(t, ForfeitRequested, receipt.ForfeitReason)
	require.Equal(t, uint64(10_368_000_000), receipt.ForfeitedRaw)
	require.Zero(t, receipt.RewardRaw)
	require.Equal(t, half, receipt.StakedAfterRaw)
	require.Equal(t, half, f.balance(testOwner, "STK"))
	require.Zero(t, f.balance(testOwner, "RWD"))

	// The accrual window restarts at the forfeit.
	account := f.state.accounts[testOwner]
	require.Equal(t, f.clock.Now().Unix(), account.LastHarvestTime)
	preview, err := f.engine.Preview(f.state, testOwner)
	require.NoError(t, err)
	require.Zero(t, preview.PendingRaw)

	// The flag is part of the fingerprint.
	replay, err := f.execute(req)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadySettled, replay.Status)
	require.Equal(t, ForfeitRequested, replay.ForfeitReason)
	req.ForfeitReward = false
	_, err = f.execute(req)
	require.ErrorIs(t, err, ErrSettlementConflict)
}

func TestSettlementReplay(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.credit(testOwner, "STK", 1_000)

	req := Request{ID: "stake-1", Operation: OpStake, Caller: testOwner, AmountRaw: 400}
	first, err := f.execute(req)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, first.Status)

	f.clock.Advance(time.Minute)
	replay, err := f.execute(req)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadySettled, replay.Status)
	require.Equal(t, first.SettledAt, replay.SettledAt)
	require.Equal(t, uint64(600), f.balance(testOwner, "STK"))
	require.Equal(t, uint64(400), f.state.accounts[testOwner].StakedAmountRaw)

	req.AmountRaw = 500
	_, err = f.execute(req)
	require.ErrorIs(t, err, ErrSettlementConflict)

	_, err = f.engine.Execute(f.state, Request{ID: "  ", Operation: OpStake, Caller: testOwner, AmountRaw: 1})
	require.ErrorIs(t, err, ErrInvalidSettlementID)
}

func TestFailedSettlementCanBeRetried(t *testing.T) {
	f := newEngineFixture(t, nil)
	req := Request{ID: "stake-retry", Operation: OpStake, Caller: testOwner, AmountRaw: 400}
	_, err := f.execute(req)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	f.credit(testOwner, "STK", 400)
	receipt, err := f.execute(req)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, receipt.Status)
}

func TestUpdateConfig(t *testing.T) {
	f := newEngineFixture(t, nil)
	update := &ConfigUpdate{RatePerSecondEncoded: 12_000, HarvestThresholdRaw: 5, StakeThresholdRaw: 6, UnstakeThresholdRaw: 7}

	_, err := f.execute(Request{Operation: OpUpdateConfig, Caller: testOwner, Update: update})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.execute(Request{Operation: OpUpdateConfig, Caller: testAdmin, Update: &ConfigUpdate{RatePerSecondEncoded: MaxEncodedRate + 1}})
	require.ErrorIs(t, err, ErrInvalidRate)
	require.Equal(t, uint64(1), f.state.config.Version)

	_, err = f.execute(Request{Operation: OpUpdateConfig, Caller: testAdmin, Update: update, Genesis: &ProgramConfig{Model: ModelCompound}})
	require.ErrorIs(t, err, ErrImmutableModel)

	f.clock.Advance(time.Minute)
	receipt, err := f.execute(Request{Operation: OpUpdateConfig, Caller: testAdmin, Update: update})
	require.NoError(t, err)
	require.Equal(t, uint64(2), receipt.ConfigVersion)

	cfg := f.state.config
	require.Equal(t, uint32(12_000), cfg.RatePerSecondEncoded)
	require.Equal(t, uint64(5), cfg.HarvestThresholdRaw)
	require.Equal(t, uint64(6), cfg.StakeThresholdRaw)
	require.Equal(t, uint64(7), cfg.UnstakeThresholdRaw)
	require.Equal(t, ModelLinear, cfg.Model)
	require.Equal(t, f.clock.Now().Unix(), cfg.UpdatedAt)
	require.Equal(t, "staking.configUpdated", f.state.events[len(f.state.events)-1].Type)
}

func TestClockSkewNeverRewindsHarvestTime(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.fund(t, 1_000_000)
	f.stake(t, testOwner, scenarioStakedRaw)

	future := testStart.Unix() + 3_600
	f.state.accounts[testOwner].LastHarvestTime = future

	preview, err := f.engine.Preview(f.state, testOwner)
	require.NoError(t, err)
	require.Zero(t, preview.ElapsedSeconds)
	require.Zero(t, preview.PendingRaw)

	receipt, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
	require.NoError(t, err)
	require.Zero(t, receipt.RewardRaw)
	require.Equal(t, future, f.state.accounts[testOwner].LastHarvestTime)
}

func TestAccountReadForUnknownOwner(t *testing.T) {
	f := newEngineFixture(t, nil)
	account, err := f.engine.Account(f.state, testOwner)
	require.NoError(t, err)
	require.Equal(t, testOwner, account.Owner)
	require.Equal(t, StateUnstaked, account.State())

	preview, err := f.engine.Preview(f.state, testOwner)
	require.NoError(t, err)
	require.Zero(t, preview.PendingRaw)
	require.Equal(t, "0", preview.PendingDisplay)
}

func TestLedgerProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("harvest totals never decrease and principal is conserved", prop.ForAll(
		func(steps []uint32) bool {
			f := newEngineFixture(t, func(cfg *ProgramConfig) {
				cfg.RatePerSecondEncoded = 12_000
				cfg.StakeThresholdRaw = 10
			})
			f.credit(testAdmin, "RWD", math.MaxUint32*1_000_000)
			if _, err := f.execute(Request{Operation: OpFundRewards, Caller: testAdmin, AmountRaw: math.MaxUint32 * 1_000_000}); err != nil {
				return false
			}
			f.credit(testOwner, "STK", math.MaxUint32*uint64(len(steps)+1))

			var staked, harvested uint64
			for _, step := range steps {
				f.clock.Advance(time.Duration(step%5_000) * time.Second)
				var req Request
				switch step % 3 {
				case 0:
					req = Request{Operation: OpStake, Caller: testOwner, AmountRaw: uint64(step)}
				case 1:
					req = Request{Operation: OpHarvest, Caller: testOwner}
				default:
					req = Request{Operation: OpUnstake, Caller: testOwner, AmountRaw: uint64(step) % (staked + 1)}
				}
				receipt, err := f.execute(req)
				if err != nil {
					if errors.Is(err, ErrBelowThreshold) || errors.Is(err, ErrInvalidAmount) ||
						errors.Is(err, ErrNothingStaked) || errors.Is(err, ErrInsufficientPrincipal) {
						continue
					}
					return false
				}
				if receipt.TotalHarvestedRaw < harvested {
					return false
				}
				harvested = receipt.TotalHarvestedRaw
				staked = receipt.StakedAfterRaw
				if f.balance(f.engine.StakeVault(), "STK") != staked {
					return false
				}
			}
			return f.state.accounts[testOwner] == nil || f.state.accounts[testOwner].StakedAmountRaw == staked
		},
		gen.SliceOfN(20, gen.UInt32Range(0, 1_000_000)),
	))

	properties.Property("preview equals settlement at the same instant", prop.ForAll(
		func(amount uint64, elapsed uint32, compound bool) bool {
			f := newEngineFixture(t, func(cfg *ProgramConfig) {
				cfg.RatePerSecondEncoded = 1_200
				if compound {
					cfg.Model = ModelCompound
				}
			})
			f.credit(testAdmin, "RWD", math.MaxUint64)
			if _, err := f.execute(Request{Operation: OpFundRewards, Caller: testAdmin, AmountRaw: math.MaxUint64}); err != nil {
				return false
			}
			f.stake(t, testOwner, amount)
			f.clock.Advance(time.Duration(elapsed) * time.Second)
			preview, err := f.engine.Preview(f.state, testOwner)
			if err != nil {
				return false
			}
			receipt, err := f.execute(Request{Operation: OpHarvest, Caller: testOwner})
			return err == nil && receipt.RewardRaw == preview.PendingRaw
		},
		gen.UInt64Range(1, 1_000_000_000_000),
		gen.UInt32Range(0, 86_400),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
