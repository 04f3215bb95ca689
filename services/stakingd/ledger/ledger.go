// Package ledger is the settlement authority of the staking daemon. It owns
// the only write path into the state database: every settlement runs under
// one writer lock, executes against a fresh journal, and commits atomically.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"yieldstake/config"
	"yieldstake/core/events"
	"yieldstake/core/state"
	"yieldstake/core/types"
	"yieldstake/crypto"
	"yieldstake/native/staking"
	"yieldstake/observability"
	"yieldstake/observability/metrics"
)

// GenesisSettlementID identifies the Initialize settlement applied by Bootstrap.
const GenesisSettlementID = "genesis"

// History indexes committed receipts for account history reads.
type History interface {
	Record(ctx context.Context, receipt *staking.Receipt) error
	ListByOwner(ctx context.Context, owner [20]byte, limit int) ([]*staking.Receipt, error)
}

var ErrHistoryDisabled = errors.New("ledger: history index not configured")

type Options struct {
	Engine  *staking.Engine
	State   *state.Manager
	History History
	Emitter events.Emitter
	Logger  *slog.Logger
	Metrics *metrics.StakingMetrics
}

type Ledger struct {
	mu      sync.RWMutex
	group   singleflight.Group
	engine  *staking.Engine
	state   *state.Manager
	history History
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.StakingMetrics
}

func New(opts Options) (*Ledger, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("ledger: engine required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("ledger: state manager required")
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NoopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{
		engine:  opts.Engine,
		state:   opts.State,
		history: opts.History,
		emitter: opts.Emitter,
		logger:  opts.Logger.With(slog.String("component", "ledger")),
		metrics: opts.Metrics,
	}, nil
}

// Bootstrap initializes the program from genesis and seeds the genesis
// balances in the same commit. An already initialized ledger is left as is.
func (l *Ledger) Bootstrap(ctx context.Context, genesis *config.Genesis) error {
	if genesis == nil {
		return fmt.Errorf("ledger: genesis required")
	}
	cfg, err := genesis.ProgramConfig()
	if err != nil {
		return fmt.Errorf("ledger: genesis config: %w", err)
	}
	balances, err := genesis.Balances()
	if err != nil {
		return fmt.Errorf("ledger: genesis balances: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.state.ProgramConfig()
	if err != nil {
		return err
	}
	if existing != nil {
		l.logger.Info("program already initialized", slog.Uint64("config_version", existing.Version))
		return nil
	}

	journal := l.state.Journal()
	for _, balance := range balances {
		current, err := journal.TokenBalance(balance.Address, balance.Token)
		if err != nil {
			journal.Discard()
			return err
		}
		if current+balance.AmountRaw < current {
			journal.Discard()
			return fmt.Errorf("ledger: genesis allocation overflows %s balance", balance.Token)
		}
		if err := journal.SetTokenBalance(balance.Address, balance.Token, current+balance.AmountRaw); err != nil {
			journal.Discard()
			return err
		}
	}
	receipt, err := l.engine.Execute(journal, staking.Request{
		ID:        GenesisSettlementID,
		Operation: staking.OpInitialize,
		Caller:    cfg.Admin,
		Genesis:   cfg,
	})
	if err != nil {
		journal.Discard()
		return fmt.Errorf("ledger: initialize: %w", err)
	}
	if err := ctx.Err(); err != nil {
		journal.Discard()
		return err
	}
	evts := journal.Events()
	if err := journal.Commit(); err != nil {
		return err
	}
	l.afterCommit(ctx, receipt, evts)
	l.logger.Info("program initialized",
		slog.String("admin", ownerString(cfg.Admin)),
		slog.String("model", cfg.Model.String()),
		slog.Int("allocations", len(balances)))
	return nil
}

// Settle executes req exactly once. Concurrent submissions of the same
// request collapse into one execution; a resubmission after commit returns
// the stored receipt with status AlreadySettled. A caller whose own context is
// still live does not inherit another caller's cancellation.
func (l *Ledger) Settle(ctx context.Context, req staking.Request) (*staking.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fingerprint := staking.Fingerprint(req)
	key := req.ID + "/" + hex.EncodeToString(fingerprint[:])
	run := func() (interface{}, error) {
		return l.settle(ctx, req)
	}
	result, err, shared := l.group.Do(key, run)
	if shared && isContextErr(err) && ctx.Err() == nil {
		// The execution we joined was cancelled by another caller's context.
		result, err, _ = l.group.Do(key, run)
	}
	if err != nil {
		return nil, err
	}
	return result.(*staking.Receipt).Clone(), nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (l *Ledger) settle(ctx context.Context, req staking.Request) (*staking.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	op := string(req.Operation)
	journal := l.state.Journal()
	receipt, err := l.engine.Execute(journal, req)
	if err != nil {
		journal.Discard()
		code := staking.ErrorCode(err)
		l.metrics.ObserveRejection(op, code)
		level := slog.LevelWarn
		if code == "internal" || code == "overflow" {
			level = slog.LevelError
		}
		l.logger.Log(ctx, level, "settlement rejected",
			slog.String("settlement_id", req.ID),
			slog.String("operation", op),
			slog.String("owner", ownerString(req.Caller)),
			slog.String("reason", code),
			slog.Any("error", err))
		return nil, err
	}
	if receipt.Status == staking.StatusAlreadySettled {
		journal.Discard()
		l.metrics.ObserveSettlement(op, string(receipt.Status), time.Since(start).Seconds())
		l.logger.Info("settlement replayed",
			slog.String("settlement_id", req.ID),
			slog.String("operation", op))
		return receipt, nil
	}
	if err := ctx.Err(); err != nil {
		journal.Discard()
		return nil, err
	}
	evts := journal.Events()
	if err := journal.Commit(); err != nil {
		l.logger.Error("settlement commit failed",
			slog.String("settlement_id", req.ID),
			slog.String("operation", op),
			slog.Any("error", err))
		return nil, err
	}
	l.metrics.ObserveSettlement(op, string(receipt.Status), time.Since(start).Seconds())
	l.afterCommit(ctx, receipt, evts)
	return receipt, nil
}

// afterCommit runs the side effects of a committed settlement. None of them
// can undo the commit; failures are logged.
func (l *Ledger) afterCommit(ctx context.Context, receipt *staking.Receipt, evts []*types.Event) {
	if l.history != nil {
		if err := l.history.Record(context.WithoutCancel(ctx), receipt); err != nil {
			l.logger.Warn("history index write failed",
				slog.String("settlement_id", receipt.ID),
				slog.Any("error", err))
		}
	}
	l.metrics.AddRewardsPaid(receipt.RewardRaw)
	l.refreshVaultGauges()
	for _, evt := range evts {
		observability.Events().RecordEvent(evt.EventType())
		l.emitter.Emit(evt)
	}
	l.logger.Info("settlement committed",
		slog.String("settlement_id", receipt.ID),
		slog.String("operation", string(receipt.Operation)),
		slog.String("owner", ownerString(receipt.Owner)),
		slog.Uint64("amount_raw", receipt.AmountRaw),
		slog.Uint64("reward_raw", receipt.RewardRaw),
		slog.Uint64("staked_after_raw", receipt.StakedAfterRaw),
		slog.Uint64("config_version", receipt.ConfigVersion))
}

func (l *Ledger) refreshVaultGauges() {
	if l.metrics == nil {
		return
	}
	cfg, err := l.state.ProgramConfig()
	if err != nil || cfg == nil {
		return
	}
	staked, err := l.state.TokenBalance(l.engine.StakeVault(), cfg.StakeToken)
	if err != nil {
		return
	}
	rewards, err := l.state.TokenBalance(l.engine.RewardVault(), cfg.RewardToken)
	if err != nil {
		return
	}
	l.metrics.SetVaults(staked, rewards)
}

// ReindexHistory replays every stored receipt into the history index. The
// index ignores receipts it already holds, so this is safe to run at any time.
func (l *Ledger) ReindexHistory(ctx context.Context) (int, error) {
	if l.history == nil {
		return 0, ErrHistoryDisabled
	}
	l.mu.RLock()
	var receipts []*staking.Receipt
	err := l.state.Receipts(func(receipt *staking.Receipt) bool {
		receipts = append(receipts, receipt)
		return true
	})
	l.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	for i, receipt := range receipts {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := l.history.Record(ctx, receipt); err != nil {
			return i, fmt.Errorf("ledger: reindex %s: %w", receipt.ID, err)
		}
	}
	l.logger.Info("history reindexed", slog.Int("receipts", len(receipts)))
	return len(receipts), nil
}

// Config returns the current program configuration.
func (l *Ledger) Config(ctx context.Context) (*staking.ProgramConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.engine.Config(l.state.Journal())
}

// Account returns the owner's staking record; owners that never staked get
// an empty unstaked record.
func (l *Ledger) Account(ctx context.Context, owner [20]byte) (*staking.StakingAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.engine.Account(l.state.Journal(), owner)
}

// Preview computes the pending reward at the current time. It never writes.
func (l *Ledger) Preview(ctx context.Context, owner [20]byte) (*staking.RewardPreview, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.engine.Preview(l.state.Journal(), owner)
}

// Balance returns a token balance; vault balances are readable the same way.
func (l *Ledger) Balance(ctx context.Context, addr [20]byte, token string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.TokenBalance(addr, token)
}

// Receipt returns a stored settlement receipt, or nil when id is unknown.
func (l *Ledger) Receipt(ctx context.Context, id string) (*staking.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Receipt(id)
}

// History lists the owner's settlements newest first.
func (l *Ledger) History(ctx context.Context, owner [20]byte, limit int) ([]*staking.Receipt, error) {
	if l.history == nil {
		return nil, ErrHistoryDisabled
	}
	return l.history.ListByOwner(ctx, owner, limit)
}

// StakeVault and RewardVault expose the program vault addresses.
func (l *Ledger) StakeVault() [20]byte  { return l.engine.StakeVault() }
func (l *Ledger) RewardVault() [20]byte { return l.engine.RewardVault() }

func ownerString(addr [20]byte) string {
	return crypto.AddressFromArray(crypto.OwnerPrefix, addr).String()
}
